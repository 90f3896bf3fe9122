package mediagraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EncoderConfig configures a hardware encoder channel.
type EncoderConfig struct {
	ChannelID   int             // Encoder channel index
	Width       int             // Input image width
	Height      int             // Input image height
	VirWidth    int             // Aligned input width (0 = Width)
	VirHeight   int             // Aligned input height (0 = Height)
	Format      PixelFormat     // Input pixel format
	Codec       CodecType       // Target codec
	FPS         int             // Target frame rate
	GOP         int             // Keyframe interval in frames
	BitrateKbps int             // Target bitrate
	RateControl RateControlMode // Rate control mode
	Profile     int             // Codec profile (H.264: 66/77/100)
	BufCount    int             // Output stream buffer count
	JPEGQuality int             // JPEG quality factor 1..99

	// AcquireTimeout bounds each stream acquisition attempt. Zero picks
	// the codec default: 100ms, or 200ms for single-shot JPEG.
	AcquireTimeout time.Duration

	Logger *slog.Logger
}

// DefaultEncoderConfig returns a 1080p30 H.264 CBR configuration.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		Width:       1920,
		Height:      1080,
		Format:      PixelFormatNV12,
		Codec:       CodecH264,
		FPS:         30,
		GOP:         60,
		BitrateKbps: 4000,
		RateControl: RateControlCBR,
		Profile:     100,
		BufCount:    4,
		JPEGQuality: 80,
	}
}

// EncoderStats counts stream-loop activity.
type EncoderStats struct {
	FramesIn  uint64 // Raw frames submitted
	FramesOut uint64 // Encoded frames delivered
	BytesOut  uint64 // Encoded bytes delivered
	Keyframes uint64 // Keyframes delivered
}

// VideoEncoder wraps one hardware encoder channel.
//
// Raw frames enter either through a hardware binding to the capture unit
// or through PushFrame; encoded frames leave through the output callback
// installed before Start.
type VideoEncoder struct {
	moduleBase
	cfg    EncoderConfig
	driver EncoderDriver

	created bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	bytesOut  atomic.Uint64
	keyframes atomic.Uint64
}

// NewVideoEncoder creates the encoder module over the given driver.
func NewVideoEncoder(cfg EncoderConfig, driver EncoderDriver) *VideoEncoder {
	if cfg.VirWidth == 0 {
		cfg.VirWidth = cfg.Width
	}
	if cfg.VirHeight == 0 {
		cfg.VirHeight = cfg.Height
	}
	if cfg.AcquireTimeout <= 0 {
		if cfg.Codec == CodecJPEG {
			cfg.AcquireTimeout = 200 * time.Millisecond
		} else {
			cfg.AcquireTimeout = 100 * time.Millisecond
		}
	}
	return &VideoEncoder{
		moduleBase: newModuleBase("VideoEncoder", KindEncoder, cfg.Logger),
		cfg:        cfg,
		driver:     driver,
	}
}

// Config returns the encoder configuration.
func (e *VideoEncoder) Config() EncoderConfig { return e.cfg }

// Endpoint returns the encoder channel's hardware data port.
func (e *VideoEncoder) Endpoint() Endpoint {
	return Endpoint{Subsystem: SubsystemVENC, Device: 0, Channel: e.cfg.ChannelID}
}

// Initialize creates the encoder channel. Idempotent once past
// Uninitialized; a failed creation moves the module to StateError. For
// stream codecs the channel is armed to receive frames continuously;
// single-shot JPEG arms per request via StartRecvFrame.
func (e *VideoEncoder) Initialize() error {
	if e.State() != StateUninitialized {
		e.logger.Warn("already initialized")
		return nil
	}

	e.logger.Info("creating encoder channel",
		"channel", e.cfg.ChannelID, "codec", e.cfg.Codec.String(),
		"width", e.cfg.Width, "height", e.cfg.Height,
		"bitrate_kbps", e.cfg.BitrateKbps, "rc", e.cfg.RateControl.String())

	if err := e.driver.VENCCreateChannel(e.cfg); err != nil {
		e.setState(StateError)
		return fmt.Errorf("encoder: create channel: %w", err)
	}
	e.created = true

	if e.cfg.Codec != CodecJPEG {
		if err := e.driver.VENCStartRecv(e.cfg.ChannelID, -1); err != nil {
			e.driver.VENCDestroyChannel(e.cfg.ChannelID)
			e.created = false
			e.setState(StateError)
			return fmt.Errorf("encoder: start recv: %w", err)
		}
	}

	e.setState(StateInitialized)
	e.logger.Info("encoder channel created")
	return nil
}

// Start spawns the stream acquisition loop. Valid only from Initialized
// or Stopped.
func (e *VideoEncoder) Start() error {
	if s := e.State(); s != StateInitialized && s != StateStopped {
		e.logger.Error("not in a startable state", "state", s.String())
		return fmt.Errorf("encoder start from %s: %w", s, ErrInvalidState)
	}

	cb := e.outputCallback()
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.setState(StateRunning)

	e.wg.Add(1)
	go e.streamLoop(ctx, cb)

	e.logger.Info("encoder started")
	return nil
}

// Stop halts the stream loop and blocks until it has exited. No-op
// unless Running.
func (e *VideoEncoder) Stop() {
	if e.State() != StateRunning {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.setState(StateStopped)
	e.logger.Info("encoder stopped")
}

// streamLoop drains encoded streams from the channel and hands them to
// the callback. Timeouts are routine; hard errors are logged and the
// loop continues.
func (e *VideoEncoder) streamLoop(ctx context.Context, cb FrameCallback) {
	defer e.wg.Done()
	e.logger.Debug("stream loop started")

	channel := e.cfg.ChannelID
	for ctx.Err() == nil {
		stream, err := e.driver.VENCAcquireStream(channel, e.cfg.AcquireTimeout)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				e.logger.Warn("stream acquire failed", "err", err)
			}
			continue
		}

		frame := NewEncodedFrame(stream, func(si *StreamInfo) {
			if err := e.driver.VENCReleaseStream(channel, si); err != nil {
				e.logger.Warn("stream release failed", "err", err)
			}
		})

		e.framesOut.Add(1)
		e.bytesOut.Add(uint64(frame.Size()))
		if frame.IsKeyFrame() {
			e.keyframes.Add(1)
		}
		e.emit(cb, EncodedMediaFrame(&frame))
	}

	e.logger.Debug("stream loop exited")
}

// PushFrame submits a raw frame to the encoder. The frame is borrowed
// for the duration of the call; the caller keeps ownership. Only legal
// while Running.
func (e *VideoEncoder) PushFrame(frame MediaFrame) error {
	if e.State() != StateRunning {
		return fmt.Errorf("encoder push from %s: %w", e.State(), ErrInvalidState)
	}

	raw, ok := frame.Raw()
	if !ok {
		return fmt.Errorf("encoder push: encoded input: %w", ErrNotSupported)
	}
	info := raw.Info()
	if info == nil {
		return fmt.Errorf("encoder push: invalid frame")
	}

	// JPEG snapshots follow the input geometry frame by frame.
	if e.cfg.Codec == CodecJPEG {
		if err := e.driver.VENCSetResolution(e.cfg.ChannelID,
			info.Width, info.Height, info.VirWidth, info.VirHeight); err != nil {
			return fmt.Errorf("encoder push: set resolution: %w", err)
		}
	}

	if err := e.driver.VENCSendFrame(e.cfg.ChannelID, info, time.Second); err != nil {
		return fmt.Errorf("encoder push: send frame: %w", err)
	}
	e.framesIn.Add(1)
	return nil
}

// RequestIDR asks the channel to emit a keyframe as soon as possible.
func (e *VideoEncoder) RequestIDR() error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder request idr: %w", ErrInvalidState)
	}
	if err := e.driver.VENCRequestIDR(e.cfg.ChannelID); err != nil {
		return fmt.Errorf("encoder request idr: %w", err)
	}
	e.logger.Debug("idr requested")
	return nil
}

// SetBitrate retunes the channel's target bitrate at runtime.
func (e *VideoEncoder) SetBitrate(bitrateKbps int) error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder set bitrate: %w", ErrInvalidState)
	}
	if err := e.driver.VENCSetBitrate(e.cfg.ChannelID, bitrateKbps); err != nil {
		return fmt.Errorf("encoder set bitrate: %w", err)
	}
	e.cfg.BitrateKbps = bitrateKbps
	e.logger.Info("bitrate set", "bitrate_kbps", bitrateKbps)
	return nil
}

// SetFrameRate retunes the channel's target frame rate at runtime.
func (e *VideoEncoder) SetFrameRate(fps int) error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder set frame rate: %w", ErrInvalidState)
	}
	if err := e.driver.VENCSetFrameRate(e.cfg.ChannelID, fps); err != nil {
		return fmt.Errorf("encoder set frame rate: %w", err)
	}
	e.cfg.FPS = fps
	e.logger.Info("frame rate set", "fps", fps)
	return nil
}

// SetJPEGQuality retunes the JPEG quality factor. Only meaningful for
// JPEG/MJPEG channels.
func (e *VideoEncoder) SetJPEGQuality(quality int) error {
	if e.cfg.Codec != CodecJPEG && e.cfg.Codec != CodecMJPEG {
		return fmt.Errorf("encoder set jpeg quality on %s: %w", e.cfg.Codec, ErrNotSupported)
	}
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder set jpeg quality: %w", ErrInvalidState)
	}
	if err := e.driver.VENCSetJPEGQuality(e.cfg.ChannelID, quality); err != nil {
		return fmt.Errorf("encoder set jpeg quality: %w", err)
	}
	e.cfg.JPEGQuality = quality
	e.logger.Info("jpeg quality set", "quality", quality)
	return nil
}

// StartRecvFrame arms the channel to encode the next count frames.
// Used for single-shot JPEG capture; count -1 means continuous.
func (e *VideoEncoder) StartRecvFrame(count int) error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder start recv: %w", ErrInvalidState)
	}
	if err := e.driver.VENCStartRecv(e.cfg.ChannelID, count); err != nil {
		return fmt.Errorf("encoder start recv: %w", err)
	}
	return nil
}

// StopRecvFrame disarms the channel.
func (e *VideoEncoder) StopRecvFrame() error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("encoder stop recv: %w", ErrInvalidState)
	}
	if err := e.driver.VENCStopRecv(e.cfg.ChannelID); err != nil {
		return fmt.Errorf("encoder stop recv: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the encoder counters.
func (e *VideoEncoder) Stats() EncoderStats {
	return EncoderStats{
		FramesIn:  e.framesIn.Load(),
		FramesOut: e.framesOut.Load(),
		BytesOut:  e.bytesOut.Load(),
		Keyframes: e.keyframes.Load(),
	}
}

// Close stops the module and destroys the encoder channel.
func (e *VideoEncoder) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.Stop()

	if e.created {
		if e.cfg.Codec != CodecJPEG {
			if err := e.driver.VENCStopRecv(e.cfg.ChannelID); err != nil {
				e.logger.Warn("stop recv failed", "err", err)
			}
		}
		if err := e.driver.VENCDestroyChannel(e.cfg.ChannelID); err != nil {
			e.logger.Warn("channel destroy failed", "err", err)
		}
		e.created = false
	}

	e.logger.Info("encoder resources released",
		"frames_in", e.framesIn.Load(), "frames_out", e.framesOut.Load())
	return nil
}
