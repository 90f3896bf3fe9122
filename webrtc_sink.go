package mediagraph

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// WebRTCSinkConfig configures the WebRTC track sink.
type WebRTCSinkConfig struct {
	// TrackID and StreamID name the local track in SDP. Empty picks
	// "video" / "mediagraph".
	TrackID  string
	StreamID string

	// SSRC identifies the stream; zero picks a random value.
	SSRC uint32

	// PayloadType is the RTP payload type. Zero means 96.
	PayloadType uint8

	// MTU caps packet size. Zero means 1200.
	MTU int

	Logger *slog.Logger
}

// DefaultWebRTCSinkConfig returns an H.264 track configuration.
func DefaultWebRTCSinkConfig() WebRTCSinkConfig {
	return WebRTCSinkConfig{
		TrackID:     "video",
		StreamID:    "mediagraph",
		PayloadType: 96,
		MTU:         1200,
	}
}

// WebRTCSink is a sink module feeding H.264 frames into a local WebRTC
// track. Attach Track() to a peer connection with AddTrack; frames
// pushed into the sink are packetized and written to every subscribed
// peer.
type WebRTCSink struct {
	moduleBase
	cfg        WebRTCSinkConfig
	track      *webrtc.TrackLocalStaticRTP
	packetizer *h264Packetizer

	framesSent atomic.Uint64
}

// NewWebRTCSink creates the sink and its local track.
func NewWebRTCSink(cfg WebRTCSinkConfig) (*WebRTCSink, error) {
	if cfg.TrackID == "" {
		cfg.TrackID = "video"
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "mediagraph"
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = 96
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1200
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		cfg.TrackID, cfg.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("webrtc sink: create track: %w", err)
	}

	return &WebRTCSink{
		moduleBase: newModuleBase("WebRTCSink", KindSink, cfg.Logger),
		cfg:        cfg,
		track:      track,
		packetizer: newH264Packetizer(cfg.SSRC, cfg.PayloadType, cfg.MTU),
	}, nil
}

// Track returns the local track for webrtc.PeerConnection.AddTrack.
func (w *WebRTCSink) Track() *webrtc.TrackLocalStaticRTP { return w.track }

// Initialize is a no-op beyond the state transition: the track exists
// from construction.
func (w *WebRTCSink) Initialize() error {
	if w.State() != StateUninitialized {
		w.logger.Warn("already initialized")
		return nil
	}
	w.setState(StateInitialized)
	w.logger.Info("webrtc sink initialized", "track", w.cfg.TrackID)
	return nil
}

// Start makes the sink accept frames.
func (w *WebRTCSink) Start() error {
	if s := w.State(); s != StateInitialized && s != StateStopped {
		return fmt.Errorf("webrtc sink start from %s: %w", s, ErrInvalidState)
	}
	w.setState(StateRunning)
	w.logger.Info("webrtc sink started")
	return nil
}

// Stop stops accepting frames.
func (w *WebRTCSink) Stop() {
	if w.State() != StateRunning {
		return
	}
	w.setState(StateStopped)
	w.logger.Info("webrtc sink stopped")
}

// PushFrame packetizes one encoded frame and writes it to the track.
// Writes to a track with no subscribed peers are discarded by pion, so
// pushing before a viewer connects is harmless.
func (w *WebRTCSink) PushFrame(frame MediaFrame) error {
	if w.State() != StateRunning {
		return fmt.Errorf("webrtc sink push from %s: %w", w.State(), ErrInvalidState)
	}
	enc, ok := frame.Encoded()
	if !ok {
		return fmt.Errorf("webrtc sink push: raw input: %w", ErrNotSupported)
	}
	if !enc.IsValid() {
		return fmt.Errorf("webrtc sink push: invalid frame")
	}

	packets, err := w.packetizer.packetize(enc.Bytes(), rtpTimestamp(enc.PTS()))
	if err != nil {
		return fmt.Errorf("webrtc sink push: %w", err)
	}
	for _, pkt := range packets {
		if err := w.track.WriteRTP(pkt); err != nil {
			return fmt.Errorf("webrtc sink push: write rtp: %w", err)
		}
	}

	w.framesSent.Add(1)
	return nil
}

// FramesSent returns the number of frames written to the track.
func (w *WebRTCSink) FramesSent() uint64 { return w.framesSent.Load() }

// SetOutputCallback is not supported: the sink is terminal.
func (w *WebRTCSink) SetOutputCallback(FrameCallback) error { return ErrNotSupported }

// Close stops the sink. The track is left to the owning peer
// connections to tear down.
func (w *WebRTCSink) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.Stop()
	w.logger.Info("webrtc sink closed", "frames", w.framesSent.Load())
	return nil
}
