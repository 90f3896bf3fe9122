package mediagraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CaptureConfig configures the VideoCapture source module.
type CaptureConfig struct {
	CamID     int         // Sensor/camera index
	Width     int         // Output image width
	Height    int         // Output image height
	IQPath    string      // ISP tuning file directory
	DevName   string      // V4L2 entity name
	Format    PixelFormat // Output pixel format
	BufCount  int         // Capture buffer count
	Depth     int         // User frame queue depth
	HDRMode   HDRMode     // Sensor HDR mode
	MultiCam  bool        // Multi-sensor mode
	PipeID    int         // Capture pipe index
	ChannelID int         // Capture channel index

	// AcquireTimeout bounds each acquisition attempt, which also bounds
	// Stop latency. Zero means 100ms.
	AcquireTimeout time.Duration

	Logger *slog.Logger
}

// DefaultCaptureConfig returns a 1080p NV12 capture configuration.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Width:          1920,
		Height:         1080,
		IQPath:         "/etc/iqfiles",
		DevName:        "/dev/video11",
		Format:         PixelFormatNV12,
		BufCount:       3,
		Depth:          2,
		AcquireTimeout: 100 * time.Millisecond,
	}
}

// VideoCapture is the source module wrapping the ISP and capture unit.
//
// It supports two modes: polling via GetFrame, and callback mode where
// Start spawns an acquisition loop that pushes frames to the output
// callback.
type VideoCapture struct {
	moduleBase
	cfg    CaptureConfig
	driver CaptureDriver
	sys    *System

	guard *SystemGuard
	ispUp bool
	viUp  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewVideoCapture creates the capture module. sys may be nil when the
// driver needs no process-global subsystem (tests).
func NewVideoCapture(cfg CaptureConfig, driver CaptureDriver, sys *System) *VideoCapture {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 100 * time.Millisecond
	}
	return &VideoCapture{
		moduleBase: newModuleBase("VideoCapture", KindSource, cfg.Logger),
		cfg:        cfg,
		driver:     driver,
		sys:        sys,
	}
}

// Config returns the capture configuration.
func (c *VideoCapture) Config() CaptureConfig { return c.cfg }

// Endpoint returns the capture unit's hardware data port.
func (c *VideoCapture) Endpoint() Endpoint {
	return Endpoint{Subsystem: SubsystemVI, Device: c.cfg.PipeID, Channel: c.cfg.ChannelID}
}

// Initialize acquires the shared subsystem and brings up ISP then the
// capture channel. Idempotent once past Uninitialized. On failure the
// partially brought-up stages are rolled back and the module moves to
// StateError.
func (c *VideoCapture) Initialize() error {
	if c.State() != StateUninitialized {
		c.logger.Warn("already initialized")
		return nil
	}

	c.logger.Info("initializing capture",
		"width", c.cfg.Width, "height", c.cfg.Height, "format", c.cfg.Format.String())

	if c.sys != nil {
		guard, err := c.sys.Guard()
		if err != nil {
			c.setState(StateError)
			return fmt.Errorf("capture: %w", err)
		}
		c.guard = guard
	}

	if err := c.initISP(); err != nil {
		c.guard.Release()
		c.setState(StateError)
		return fmt.Errorf("capture: %w", err)
	}
	c.ispUp = true

	if err := c.driver.VIEnable(c.cfg); err != nil {
		c.deinitISP()
		c.guard.Release()
		c.setState(StateError)
		return fmt.Errorf("capture: enable channel: %w", err)
	}
	c.viUp = true

	c.setState(StateInitialized)
	c.logger.Info("capture initialized", "pipe", c.cfg.PipeID, "channel", c.cfg.ChannelID)
	return nil
}

func (c *VideoCapture) initISP() error {
	c.logger.Info("initializing ISP", "cam", c.cfg.CamID, "iq_path", c.cfg.IQPath)
	if err := c.driver.ISPInit(c.cfg.CamID, c.cfg.HDRMode, c.cfg.MultiCam, c.cfg.IQPath); err != nil {
		return fmt.Errorf("isp init: %w", err)
	}
	if err := c.driver.ISPRun(c.cfg.CamID); err != nil {
		c.driver.ISPStop(c.cfg.CamID)
		return fmt.Errorf("isp run: %w", err)
	}
	return nil
}

func (c *VideoCapture) deinitISP() {
	if err := c.driver.ISPStop(c.cfg.CamID); err != nil {
		c.logger.Warn("isp stop failed", "err", err)
	}
	c.ispUp = false
}

// Start spawns the acquisition loop. Valid only from Initialized or
// Stopped.
func (c *VideoCapture) Start() error {
	if s := c.State(); s != StateInitialized && s != StateStopped {
		c.logger.Error("not in a startable state", "state", s.String())
		return fmt.Errorf("capture start from %s: %w", s, ErrInvalidState)
	}

	cb := c.outputCallback()
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setState(StateRunning)

	c.wg.Add(1)
	go c.captureLoop(ctx, cb)

	c.logger.Info("capture started")
	return nil
}

// Stop halts the acquisition loop and blocks until it has exited, so no
// callback fires after Stop returns. No-op unless Running.
func (c *VideoCapture) Stop() {
	if c.State() != StateRunning {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.setState(StateStopped)
	c.logger.Info("capture stopped")
}

// captureLoop pulls frames with a bounded timeout and hands them to the
// callback. Timeouts are routine; hard errors are logged and the loop
// continues. Only Stop ends the loop.
func (c *VideoCapture) captureLoop(ctx context.Context, cb FrameCallback) {
	defer c.wg.Done()
	c.logger.Debug("capture loop started")

	for ctx.Err() == nil {
		frame, err := c.acquire(c.cfg.AcquireTimeout)
		if err != nil {
			if !errors.Is(err, ErrTimeout) {
				c.logger.Warn("frame acquire failed", "err", err)
			}
			continue
		}
		c.emit(cb, RawMediaFrame(frame))
	}

	c.logger.Debug("capture loop exited")
}

// GetFrame acquires one frame in polling mode. Returns ErrTimeout when
// no frame arrived within the deadline. Valid from Initialized or
// Running.
func (c *VideoCapture) GetFrame(timeout time.Duration) (*RawFrame, error) {
	if s := c.State(); s != StateInitialized && s != StateRunning {
		return nil, fmt.Errorf("capture get frame from %s: %w", s, ErrInvalidState)
	}
	return c.acquire(timeout)
}

func (c *VideoCapture) acquire(timeout time.Duration) (*RawFrame, error) {
	info, err := c.driver.VIAcquireFrame(c.cfg.PipeID, c.cfg.ChannelID, timeout)
	if err != nil {
		return nil, err
	}

	pipe, channel := c.cfg.PipeID, c.cfg.ChannelID
	frame := NewRawFrame(info, func(fi *FrameInfo) {
		if err := c.driver.VIReleaseFrame(pipe, channel, fi); err != nil {
			c.logger.Warn("frame release failed", "err", err)
		}
	})
	return &frame, nil
}

// PushFrame is not supported: capture is a source.
func (c *VideoCapture) PushFrame(MediaFrame) error { return ErrNotSupported }

// CurrentFPS queries the measured capture frame rate, 0 if unavailable.
func (c *VideoCapture) CurrentFPS() int {
	if c.State() == StateUninitialized {
		return 0
	}
	fps, err := c.driver.VIQueryFPS(c.cfg.PipeID, c.cfg.ChannelID)
	if err != nil {
		return 0
	}
	return fps
}

// SetFrameRate adjusts the sensor frame rate through the ISP.
func (c *VideoCapture) SetFrameRate(fps int) error {
	if !c.ispUp {
		return fmt.Errorf("capture set frame rate: %w", ErrInvalidState)
	}
	if err := c.driver.ISPSetFrameRate(c.cfg.CamID, fps); err != nil {
		return fmt.Errorf("capture set frame rate: %w", err)
	}
	c.logger.Info("frame rate set", "fps", fps)
	return nil
}

// SetMirrorFlip adjusts sensor mirroring and flipping through the ISP.
func (c *VideoCapture) SetMirrorFlip(mirror, flip bool) error {
	if !c.ispUp {
		return fmt.Errorf("capture set mirror/flip: %w", ErrInvalidState)
	}
	if err := c.driver.ISPSetMirrorFlip(c.cfg.CamID, mirror, flip); err != nil {
		return fmt.Errorf("capture set mirror/flip: %w", err)
	}
	c.logger.Info("mirror/flip set", "mirror", mirror, "flip", flip)
	return nil
}

// Close stops the module and tears hardware down in reverse order of
// acquisition: capture channel, then ISP, then the shared subsystem
// guard.
func (c *VideoCapture) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.Stop()

	if c.viUp {
		if err := c.driver.VIDisable(c.cfg); err != nil {
			c.logger.Warn("channel disable failed", "err", err)
		}
		c.viUp = false
	}
	if c.ispUp {
		c.deinitISP()
	}
	c.guard.Release()

	c.logger.Info("capture resources released")
	return nil
}
