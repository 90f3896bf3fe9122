package mediagraph

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCapture(t *testing.T, drv *mockDriver) *VideoCapture {
	cfg := DefaultCaptureConfig()
	cfg.AcquireTimeout = time.Millisecond
	cfg.Logger = testLogger(t)
	return NewVideoCapture(cfg, drv, NewSystem(drv, testLogger(t)))
}

func TestCaptureInitializeIdempotent(t *testing.T) {
	drv := &mockDriver{}
	cap := newTestCapture(t, drv)

	if err := cap.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := cap.Initialize(); err != nil {
		t.Fatal(err)
	}

	if drv.ispInits != 1 || drv.viEnables != 1 {
		t.Fatalf("isp inits = %d, vi enables = %d, want 1/1", drv.ispInits, drv.viEnables)
	}
	if cap.State() != StateInitialized {
		t.Fatalf("state = %v, want initialized", cap.State())
	}
}

func TestCaptureInitializeRollsBackOnISPRunFailure(t *testing.T) {
	drv := &mockDriver{ispRunErr: errors.New("sensor fault")}
	sys := NewSystem(drv, testLogger(t))
	cfg := DefaultCaptureConfig()
	cfg.Logger = testLogger(t)
	cap := NewVideoCapture(cfg, drv, sys)

	if err := cap.Initialize(); err == nil {
		t.Fatal("expected initialize failure")
	}
	if cap.State() != StateError {
		t.Fatalf("state = %v, want error", cap.State())
	}
	if drv.ispStops != 1 {
		t.Fatalf("isp stops = %d, want rollback stop", drv.ispStops)
	}
	if drv.viEnables != 0 {
		t.Fatal("channel must not be enabled after ISP failure")
	}
	if sys.RefCount() != 0 {
		t.Fatal("system acquisition must be rolled back")
	}
}

func TestCaptureInitializeRollsBackOnChannelFailure(t *testing.T) {
	drv := &mockDriver{viEnableErr: errors.New("channel busy")}
	sys := NewSystem(drv, testLogger(t))
	cfg := DefaultCaptureConfig()
	cfg.Logger = testLogger(t)
	cap := NewVideoCapture(cfg, drv, sys)

	if err := cap.Initialize(); err == nil {
		t.Fatal("expected initialize failure")
	}
	if drv.ispStops != 1 {
		t.Fatal("ISP must be torn down after channel failure")
	}
	if sys.RefCount() != 0 {
		t.Fatal("system acquisition must be rolled back")
	}
}

func TestCaptureStartRequiresInitialize(t *testing.T) {
	cap := newTestCapture(t, &mockDriver{})
	if err := cap.Start(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("start uninitialized = %v, want ErrInvalidState", err)
	}
}

func TestCaptureCallbackDeliveryAndStop(t *testing.T) {
	var next atomic.Int64
	drv := &mockDriver{
		acquireFn: func(pipe, channel int, timeout time.Duration) (FrameInfo, error) {
			n := next.Add(1)
			return FrameInfo{Handle: BufferHandle(n), Data: []byte{byte(n)}, PTS: n * 33000}, nil
		},
	}
	cap := newTestCapture(t, drv)
	if err := cap.Initialize(); err != nil {
		t.Fatal(err)
	}

	frames := make(chan int64, 256)
	err := cap.SetOutputCallback(func(f MediaFrame) {
		defer f.Close()
		select {
		case frames <- f.PTS():
		default:
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := cap.Start(); err != nil {
		t.Fatal(err)
	}

	var last int64
	for i := 0; i < 5; i++ {
		select {
		case pts := <-frames:
			if pts <= last {
				t.Fatalf("timestamps not increasing: %d after %d", pts, last)
			}
			last = pts
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frames")
		}
	}

	cap.Stop()
	if cap.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", cap.State())
	}

	// No delivery after Stop returns.
	drained := len(frames)
	time.Sleep(20 * time.Millisecond)
	if len(frames) != drained {
		t.Fatal("frames delivered after stop")
	}

	// Every released handle went back to the driver.
	released := drv.releasedHandles()
	if len(released) == 0 {
		t.Fatal("no buffers released")
	}

	// Restart from Stopped works.
	if err := cap.Start(); err != nil {
		t.Fatal(err)
	}
	cap.Stop()
}

func TestCaptureNoCallbackReleasesFrames(t *testing.T) {
	var next atomic.Int64
	drv := &mockDriver{
		acquireFn: func(pipe, channel int, timeout time.Duration) (FrameInfo, error) {
			return FrameInfo{Handle: BufferHandle(next.Add(1))}, nil
		},
	}
	cap := newTestCapture(t, drv)
	cap.Initialize()
	cap.Start()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(drv.releasedHandles()) >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cap.Stop()

	if len(drv.releasedHandles()) == 0 {
		t.Fatal("frames must be released when no callback is installed")
	}
}

func TestCaptureGetFramePolling(t *testing.T) {
	drv := &mockDriver{
		acquireFn: func(pipe, channel int, timeout time.Duration) (FrameInfo, error) {
			return FrameInfo{Handle: 11, Data: []byte{1, 2}, PTS: 500}, nil
		},
	}
	cap := newTestCapture(t, drv)

	if _, err := cap.GetFrame(time.Millisecond); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("get frame uninitialized = %v, want ErrInvalidState", err)
	}

	cap.Initialize()
	frame, err := cap.GetFrame(10 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if frame.PTS() != 500 {
		t.Fatalf("pts = %d, want 500", frame.PTS())
	}

	frame.Close()
	released := drv.releasedHandles()
	if len(released) != 1 || released[0] != 11 {
		t.Fatalf("released = %v, want [11]", released)
	}
}

func TestCaptureGetFrameTimeout(t *testing.T) {
	cap := newTestCapture(t, &mockDriver{})
	cap.Initialize()

	if _, err := cap.GetFrame(time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCaptureCloseTearsDown(t *testing.T) {
	drv := &mockDriver{}
	sys := NewSystem(drv, testLogger(t))
	cfg := DefaultCaptureConfig()
	cfg.AcquireTimeout = time.Millisecond
	cfg.Logger = testLogger(t)
	cap := NewVideoCapture(cfg, drv, sys)

	cap.Initialize()
	cap.Start()

	if err := cap.Close(); err != nil {
		t.Fatal(err)
	}
	if drv.viDisables != 1 {
		t.Fatalf("vi disables = %d, want 1", drv.viDisables)
	}
	if drv.ispStops != 1 {
		t.Fatalf("isp stops = %d, want 1", drv.ispStops)
	}
	if sys.RefCount() != 0 {
		t.Fatal("system not released on close")
	}
	if drv.exitCalls.Load() != 1 {
		t.Fatal("last release must tear down the subsystem")
	}

	// Close is idempotent.
	if err := cap.Close(); err != nil {
		t.Fatal(err)
	}
	if drv.viDisables != 1 {
		t.Fatal("second close must be a no-op")
	}
}

func TestCapturePushNotSupported(t *testing.T) {
	cap := newTestCapture(t, &mockDriver{})
	if err := cap.PushFrame(MediaFrame{}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("push = %v, want ErrNotSupported", err)
	}
}

func TestCaptureEndpoint(t *testing.T) {
	cfg := DefaultCaptureConfig()
	cfg.PipeID = 2
	cfg.ChannelID = 3
	cfg.Logger = testLogger(t)
	cap := NewVideoCapture(cfg, &mockDriver{}, nil)

	want := Endpoint{Subsystem: SubsystemVI, Device: 2, Channel: 3}
	if cap.Endpoint() != want {
		t.Fatalf("endpoint = %v, want %v", cap.Endpoint(), want)
	}
}
