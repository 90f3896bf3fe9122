package mediagraph

import (
	"sync"
	"sync/atomic"
	"time"
)

// mockDriver implements Driver in memory. Each call site can be
// overridden through the corresponding func field; unset hooks succeed
// and record the call.
type mockDriver struct {
	mu sync.Mutex

	initCalls atomic.Int32
	exitCalls atomic.Int32
	initErr   error

	ispInits  int
	ispRuns   int
	ispStops  int
	ispErr    error
	ispRunErr error

	viEnables  int
	viDisables int
	viEnableErr error

	acquireFn func(pipe, channel int, timeout time.Duration) (FrameInfo, error)
	released  []BufferHandle

	vencCreates   int
	vencDestroys  int
	vencCreateErr error
	startRecv     []int
	stopRecvs     int
	sentFrames    []BufferHandle
	idrRequests   int
	setBitrates   []int
	setFPS        []int
	setQualities  []int
	setResolution [][5]int

	streamFn        func(channel int, timeout time.Duration) (StreamInfo, error)
	releasedStreams []BufferHandle

	binds   [][2]Endpoint
	unbinds [][2]Endpoint
	bindErr   error
	unbindErr error
}

func (m *mockDriver) Init() error {
	if m.initErr != nil {
		return m.initErr
	}
	m.initCalls.Add(1)
	return nil
}

func (m *mockDriver) Exit() error {
	m.exitCalls.Add(1)
	return nil
}

func (m *mockDriver) ISPInit(camID int, mode HDRMode, multiCam bool, iqPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ispErr != nil {
		return m.ispErr
	}
	m.ispInits++
	return nil
}

func (m *mockDriver) ISPRun(camID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ispRunErr != nil {
		return m.ispRunErr
	}
	m.ispRuns++
	return nil
}

func (m *mockDriver) ISPStop(camID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ispStops++
	return nil
}

func (m *mockDriver) ISPSetFrameRate(camID, fps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setFPS = append(m.setFPS, fps)
	return nil
}

func (m *mockDriver) ISPSetMirrorFlip(camID int, mirror, flip bool) error { return nil }

func (m *mockDriver) VIEnable(cfg CaptureConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.viEnableErr != nil {
		return m.viEnableErr
	}
	m.viEnables++
	return nil
}

func (m *mockDriver) VIDisable(cfg CaptureConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viDisables++
	return nil
}

func (m *mockDriver) VIAcquireFrame(pipe, channel int, timeout time.Duration) (FrameInfo, error) {
	if m.acquireFn != nil {
		return m.acquireFn(pipe, channel, timeout)
	}
	return FrameInfo{}, ErrTimeout
}

func (m *mockDriver) VIReleaseFrame(pipe, channel int, info *FrameInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, info.Handle)
	return nil
}

func (m *mockDriver) VIQueryFPS(pipe, channel int) (int, error) { return 30, nil }

func (m *mockDriver) VENCCreateChannel(cfg EncoderConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vencCreateErr != nil {
		return m.vencCreateErr
	}
	m.vencCreates++
	return nil
}

func (m *mockDriver) VENCDestroyChannel(channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vencDestroys++
	return nil
}

func (m *mockDriver) VENCSendFrame(channel int, info *FrameInfo, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentFrames = append(m.sentFrames, info.Handle)
	return nil
}

func (m *mockDriver) VENCAcquireStream(channel int, timeout time.Duration) (StreamInfo, error) {
	if m.streamFn != nil {
		return m.streamFn(channel, timeout)
	}
	return StreamInfo{}, ErrTimeout
}

func (m *mockDriver) VENCReleaseStream(channel int, stream *StreamInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range stream.Packets {
		m.releasedStreams = append(m.releasedStreams, p.Handle)
	}
	return nil
}

func (m *mockDriver) VENCRequestIDR(channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idrRequests++
	return nil
}

func (m *mockDriver) VENCSetBitrate(channel, bitrateKbps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBitrates = append(m.setBitrates, bitrateKbps)
	return nil
}

func (m *mockDriver) VENCSetFrameRate(channel, fps int) error { return nil }

func (m *mockDriver) VENCSetJPEGQuality(channel, quality int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setQualities = append(m.setQualities, quality)
	return nil
}

func (m *mockDriver) VENCSetResolution(channel, width, height, virWidth, virHeight int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setResolution = append(m.setResolution, [5]int{channel, width, height, virWidth, virHeight})
	return nil
}

func (m *mockDriver) VENCStartRecv(channel, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startRecv = append(m.startRecv, count)
	return nil
}

func (m *mockDriver) VENCStopRecv(channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRecvs++
	return nil
}

func (m *mockDriver) Bind(src, dst Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindErr != nil {
		return m.bindErr
	}
	m.binds = append(m.binds, [2]Endpoint{src, dst})
	return nil
}

func (m *mockDriver) Unbind(src, dst Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unbindErr != nil {
		return m.unbindErr
	}
	m.unbinds = append(m.unbinds, [2]Endpoint{src, dst})
	return nil
}

// releasedHandles returns a copy of the released frame handles.
func (m *mockDriver) releasedHandles() []BufferHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BufferHandle, len(m.released))
	copy(out, m.released)
	return out
}
