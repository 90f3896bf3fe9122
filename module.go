package mediagraph

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ModuleState represents the lifecycle state of a module.
type ModuleState int32

const (
	StateUninitialized ModuleState = iota // Not initialized
	StateInitialized                      // Hardware channel attached
	StateRunning                          // Acquisition loop active
	StateStopped                          // Stopped, restartable
	StateError                            // Failed, terminal
)

func (s ModuleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ModuleKind identifies a module's capability.
type ModuleKind int

const (
	KindSource    ModuleKind = iota // Produces frames (capture)
	KindProcessor                   // Transforms raw frames
	KindEncoder                     // Raw in, encoded out
	KindDecoder                     // Encoded in, raw out
	KindSink                        // Consumes frames (file, network)
)

func (k ModuleKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindProcessor:
		return "processor"
	case KindEncoder:
		return "encoder"
	case KindDecoder:
		return "decoder"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// FrameCallback receives a frame from a module's output. Ownership of the
// frame transfers to the callback: it must Close the frame or move it
// onward before returning control flow it does not own.
type FrameCallback func(MediaFrame)

// Module is the common contract of all pipeline units.
//
// Lifecycle: Uninitialized → Initialize → Initialized → Start → Running
// → Stop → Stopped → Start ... Close tears the module down for good.
// Initialize is idempotent once past Uninitialized. A failed Initialize
// moves the module to StateError; stream-time failures do not.
type Module interface {
	io.Closer

	// Name returns the diagnostic module name.
	Name() string

	// Kind returns the module capability kind.
	Kind() ModuleKind

	// State returns the current lifecycle state.
	State() ModuleState

	// Initialize attaches the underlying hardware channel.
	Initialize() error

	// Start begins frame production/consumption. Valid only from
	// Initialized or Stopped.
	Start() error

	// Stop halts the module and joins its background loop. No callback
	// fires after Stop returns. Idempotent no-op unless Running.
	Stop()

	// PushFrame feeds a frame into the module's input. The module
	// borrows the frame for the duration of the call; the caller keeps
	// ownership. Sources return ErrNotSupported.
	PushFrame(frame MediaFrame) error

	// SetOutputCallback registers the output sink function. Must be
	// called before Start; returns ErrInvalidState while Running.
	SetOutputCallback(cb FrameCallback) error
}

// HardwareModule is implemented by modules backed by a bindable hardware
// data port.
type HardwareModule interface {
	Module
	Endpoint() Endpoint
}

// moduleBase carries the name/kind/state/callback plumbing shared by all
// concrete modules.
type moduleBase struct {
	name   string
	kind   ModuleKind
	logger *slog.Logger

	state  atomic.Int32
	closed atomic.Bool

	cbMu     sync.Mutex
	callback FrameCallback
}

func newModuleBase(name string, kind ModuleKind, logger *slog.Logger) moduleBase {
	if logger == nil {
		logger = slog.Default()
	}
	return moduleBase{name: name, kind: kind, logger: logger.With("module", name)}
}

func (m *moduleBase) Name() string       { return m.name }
func (m *moduleBase) Kind() ModuleKind   { return m.kind }
func (m *moduleBase) State() ModuleState { return ModuleState(m.state.Load()) }

func (m *moduleBase) setState(s ModuleState) { m.state.Store(int32(s)) }

// IsRunning reports whether the module is in StateRunning.
func (m *moduleBase) IsRunning() bool { return m.State() == StateRunning }

// SetOutputCallback installs the output callback. Rejected while Running:
// the acquisition loop snapshots the callback at Start, so late changes
// would race with in-flight deliveries.
func (m *moduleBase) SetOutputCallback(cb FrameCallback) error {
	if m.State() == StateRunning {
		return ErrInvalidState
	}
	m.cbMu.Lock()
	m.callback = cb
	m.cbMu.Unlock()
	return nil
}

func (m *moduleBase) outputCallback() FrameCallback {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	return m.callback
}

// emit hands a frame to the output callback, transferring ownership. If
// no callback is set the frame is released immediately so the buffer
// returns to the driver.
func (m *moduleBase) emit(cb FrameCallback, frame MediaFrame) {
	if cb == nil {
		frame.Close()
		return
	}
	cb(frame)
}
