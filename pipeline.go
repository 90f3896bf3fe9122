package mediagraph

import (
	"fmt"
	"log/slog"
	"sync"
)

// SubsystemID names a hardware subsystem inside the vendor stack.
type SubsystemID int

const (
	SubsystemVI   SubsystemID = iota // Capture unit
	SubsystemVPSS                    // Video processing subsystem
	SubsystemVENC                    // Hardware encoder
	SubsystemVDEC                    // Hardware decoder
)

func (s SubsystemID) String() string {
	switch s {
	case SubsystemVI:
		return "VI"
	case SubsystemVPSS:
		return "VPSS"
	case SubsystemVENC:
		return "VENC"
	case SubsystemVDEC:
		return "VDEC"
	default:
		return "Unknown"
	}
}

// Endpoint uniquely names one hardware data port: the (subsystem, device,
// channel) triple used by the bind primitive. Pure value type.
type Endpoint struct {
	Subsystem SubsystemID
	Device    int
	Channel   int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%d/%d", e.Subsystem, e.Device, e.Channel)
}

// BindKind tags how two modules are connected.
type BindKind int

const (
	BindHardware BindKind = iota // Zero-copy driver-level connection
	BindSoftware                 // Callback forwarding across modules
)

func (k BindKind) String() string {
	switch k {
	case BindHardware:
		return "hardware"
	case BindSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// Binding records one established connection so teardown can undo it.
type Binding struct {
	Kind BindKind

	// Hardware bindings
	Src, Dst Endpoint

	// Software bindings
	SrcModule, DstModule Module
}

// Pipeline is the registry of modules plus the set of active bindings.
// It owns no frames, only the wiring metadata, and guarantees hardware
// bindings are undone before teardown completes.
//
// The registry and binding list are mutated from the control goroutine
// only; Pipeline methods are safe to call concurrently but correct usage
// binds before starting, from a single orchestrating goroutine.
type Pipeline struct {
	binder BindDriver
	logger *slog.Logger

	mu       sync.Mutex
	names    []string
	modules  map[string]Module
	bindings []Binding
	closed   bool
}

// NewPipeline creates an empty pipeline. binder may be nil if the
// pipeline only ever uses software bindings. A nil logger defaults to
// slog.Default().
func NewPipeline(binder BindDriver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		binder:  binder,
		logger:  logger,
		modules: make(map[string]Module),
	}
}

// RegisterModule stores a module by name. Registering an existing name
// replaces the previous module with a warning; last registration wins.
func (p *Pipeline) RegisterModule(name string, m Module) error {
	if m == nil {
		p.logger.Error("cannot register nil module", "name", name)
		return fmt.Errorf("register %q: nil module", name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.modules[name]; ok {
		p.logger.Warn("module already registered, replacing", "name", name)
	} else {
		p.names = append(p.names, name)
	}
	p.modules[name] = m
	p.logger.Debug("module registered", "name", name, "kind", m.Kind().String())
	return nil
}

// Module returns the registered module by name, nil if absent.
func (p *Pipeline) Module(name string) Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modules[name]
}

// Bindings returns a snapshot of the recorded bindings.
func (p *Pipeline) Bindings() []Binding {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Binding, len(p.bindings))
	copy(out, p.bindings)
	return out
}

// BindHardware connects two hardware ports through the driver's
// zero-copy bind primitive and records the binding for teardown. On
// failure nothing is recorded.
func (p *Pipeline) BindHardware(src, dst Endpoint) error {
	if p.binder == nil {
		return fmt.Errorf("bind %s -> %s: %w", src, dst, ErrNotSupported)
	}

	p.logger.Info("hardware binding", "src", src.String(), "dst", dst.String())
	if err := p.binder.Bind(src, dst); err != nil {
		p.logger.Error("hardware bind failed", "src", src.String(), "dst", dst.String(), "err", err)
		return fmt.Errorf("bind %s -> %s: %w", src, dst, err)
	}

	p.mu.Lock()
	p.bindings = append(p.bindings, Binding{Kind: BindHardware, Src: src, Dst: dst})
	p.mu.Unlock()
	return nil
}

// BindSoftware installs an output callback on src that forwards each
// delivered frame into dst's PushFrame. A push to a torn-down or
// non-accepting destination is dropped, not faulted: the callback may
// fire after the owning scope believes teardown is complete.
func (p *Pipeline) BindSoftware(src, dst Module) error {
	if src == nil || dst == nil {
		p.logger.Error("cannot bind nil modules")
		return fmt.Errorf("bind software: nil module")
	}

	p.logger.Info("software binding", "src", src.Name(), "dst", dst.Name())

	err := src.SetOutputCallback(func(frame MediaFrame) {
		defer frame.Close()
		if dst.State() == StateError {
			return
		}
		if err := dst.PushFrame(frame); err != nil {
			p.logger.Debug("software bind push dropped", "dst", dst.Name(), "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("bind software %s -> %s: %w", src.Name(), dst.Name(), err)
	}

	p.mu.Lock()
	p.bindings = append(p.bindings, Binding{Kind: BindSoftware, SrcModule: src, DstModule: dst})
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) snapshot() []Module {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Module, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.modules[name])
	}
	return out
}

// InitializeAll initializes every registered module in registration
// order, stopping at the first failure.
func (p *Pipeline) InitializeAll() error {
	p.logger.Info("initializing all modules")
	for _, m := range p.snapshot() {
		if err := m.Initialize(); err != nil {
			p.logger.Error("module initialize failed", "name", m.Name(), "err", err)
			return fmt.Errorf("initialize %q: %w", m.Name(), err)
		}
		p.logger.Debug("module initialized", "name", m.Name())
	}
	return nil
}

// StartAll starts every registered module in registration order,
// stopping at the first failure. Bindings must be established before
// starting.
func (p *Pipeline) StartAll() error {
	p.logger.Info("starting all modules")
	for _, m := range p.snapshot() {
		if err := m.Start(); err != nil {
			p.logger.Error("module start failed", "name", m.Name(), "err", err)
			return fmt.Errorf("start %q: %w", m.Name(), err)
		}
		p.logger.Debug("module started", "name", m.Name())
	}
	return nil
}

// StopAll stops every registered module. It has no failure mode: every
// module is stopped regardless of individual outcomes.
func (p *Pipeline) StopAll() {
	p.logger.Info("stopping all modules")
	for _, m := range p.snapshot() {
		m.Stop()
		p.logger.Debug("module stopped", "name", m.Name())
	}
}

// UnbindAll undoes every recorded hardware binding through the driver's
// unbind primitive. Unbind failures are logged and skipped so teardown
// always completes. Software bindings are cleared by dropping their
// callback references.
func (p *Pipeline) UnbindAll() {
	p.mu.Lock()
	bindings := p.bindings
	p.bindings = nil
	p.mu.Unlock()

	p.logger.Info("removing all bindings", "count", len(bindings))
	for _, b := range bindings {
		switch b.Kind {
		case BindHardware:
			if err := p.binder.Unbind(b.Src, b.Dst); err != nil {
				p.logger.Warn("hardware unbind failed", "src", b.Src.String(), "dst", b.Dst.String(), "err", err)
			}
		case BindSoftware:
			if b.SrcModule != nil {
				if err := b.SrcModule.SetOutputCallback(nil); err != nil {
					p.logger.Debug("software unbind deferred, source still running", "src", b.SrcModule.Name())
				}
			}
		}
	}
}

// Close stops all modules and then removes all bindings, in that order:
// unbinding a hardware path while a module is still writing into it is
// undefined at the driver level. Safe to call after explicit
// StopAll/UnbindAll calls.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.StopAll()
	p.UnbindAll()
	return nil
}
