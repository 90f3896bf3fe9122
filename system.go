package mediagraph

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// System is a reference-counted guard around the vendor stack's
// process-global subsystem. The underlying driver Init runs exactly once
// on the 0→1 transition and Exit exactly once on the 1→0 transition,
// however many modules share the instance.
//
// It is an explicit, injectable object rather than a package singleton so
// tests get isolated instances.
type System struct {
	driver SystemDriver
	logger *slog.Logger

	mu          sync.Mutex
	refs        atomic.Int32
	initialized bool
}

// NewSystem creates a system guard over the given driver. A nil logger
// defaults to slog.Default().
func NewSystem(driver SystemDriver, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{driver: driver, logger: logger}
}

// Acquire increments the reference count, initializing the subsystem on
// the first acquisition. A failed init rolls the count back.
func (s *System) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.refs.Add(1) - 1
	if prev > 0 {
		s.logger.Debug("system already initialized", "refs", s.refs.Load())
		return nil
	}

	s.logger.Info("initializing media subsystem")
	if err := s.driver.Init(); err != nil {
		s.refs.Add(-1)
		return fmt.Errorf("subsystem init: %w", err)
	}
	s.initialized = true
	return nil
}

// Release decrements the reference count, tearing the subsystem down on
// the last release. Releasing below zero is a usage error: it is logged
// and the count clamps to zero without re-triggering teardown.
func (s *System) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.refs.Add(-1) + 1
	if prev <= 0 {
		s.logger.Warn("system release without matching acquire")
		s.refs.Store(0)
		return
	}

	if prev == 1 && s.initialized {
		s.logger.Info("tearing down media subsystem")
		if err := s.driver.Exit(); err != nil {
			s.logger.Warn("subsystem exit failed", "err", err)
		}
		s.initialized = false
		return
	}
	s.logger.Debug("system refcount decreased", "refs", s.refs.Load())
}

// RefCount returns the current reference count.
func (s *System) RefCount() int { return int(s.refs.Load()) }

// Initialized reports whether the subsystem is currently up.
func (s *System) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// SystemGuard ties one acquisition to a scope: obtained via Guard,
// released via Release. Release is idempotent, so modules can release in
// teardown paths without tracking whether it already happened.
type SystemGuard struct {
	sys      *System
	released atomic.Bool
}

// Guard acquires the system and returns a guard for the acquisition.
func (s *System) Guard() (*SystemGuard, error) {
	if err := s.Acquire(); err != nil {
		return nil, err
	}
	return &SystemGuard{sys: s}, nil
}

// Release gives the acquisition back. Only the first call has effect.
func (g *SystemGuard) Release() {
	if g == nil || g.released.Swap(true) {
		return
	}
	g.sys.Release()
}
