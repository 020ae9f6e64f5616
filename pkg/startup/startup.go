// Package startup starts backend connections in dependency order, retrying the whole sequence
// with fibonacci backoff while backends come up.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Dependency is one backend. Stop may be nil.
type Dependency struct {
	Name      string
	DependsOn []string
	Start     func(ctx context.Context) error
	Stop      func(ctx context.Context) error
}

type Startup struct {
	dependencies map[string]Dependency
	order        []string
	started      []string
	statuses     map[string]Status
	logger       ectologger.Logger
	maxAttempts  int
	// unit is the first backoff step; later steps follow the fibonacci sequence.
	unit time.Duration
}

func New(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		unit:         time.Second,
	}
}

// Add registers a dependency. Dependencies start in registration order unless DependsOn says otherwise.
func (s *Startup) Add(dependency Dependency) {
	if _, ok := s.dependencies[dependency.Name]; !ok {
		s.order = append(s.order, dependency.Name)
	}
	s.dependencies[dependency.Name] = dependency
}

func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency. Dependencies that already started are not restarted on retry.
func (s *Startup) Start(ctx context.Context) error {
	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		lastErr = nil
		for _, name := range s.order {
			if err := s.start(ctx, name, map[string]bool{}); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}

		s.logger.WithError(lastErr).WithFields(map[string]any{"attempt": attempt}).Warnf("Startup attempt %d/%d failed", attempt, s.maxAttempts)
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.unit
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}
	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) start(ctx context.Context, name string, visiting map[string]bool) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	dependency, ok := s.dependencies[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency %q", name)
	}
	if visiting[name] {
		return fmt.Errorf("startup dependency cycle at %q", name)
	}
	visiting[name] = true

	for _, required := range dependency.DependsOn {
		if err := s.start(ctx, required, visiting); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"dependency": name})
	log.Info("Starting dependency")
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order and returns the first error.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		dependency := s.dependencies[name]
		if dependency.Stop != nil {
			if err := dependency.Stop(ctx); err != nil {
				s.logger.WithError(err).WithFields(map[string]any{"dependency": name}).Error("Failed to stop dependency")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return firstErr
}
