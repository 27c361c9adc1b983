// Package viewport turns visibility changes of a feed's end-of-list marker
// into "load next page" calls.
package viewport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAlreadyWatching is returned when a marker already has an active Watch.
var ErrAlreadyWatching = errors.New("marker is already watched")

// Observer reports visibility changes of a marker. The returned function
// stops the observation and must be safe to call more than once.
type Observer interface {
	Observe(marker string, onChange func(visible bool)) (unregister func(), err error)
}

// LoadFunc loads the next page and reports whether more pages remain.
type LoadFunc func(ctx context.Context) (hasMore bool, err error)

// Sentinel calls a LoadFunc each time a marker scrolls into view.
type Sentinel struct {
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewSentinel creates a Sentinel backed by observer.
func NewSentinel(observer Observer, logger *slog.Logger) *Sentinel {
	return &Sentinel{
		observer: observer,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// Watch observes marker until ctx is done, load reports no more pages, or
// load fails. load runs once per hidden-to-visible transition; transitions
// that happen while load runs collapse into a single follow-up call. The
// observation is released on every return path.
func (s *Sentinel) Watch(ctx context.Context, marker string, load LoadFunc) error {
	if !s.claim(marker) {
		return ErrAlreadyWatching
	}
	defer s.release(marker)

	entered := make(chan struct{}, 1)
	var (
		visMu   sync.Mutex
		visible bool
	)
	unregister, err := s.observer.Observe(marker, func(v bool) {
		visMu.Lock()
		rising := v && !visible
		visible = v
		visMu.Unlock()

		if rising {
			select {
			case entered <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("observe marker %q: %w", marker, err)
	}
	defer unregister()

	s.logger.Debug("watching marker", "marker", marker)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-entered:
			more, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("load for marker %q: %w", marker, err)
			}
			if !more {
				s.logger.Debug("feed exhausted, releasing marker", "marker", marker)
				return nil
			}
		}
	}
}

// Watching reports whether marker has an active Watch.
func (s *Sentinel) Watching(marker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[marker]
	return ok
}

func (s *Sentinel) claim(marker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[marker]; ok {
		return false
	}
	s.active[marker] = struct{}{}
	return true
}

func (s *Sentinel) release(marker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, marker)
}
