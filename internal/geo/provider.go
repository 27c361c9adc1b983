// Package geo tracks the device location behind a small state machine:
// idle, requesting, then ready or error. Each Request starts one
// acquisition; nothing is polled.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/catalog-feed/internal/domain"
	"github.com/couchcryptid/catalog-feed/internal/observability"
)

// DefaultTimeout bounds a single acquisition.
const DefaultTimeout = 8 * time.Second

// ErrNotRequested is returned by Await when no request was ever made.
var ErrNotRequested = errors.New("location not requested")

var errTimeout = errors.New("no position within timeout")

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock used for the acquisition timeout.
func WithClock(c clockwork.Clock) Option { return func(p *Provider) { p.clock = c } }

// WithTimeout sets the acquisition timeout.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.timeout = d } }

// WithHighAccuracy asks the locator for its most precise fix.
func WithHighAccuracy(v bool) Option { return func(p *Provider) { p.highAccuracy = v } }

// Provider owns the location state of one session. It is safe for
// concurrent use.
type Provider struct {
	locator      domain.Locator
	clock        clockwork.Clock
	timeout      time.Duration
	highAccuracy bool
	logger       *slog.Logger
	metrics      *observability.Metrics

	mu      sync.Mutex
	state   domain.GeoState
	gen     uint64
	started time.Time
	changed chan struct{}
	cancel  context.CancelFunc
	timer   clockwork.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewProvider creates an idle provider backed by locator.
func NewProvider(locator domain.Locator, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Provider {
	p := &Provider{
		locator:      locator,
		clock:        clockwork.NewRealClock(),
		timeout:      DefaultTimeout,
		highAccuracy: true,
		logger:       logger,
		metrics:      metrics,
		changed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Request starts a new acquisition unless one is already running. ctx
// supplies request-scoped values; the acquisition itself is bounded by the
// provider timeout and Close.
func (p *Provider) Request(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.state.Status == domain.GeoRequesting {
		return
	}

	p.gen++
	gen := p.gen
	acqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.started = p.clock.Now()
	p.setLocked(domain.GeoState{Status: domain.GeoRequesting})

	p.timer = p.clock.AfterFunc(p.timeout, func() {
		p.finish(gen, domain.GeoState{
			Status: domain.GeoError,
			Reason: domain.ReasonTimeout,
			Err:    &domain.LocationError{Reason: domain.ReasonTimeout, Err: errTimeout},
		})
	})

	opts := domain.LocateOptions{HighAccuracy: p.highAccuracy, Timeout: p.timeout}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		coords, err := p.locator.Locate(acqCtx, opts)

		next := domain.GeoState{Status: domain.GeoReady, Coords: coords}
		if err != nil {
			next = errorState(err)
		}
		if !p.finish(gen, next) {
			p.metrics.GeoRequests.WithLabelValues("late").Inc()
			p.logger.Debug("dropping late location result", "generation", gen, "error", err)
		}
	}()
}

// finish applies the result of acquisition gen if it is still the one in
// progress.
func (p *Provider) finish(gen uint64, next domain.GeoState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || p.state.Status != domain.GeoRequesting {
		return false
	}
	p.timer.Stop()
	p.cancel()

	outcome := "ready"
	if next.Status == domain.GeoError {
		outcome = string(next.Reason)
		p.logger.Warn("location unavailable", "reason", next.Reason, "error", next.Err)
	}
	p.metrics.GeoRequests.WithLabelValues(outcome).Inc()
	p.metrics.GeoAcquireDuration.Observe(p.clock.Since(p.started).Seconds())

	p.setLocked(next)
	return true
}

func (p *Provider) setLocked(next domain.GeoState) {
	p.state = next
	close(p.changed)
	p.changed = make(chan struct{})
}

// State returns the current state.
func (p *Provider) State() domain.GeoState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Await blocks until the current request cycle is ready or failed.
func (p *Provider) Await(ctx context.Context) (domain.GeoState, error) {
	for {
		p.mu.Lock()
		st, changed := p.state, p.changed
		p.mu.Unlock()

		switch {
		case st.Terminal():
			return st, nil
		case st.Status == domain.GeoIdle:
			return st, ErrNotRequested
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels any running acquisition and waits for it to return.
// Further requests are ignored.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func errorState(err error) domain.GeoState {
	reason := domain.ReasonUnavailable
	var le *domain.LocationError
	if errors.As(err, &le) && le.Reason != "" {
		reason = le.Reason
	}
	return domain.GeoState{Status: domain.GeoError, Reason: reason, Err: err}
}
