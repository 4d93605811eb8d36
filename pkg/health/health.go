// Package health serves liveness and readiness probes.
//
// Every registered probe runs on its own ticker. A probe turns unhealthy only
// after FailureThreshold consecutive failures and recovers after
// SuccessThreshold consecutive successes, so a single slow ping does not pull
// the instance out of the load balancer.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Option tunes a single probe.
type Option func(*probe)

// WithTimeout bounds a single run of the check. Defaults to one second.
func WithTimeout(d time.Duration) Option {
	return func(p *probe) { p.timeout = d }
}

// WithThresholds sets how many consecutive failures mark the probe unhealthy
// and how many consecutive successes mark it healthy again. Defaults to 3/1.
func WithThresholds(failure, success int) Option {
	return func(p *probe) {
		p.failureThreshold = max(failure, 1)
		p.successThreshold = max(success, 1)
	}
}

type probe struct {
	name             string
	check            Check
	timeout          time.Duration
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the probe's goroutine.
	fails, oks int
}

func newProbe(name string, check Check, opts []Option) *probe {
	p := &probe{
		name:             name,
		check:            check,
		timeout:          time.Second,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.check(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.oks = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.lastErr.Store(nil)
	p.fails = 0
	p.oks++
	if p.oks >= p.successThreshold {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Health owns the registered probes and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Liveness registers a probe consulted by /livez.
func (h *Health) Liveness(name string, check Check, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, check, opts))
}

// Readiness registers a probe consulted by /readyz.
func (h *Health) Readiness(name string, check Check, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, check, opts))
}

// Start runs every probe immediately and then once per interval until Stop
// is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	probes := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, p := range probes {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				p.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the probe goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness switch, typically true after startup
// and false when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the switch is on and every readiness probe passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(&h.readiness))) == 0
}

func (h *Health) snapshot(list *[]*probe) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(*list)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	write(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed = append(failed, [2]string{"_readiness", "service is not ready"})
	}
	write(w, failed)
}

func failures(probes []*probe) [][2]string {
	var out [][2]string
	for _, p := range probes {
		if msg, failed := p.failure(); failed {
			out = append(out, [2]string{p.name, msg})
		}
	}
	return out
}

// write renders {"status":"ok"} or {"status":"unhealthy","checks":{...}}.
func write(w http.ResponseWriter, failed [][2]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failed {
			e.FieldStart(f[0])
			e.Str(f[1])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
