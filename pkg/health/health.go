// Package health backs the /livez and /readyz endpoints. Probes (the
// postgres pool ping, the Redis cache ping, the goroutine count) run on a
// shared ticker in the background; the endpoints report the last observed
// state and never call a dependency inline.
//
// A probe flips to failing only after failThreshold consecutive errors, so a
// single slow ping does not pull the service out of rotation. One success
// flips it back.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const failThreshold = 3

// probe is one registered check plus its last observed state. State is
// written by the ticker goroutine and read by the HTTP endpoints, guarded by
// mu.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	mu      sync.Mutex
	failing bool
	fails   int
	lastErr error
}

func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(ctx)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err == nil {
		p.fails = 0
		p.failing = false
		return
	}
	p.fails++
	if p.fails >= failThreshold {
		p.failing = true
	}
}

// failure returns the failure message for a failing probe, or "" while the
// probe is healthy (including while it is below the threshold).
func (p *probe) failure() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.failing {
		return ""
	}
	if p.lastErr != nil {
		return p.lastErr.Error()
	}
	return "check failing"
}

// Health holds the registered probes and the manual ready flag. Register all
// probes before calling Start; registration is not synchronized against the
// ticker.
type Health struct {
	live  []*probe
	ready []*probe

	mu        sync.Mutex
	readyFlag bool
	cancel    context.CancelFunc
}

// New returns a Health with no probes, in the not-ready state. Call
// SetReady(true) once wiring is complete.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe for /livez. Liveness failures mean the
// process itself is wedged and should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.live = append(h.live, &probe{name: name, timeout: timeout, check: check})
}

// AddReadinessCheck registers a probe for /readyz. Readiness failures mean a
// dependency is down and traffic should be routed elsewhere.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.ready = append(h.ready, &probe{name: name, timeout: timeout, check: check})
}

// Start runs every probe once, then keeps re-running them on the interval
// until the context is cancelled or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	probes := make([]*probe, 0, len(h.live)+len(h.ready))
	probes = append(probes, h.live...)
	probes = append(probes, h.ready...)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			for _, p := range probes {
				p.observe(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the probe loop. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual ready flag. The app sets it true after wiring and
// false at the start of graceful shutdown to drain the load balancer.
func (h *Health) SetReady(ready bool) {
	h.mu.Lock()
	h.readyFlag = ready
	h.mu.Unlock()
}

// IsReady reports whether the flag is set and every readiness probe passes.
func (h *Health) IsReady() bool {
	h.mu.Lock()
	ready := h.readyFlag
	h.mu.Unlock()
	if !ready {
		return false
	}
	for _, p := range h.ready {
		if p.failure() != "" {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503 with
// the failing probes otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.live))
}

// ReadyEndpoint serves /readyz: 200 only when SetReady(true) has been called
// and every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	f := failures(h.ready)
	h.mu.Lock()
	ready := h.readyFlag
	h.mu.Unlock()
	if !ready {
		f["_readiness"] = "service is not ready"
	}
	writeStatus(w, f)
}

func failures(probes []*probe) map[string]string {
	f := make(map[string]string)
	for _, p := range probes {
		if msg := p.failure(); msg != "" {
			f[p.name] = msg
		}
	}
	return f
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// GoroutineCountCheck flags a goroutine leak: the discount API holds no
// per-request goroutines, so sustained growth past the threshold means a
// handler or the probe loop itself is leaking.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("%d goroutines running, threshold %d", n, threshold)
		}
		return nil
	}
}
