// Package health serves the liveness and readiness probes of the control
// surface.
//
// Readiness is the combined verdict of named checks. A failing required
// check makes the service unready (503); a failing advisory check only
// degrades it, so a concierge that lost its primary agent but still has a
// fallback keeps receiving traffic.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// Status is the verdict for one check or the whole report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFail     Status = "fail"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when healthy and must
// honour ctx.
type Check struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

// Require returns a check whose failure makes the service unready.
func Require(name string, probe func(context.Context) error) Check {
	return Check{Name: name, Required: true, Probe: probe}
}

// Advise returns a check whose failure only degrades the service.
func Advise(name string, probe func(context.Context) error) Check {
	return Check{Name: name, Probe: probe}
}

// ErrNotConfigured is reported by [Configured] while the value is empty.
var ErrNotConfigured = errors.New("not configured")

// Configured requires get to return a non-empty value. The value itself is
// never reported.
func Configured(name string, get func() string) Check {
	return Require(name, func(context.Context) error {
		if get() == "" {
			return ErrNotConfigured
		}
		return nil
	})
}

// Result is the outcome of one check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Required bool   `json:"required"`
	Error    string `json:"error,omitempty"`
}

// Report is the readiness response body. Checks keep registration order.
type Report struct {
	Status Status   `json:"status"`
	Checks []Result `json:"checks,omitempty"`
}

// Prober evaluates checks. It is safe for concurrent use.
type Prober struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []Check
}

// New returns a prober for checks.
func New(checks ...Check) *Prober {
	return &Prober{timeout: DefaultTimeout, checks: append([]Check(nil), checks...)}
}

// Add registers another check.
func (p *Prober) Add(c Check) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks = append(p.checks, c)
}

// Evaluate runs every check concurrently, each under its own timeout.
func (p *Prober) Evaluate(ctx context.Context) Report {
	p.mu.RLock()
	checks := append([]Check(nil), p.checks...)
	p.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			results[i] = Result{Name: c.Name, Required: c.Required, Status: StatusOK}
			if err := c.Probe(cctx); err != nil {
				results[i].Status = StatusFail
				results[i].Error = err.Error()
			}
		})
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Checks: results}
	for _, r := range results {
		switch {
		case r.Status == StatusOK:
		case r.Required:
			rep.Status = StatusFail
		case rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Live answers the liveness probe: a process that serves HTTP is alive.
func (p *Prober) Live(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, Report{Status: StatusOK})
}

// Ready answers the readiness probe with the full [Report]; 503 when a
// required check fails.
func (p *Prober) Ready(w http.ResponseWriter, r *http.Request) {
	rep := p.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Register mounts /healthz and /readyz on mux.
func (p *Prober) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", p.Live)
	mux.HandleFunc("GET /readyz", p.Ready)
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
