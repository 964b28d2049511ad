// Package health serves liveness and readiness probes for the local
// observability listener.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Check] concurrently and answers 200 only if all of them
// pass; the body reports each check's outcome so a failing dependency can be
// identified from the probe alone.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// probeTimeout bounds each readiness check.
const probeTimeout = 5 * time.Second

// Check is a named readiness probe. Probe returns nil when the dependency is
// usable and must respect context cancellation.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// probeResult is the per-check entry in the readiness response.
type probeResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// report is the response body of both endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checks []Check
}

// New builds a [Handler] evaluating the given checks on every /readyz
// request.
func New(checks ...Check) *Handler {
	h := &Handler{checks: make([]Check, len(checks))}
	copy(h.checks, checks)
	return h
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checks in parallel, each bounded by [probeTimeout], and
// reports 503 if any of them fail.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]probeResult, len(h.checks))
		ready   = true
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			res := probeResult{Status: "ok"}
			if err := c.Probe(ctx); err != nil {
				res = probeResult{Status: "fail", Error: err.Error()}
			}

			mu.Lock()
			results[c.Name] = res
			if res.Error != "" {
				ready = false
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: results}
	status := http.StatusOK
	if !ready {
		rep.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Endpoint returns a [Check] verifying that the transcription service at
// rawURL accepts TCP connections. A missing port defaults to 443 for wss
// and 80 for ws.
func Endpoint(name, rawURL string) Check {
	return Check{
		Name: name,
		Probe: func(ctx context.Context) error {
			u, err := url.Parse(rawURL)
			if err != nil {
				return fmt.Errorf("parse endpoint: %w", err)
			}
			host := u.Host
			if u.Port() == "" {
				port := "80"
				if u.Scheme == "wss" {
					port = "443"
				}
				host = net.JoinHostPort(u.Hostname(), port)
			}
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", host)
			if err != nil {
				return fmt.Errorf("dial %s: %w", host, err)
			}
			return conn.Close()
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
