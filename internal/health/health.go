// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// runs every registered [Checker] and answers 200 only if all of them pass,
// 503 otherwise; load balancers and orchestrators use it to keep new calls
// away from an instance whose database or providers are gone.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkBudget is the shared deadline for one /readyz sweep. Checks run
// concurrently, so the endpoint responds within one budget even when several
// dependencies are timing out at once.
const checkBudget = 5 * time.Second

// Checker probes one dependency. Check returns nil when healthy and must
// honour ctx, which carries the sweep deadline.
type Checker struct {
	// Name keys the check in the JSON response ("postgres", "providers").
	Name string

	Check func(ctx context.Context) error
}

// checkStatus is the per-dependency slice of the /readyz body.
type checkStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// report is the body of both probe responses.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkStatus `json:"checks,omitempty"`
}

// Handler owns the probe endpoints. The checker set is fixed at construction
// and the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe. Reaching it at all is the signal, so it
// unconditionally reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checkers concurrently under one budget and reports 200
// with per-check details when everything passes, 503 when anything fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkBudget)
	defer cancel()

	results := make([]checkStatus, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			results[i] = checkStatus{
				Status:    "ok",
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = "fail"
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()

	body := report{Status: "ok", Checks: make(map[string]checkStatus, len(results))}
	code := http.StatusOK
	for i, c := range h.checkers {
		body.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			body.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}
	respond(w, code, body)
}

func respond(w http.ResponseWriter, code int, body report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	// An encode failure here means the connection is gone; there is nothing
	// useful left to write.
	_ = json.NewEncoder(w).Encode(body)
}
