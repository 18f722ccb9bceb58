// Package health serves the client's liveness and readiness endpoints next to
// /metrics on the telemetry listener.
//
// /healthz answers 200 while the process can serve HTTP. /readyz answers 200
// only when every [Checker] passes; the client registers one for the
// microphone and one for the server channel. Both reply with a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker tests one dependency. Check returns nil when it is usable.
type Checker struct {
	// Name keys the result in [Report.Checks], e.g. "microphone".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// Condition returns a [Checker] that passes while ok reports true and fails
// with reason otherwise. It suits state flags such as "microphone acquired".
func Condition(name string, ok func() bool, reason string) Checker {
	failure := errors.New(reason)
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !ok() {
				return failure
			}
			return nil
		},
	}
}

// Report is the body of both endpoints.
type Report struct {
	// Status is "ok" or "fail".
	Status string `json:"status"`

	// Checks maps each checker name to "ok" or "fail: <reason>".
	Checks map[string]string `json:"checks,omitempty"`
}

// Ready reports whether every check passed.
func (r Report) Ready() bool { return r.Status == "ok" }

// Handler serves the health endpoints. The checker list is fixed at construction, so
// it is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a handler that runs checkers in order on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Evaluate runs every checker, each under its own [checkTimeout].
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz is the readiness endpoint: 200 when [Handler.Evaluate] passes, 503
// otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if !rep.Ready() {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func respond(w http.ResponseWriter, code int, rep Report) {
	body, err := json.Marshal(rep)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
