package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dreamit/concierge/internal/concierge"
	"github.com/dreamit/concierge/internal/resort"
)

// routes registers the local control surface on mux.
func (a *App) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/concierge", a.handleSnapshot)
	mux.HandleFunc("POST /v1/concierge/start", a.handleStart)
	mux.HandleFunc("POST /v1/concierge/close", a.handleClose)
	mux.HandleFunc("GET /v1/concierge/visual", a.handleVisual)
	mux.HandleFunc("DELETE /v1/concierge/visual", a.handleClearVisual)
	mux.HandleFunc("GET /v1/resorts", a.handleResorts)
	mux.HandleFunc("GET /v1/resorts/{name}", a.handleResort)
	a.health.Register(mux)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", a.metricsHandler())
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

func (a *App) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

// handleStart opens a session. The session outlives the request, so the
// request's cancellation is not propagated to it.
func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.ctrl.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Warn("start failed", "err", err)
		writeJSON(w, startStatus(err), errorBody{Error: err.Error(), Status: a.ctrl.Status()})
		return
	}
	writeJSON(w, http.StatusAccepted, a.ctrl.Snapshot())
}

// startStatus maps a Start failure onto an HTTP status code.
func startStatus(err error) int {
	var acq *concierge.AcquisitionError
	switch {
	case concierge.IsCredentialError(err):
		return http.StatusUnauthorized
	case errors.As(err, &acq):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (a *App) handleClose(w http.ResponseWriter, _ *http.Request) {
	if err := a.ctrl.Close(); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.ctrl.Snapshot())
}

func (a *App) handleVisual(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.display.Current())
}

func (a *App) handleClearVisual(w http.ResponseWriter, _ *http.Request) {
	a.display.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleResorts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("category")
	if q == "" {
		writeJSON(w, http.StatusOK, a.catalog.All())
		return
	}
	cat, err := resort.ParseCategory(q)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.catalog.ByCategory(cat))
}

type resortBody struct {
	Resort resort.Resort `json:"resort"`
	Match  string        `json:"match"`
	Score  float64       `json:"score"`
}

func (a *App) handleResort(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, m, ok := a.catalog.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "resort not found: " + name})
		return
	}
	writeJSON(w, http.StatusOK, resortBody{Resort: res, Match: m.Kind.String(), Score: m.Score})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
