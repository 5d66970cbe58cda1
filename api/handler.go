// Package api exposes the scheduler over a small JSON HTTP interface used by
// front desk and UI collaborators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/clinicflow/app"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/prediction"
	"github.com/kilianp07/clinicflow/core/simulator"
)

// Backend is the part of app.Service served over HTTP.
type Backend interface {
	Schedule() (*model.OptimizedSchedule, error)
	State() (*model.SchedulerState, error)
	GetSystemStats() (app.SystemStats, error)
	AnalyzeRisk(schedule *model.OptimizedSchedule, state *model.SchedulerState, scenarios int) (*simulator.RiskAnalysis, error)
	SubmitEvent(ev model.SchedulerEvent) (bool, error)
	ForceReoptimization() (*model.OptimizedSchedule, error)
	UpdateParameters(patch model.ParamsPatch) (model.SchedulerParams, error)
	ClassifyPriority(symptoms []string, age int, vitals *prediction.VitalSigns) (prediction.Classification, error)
}

// MaxRiskScenarios bounds the Monte Carlo run a single risk request may ask
// for.
const MaxRiskScenarios = 10000

// EventResponse reports whether a submitted event was queued.
type EventResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// ClassifyRequest is the body of POST /api/classify.
type ClassifyRequest struct {
	Symptoms []string               `json:"symptoms"`
	Age      int                    `json:"age"`
	Vitals   *prediction.VitalSigns `json:"vitals,omitempty"`
}

// NewHandler routes the API. Requests must carry "Bearer <token>" when token
// is non-empty.
func NewHandler(b Backend, token string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/schedule", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		s, err := b.Schedule()
		respond(w, s, err)
	}))
	mux.Handle("/api/state", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		s, err := b.State()
		respond(w, s, err)
	}))
	mux.Handle("/api/stats", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		s, err := b.GetSystemStats()
		respond(w, s, err)
	}))
	mux.Handle("/api/risk", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		scenarios := 0
		if s := r.URL.Query().Get("scenarios"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid scenarios", http.StatusBadRequest)
				return
			}
			if n > MaxRiskScenarios {
				http.Error(w, fmt.Sprintf("scenarios must not exceed %d", MaxRiskScenarios), http.StatusBadRequest)
				return
			}
			scenarios = n
		}
		ra, err := b.AnalyzeRisk(nil, nil, scenarios)
		respond(w, ra, err)
	}))
	mux.Handle("/api/events", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var ev model.SchedulerEvent
		if !decode(w, r, &ev) {
			return
		}
		if err := ev.Validate(); err != nil {
			respond(w, nil, err)
			return
		}
		ok, err := b.SubmitEvent(ev)
		if err != nil {
			respond(w, nil, err)
			return
		}
		status := http.StatusAccepted
		if !ok {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, EventResponse{ID: ev.ID, Accepted: ok})
	}))
	mux.Handle("/api/reoptimize", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		s, err := b.ForceReoptimization()
		respond(w, s, err)
	}))
	mux.Handle("/api/params", method(http.MethodPatch, func(w http.ResponseWriter, r *http.Request) {
		var patch model.ParamsPatch
		if !decode(w, r, &patch) {
			return
		}
		p, err := b.UpdateParameters(patch)
		respond(w, p, err)
	}))
	mux.Handle("/api/classify", method(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var req ClassifyRequest
		if !decode(w, r, &req) {
			return
		}
		c, err := b.ClassifyPriority(req.Symptoms, req.Age, req.Vitals)
		respond(w, c, err)
	}))
	if token == "" {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// Serve runs h on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func method(m string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			w.Header().Set("Allow", m)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// respond maps the service error taxonomy onto status codes.
func respond(w http.ResponseWriter, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.Is(err, model.ErrNotInitialized):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
