package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mattjoyce/tourguide/internal/errs"
	"github.com/mattjoyce/tourguide/internal/report"
	"github.com/mattjoyce/tourguide/internal/route"
	"github.com/mattjoyce/tourguide/internal/state"
	"github.com/mattjoyce/tourguide/internal/tempo"
	"github.com/mattjoyce/tourguide/internal/tour"
)

const maxRequestBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	open := []string{}
	for _, b := range s.breakers {
		if b.BreakerState() == "open" {
			open = append(open, b.ID())
		}
	}

	status := "ok"
	if len(open) > 0 {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		ActiveTours:   len(s.tours.Active()),
		WorkersLoaded: s.workers,
		BreakersOpen:  open,
	})
}

// handleStartTour handles POST /tours. With ?wait=true it blocks until the
// tour finishes (or MaxWait passes) and returns the summary.
func (s *Server) handleStartTour(w http.ResponseWriter, r *http.Request) {
	var req StartTourRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	rt, err := route.Parse(req.Route)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := s.tours.Start(r.Context(), rt, tour.StartOptions{
		Mode:        tempo.Mode(req.Mode),
		Interval:    req.IntervalSeconds,
		TimeScale:   req.TimeScale,
		MaxInFlight: req.MaxInFlight,
	})
	if err != nil {
		s.writeTourError(w, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, TourStartedResponse{
			RunID:          o.RunID(),
			Status:         string(report.StatusRunning),
			TotalJunctions: rt.JunctionCount(),
			Mode:           string(o.Mode()),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxWait)
	defer cancel()
	rep, err := o.Wait(ctx)
	if err != nil {
		// Still running; hand back progress so the client can poll.
		progress := o.Progress()
		respondJSON(w, http.StatusAccepted, TourResponse{
			RunID:    o.RunID(),
			Status:   string(report.StatusRunning),
			Progress: &progress,
		})
		return
	}
	summary := rep.Summary()
	respondJSON(w, http.StatusOK, TourResponse{
		RunID:   rep.RunID,
		Status:  string(rep.Status),
		Summary: &summary,
	})
}

// handleListTours handles GET /tours.
func (s *Server) handleListTours(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recent, err := s.tours.History(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list tours", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tours")
		return
	}
	resp := TourListResponse{Active: s.tours.Active(), Recent: recent}
	if resp.Recent == nil {
		resp.Recent = []state.RunRecord{}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetTour handles GET /tours/{runID}. ?full=true returns the complete report.
func (s *Server) handleGetTour(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if o, ok := s.tours.Live(runID); ok && o.Report() == nil {
		progress := o.Progress()
		respondJSON(w, http.StatusOK, TourResponse{
			RunID:    runID,
			Status:   string(report.StatusRunning),
			Progress: &progress,
		})
		return
	}

	rep, err := s.tours.Report(r.Context(), runID)
	if err != nil {
		s.writeTourError(w, err)
		return
	}
	if r.URL.Query().Get("full") == "true" {
		respondJSON(w, http.StatusOK, rep)
		return
	}
	summary := rep.Summary()
	respondJSON(w, http.StatusOK, TourResponse{
		RunID:   rep.RunID,
		Status:  string(rep.Status),
		Summary: &summary,
	})
}

// handleControlTour handles POST /tours/{runID}/{pause|resume|stop|trigger}.
func (s *Server) handleControlTour(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	action := chi.URLParam(r, "action")

	switch action {
	case "pause", "resume", "stop", "trigger":
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}

	o, ok := s.tours.Live(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "tour not found or already finished")
		return
	}
	if err := s.tours.Control(runID, action); err != nil {
		s.writeTourError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ControlResponse{
		RunID:  runID,
		Action: action,
		State:  string(o.Progress().State),
	})
}

// writeTourError maps domain errors onto status codes.
func (s *Server) writeTourError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tour.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "tour not found")
	case errors.Is(err, tour.ErrBusy):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, tour.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errs.ErrConfiguration):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tempo.ErrNotRunning), errors.Is(err, tempo.ErrNotPaused), errors.Is(err, tempo.ErrNotManual):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("tour request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// jsonFieldName makes validation errors name fields the way clients send them.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
