package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/capture"
	"github.com/amanullahtanweer/speaker-recognizer/internal/ratio"
	"github.com/amanullahtanweer/speaker-recognizer/internal/segment"
	"github.com/amanullahtanweer/speaker-recognizer/internal/session"
	"github.com/sirupsen/logrus"
)

type (
	Controller interface {
		Start() error
		Stop(submit bool)
		Rotate() error
		State() session.State
		Current() (segment.Segment, bool)
	}

	RatioSource interface {
		Ratio() (ratio.Ratio, bool)
		Totals() ratio.Totals
		Reset(ctx context.Context) error
	}
)

type SegmentStatus struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"started_at"`
}

type SessionStatus struct {
	State   string         `json:"state"`
	Segment *SegmentStatus `json:"segment,omitempty"`
}

type RatioStatus struct {
	Defined       bool    `json:"defined"`
	Male          float64 `json:"male"`
	Female        float64 `json:"female"`
	Revision      uint64  `json:"revision"`
	MaleSeconds   float64 `json:"male_seconds"`
	FemaleSeconds float64 `json:"female_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	ctrl   Controller
	ratios RatioSource
	log    logrus.FieldLogger
	mux    *http.ServeMux
}

// NewHandler serves the control API; events may be nil to disable the
// WebSocket endpoint
func NewHandler(ctrl Controller, ratios RatioSource, events http.Handler, log logrus.FieldLogger) *Handler {
	h := &Handler{
		ctrl:   ctrl,
		ratios: ratios,
		log:    log,
		mux:    http.NewServeMux(),
	}
	if events != nil {
		h.mux.Handle("GET /events", events)
	}
	h.mux.HandleFunc("GET /session", h.getSession)
	h.mux.HandleFunc("POST /session/start", h.startSession)
	h.mux.HandleFunc("POST /session/stop", h.stopSession)
	h.mux.HandleFunc("POST /session/rotate", h.rotateSession)
	h.mux.HandleFunc("GET /ratio", h.getRatio)
	h.mux.HandleFunc("DELETE /ratio", h.resetRatio)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Start(); err != nil {
		h.writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) rotateSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Rotate(); err != nil {
		h.writeJSON(w, statusCode(err), errorResponse{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.status())
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, capture.ErrDeviceBusy), errors.Is(err, session.ErrIdle):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	submit := true
	if v := r.URL.Query().Get("submit"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "submit must be a boolean"})
			return
		}
		submit = b
	}
	h.ctrl.Stop(submit)
	h.writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) getRatio(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ratioStatus())
}

func (h *Handler) resetRatio(w http.ResponseWriter, r *http.Request) {
	if err := h.ratios.Reset(r.Context()); err != nil {
		h.log.WithError(err).Error("Failed to reset totals")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	h.log.Info("Totals reset")
	h.writeJSON(w, http.StatusOK, h.ratioStatus())
}

func (h *Handler) ratioStatus() RatioStatus {
	rt, ok := h.ratios.Ratio()
	totals := h.ratios.Totals()
	return RatioStatus{
		Defined:       ok,
		Male:          rt.Male,
		Female:        rt.Female,
		Revision:      rt.Revision,
		MaleSeconds:   totals.Male,
		FemaleSeconds: totals.Female,
	}
}

func (h *Handler) status() SessionStatus {
	st := SessionStatus{State: h.ctrl.State().String()}
	if seg, ok := h.ctrl.Current(); ok {
		st.Segment = &SegmentStatus{
			ID:        seg.ID.String(),
			Path:      seg.Path,
			StartedAt: seg.StartedAt,
		}
	}
	return st
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Debug("Failed to write response")
	}
}
