package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"hls-abr/internal/abr"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds request bodies, manifests included.
const maxBodyBytes = 1 << 20

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler over svc. Metrics are recorded by the Service.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes mounts the session API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.EndSession)
		r.Put("/manifest", h.PutManifest)
		r.Get("/manifest.m3u8", h.GetManifest)
		r.Post("/telemetry", h.PostTelemetry)
		r.Post("/segments/request", h.RequestSegment)
		r.Post("/segments/response", h.CompleteSegment)
	})
}

func sessionID(r *http.Request) ID {
	return ID(chi.URLParam(r, "session_id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrSessionEnded),
		errors.Is(err, abr.ErrProtocol),
		errors.Is(err, abr.ErrNoManifest):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidManifest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("session_id", string(sessionID(r))),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.log.Debug("bad request",
		slog.String("path", r.URL.Path),
		slog.String("error", msg))
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.Create()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]ID{"session_id": id})
}

type manifestBody struct {
	Bitrates []float64 `json:"bitrates"`
}

// PutManifest handles PUT /sessions/{session_id}/manifest.
// Body: {"bitrates": [...]} or an HLS master playlist.
func (h *Handler) PutManifest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.badRequest(w, r, "unreadable body")
		return
	}

	var bitrates []float64
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, playlistContentType) || bytes.HasPrefix(bytes.TrimSpace(raw), []byte("#EXTM3U")) {
		bitrates, err = ParseMasterPlaylist(bytes.NewReader(raw))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	} else {
		var body manifestBody
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			h.badRequest(w, r, "invalid manifest body: "+err.Error())
			return
		}
		bitrates = body.Bitrates
	}

	if err := h.svc.SetManifest(sessionID(r), bitrates); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetManifest handles GET /sessions/{session_id}/manifest.m3u8.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	m3u8, err := h.svc.Manifest(sessionID(r), "rendition/")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
}

func validMeasure(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0)
}

// PostTelemetry handles POST /sessions/{session_id}/telemetry.
// Body: {"buffer_level": 12.5, "buffering_time": 30, "pause": false}.
func (h *Handler) PostTelemetry(w http.ResponseWriter, r *http.Request) {
	var rep TelemetryReport
	if err := decodeJSON(r, &rep); err != nil {
		h.badRequest(w, r, "invalid telemetry body: "+err.Error())
		return
	}
	if rep.BufferLevel == nil && rep.BufferingTime == nil && !rep.Pause {
		h.badRequest(w, r, "empty telemetry report")
		return
	}
	if !validMeasure(rep.BufferLevel) || !validMeasure(rep.BufferingTime) {
		h.badRequest(w, r, "buffer measures must be finite and not negative")
		return
	}
	if err := h.svc.ReportTelemetry(sessionID(r), rep); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestSegment handles POST /sessions/{session_id}/segments/request and
// returns the representation to fetch.
func (h *Handler) RequestSegment(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.RequestSegment(sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type segmentResponseBody struct {
	Bits *int64 `json:"bits"`
}

// CompleteSegment handles POST /sessions/{session_id}/segments/response.
// Body: {"bits": 4000000}.
func (h *Handler) CompleteSegment(w http.ResponseWriter, r *http.Request) {
	var body segmentResponseBody
	if err := decodeJSON(r, &body); err != nil {
		h.badRequest(w, r, "invalid segment body: "+err.Error())
		return
	}
	if body.Bits == nil || *body.Bits < 0 {
		h.badRequest(w, r, "bits must be present and not negative")
		return
	}
	if err := h.svc.CompleteSegment(sessionID(r), *body.Bits); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// EndSession handles DELETE /sessions/{session_id}.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.End(sessionID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
