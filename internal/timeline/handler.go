package timeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"timeline-inspector/internal/composition"
	"timeline-inspector/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const (
	reportContentType = "text/plain; charset=utf-8"
	jsonContentType   = "application/json"
	pngContentType    = "image/png"
)

// Handler exposes the timeline view-model over HTTP using go-chi.
type Handler struct {
	vm      *ViewModel
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler serving vm. Metrics may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(vm *ViewModel, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{vm: vm, log: log, metrics: m}
}

type envelopeResponse struct {
	TrackID          composition.TrackID `json:"track_id"`
	Index            int                 `json:"index"`
	Scale            float64             `json:"scale"`
	SamplesPerSecond int                 `json:"samples_per_second"`
	Samples          []float64           `json:"samples"`
}

type volumeResponse struct {
	TrackID composition.TrackID `json:"track_id"`
	Time    float64             `json:"time"`
	Volume  float64             `json:"volume"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GetTimeline handles GET /timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.vm.Snapshot())
}

// GetReport handles GET /timeline.txt.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", reportContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(BuildStatusReport(h.vm.Snapshot())))
}

// GetEnvelope handles GET /tracks/{track_id}/segments/{index}/envelope?scale=1.0.
func (h *Handler) GetEnvelope(w http.ResponseWriter, r *http.Request) {
	id, index, ok := segmentParams(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	scale := 1.0
	if s := r.URL.Query().Get("scale"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			h.log.Debug("invalid scale", slog.String("scale", s), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		scale = v
	}

	res, err := h.vm.Envelope(id, index, scale)
	if err != nil {
		h.writeError(w, err)
		return
	}
	samples := res.Samples
	if samples == nil {
		samples = []float64{}
	}
	// JSON has no NaN or infinities; report the clamped scale that was applied.
	switch {
	case math.IsNaN(scale) || scale < 0:
		scale = 0
	case scale > 1:
		scale = 1
	}
	h.writeJSON(w, http.StatusOK, envelopeResponse{
		TrackID:          id,
		Index:            index,
		Scale:            scale,
		SamplesPerSecond: res.SamplesPerSecond,
		Samples:          samples,
	})
}

// GetVolume handles GET /tracks/{track_id}/volume?t=0.
func (h *Handler) GetVolume(w http.ResponseWriter, r *http.Request) {
	id, ok := trackParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	at := 0.0
	if s := r.URL.Query().Get("t"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			h.log.Debug("invalid volume time", slog.String("t", s))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		at = v
	}

	vol, err := h.vm.VolumeAt(id, at)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, volumeResponse{TrackID: id, Time: at, Volume: vol})
}

// GetFrame handles GET /tracks/{track_id}/segments/{index}/frames/{n}.png.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	id, index, ok := segmentParams(r)
	n, nok := frameParam(r)
	if !ok || !nok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f, err := h.vm.Frame(id, index, n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePNG(w, f.Image)
}

// GetPreviewFrame handles GET /preview/frames/{n}.png.
func (h *Handler) GetPreviewFrame(w http.ResponseWriter, r *http.Request) {
	n, ok := frameParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f, err := h.vm.PreviewFrame(n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writePNG(w, f.Image)
}

// BeginDerivation handles POST /derivation/begin. Repeated calls are no-ops.
func (h *Handler) BeginDerivation(w http.ResponseWriter, r *http.Request) {
	h.vm.Begin()
	h.log.Info("derivation begin requested")
	if h.metrics != nil {
		h.metrics.IncDerivationControl("begin")
	}
	w.WriteHeader(http.StatusAccepted)
}

// CancelDerivation handles POST /derivation/cancel.
func (h *Handler) CancelDerivation(w http.ResponseWriter, r *http.Request) {
	h.vm.Cancel()
	h.log.Info("derivation cancel requested")
	if h.metrics != nil {
		h.metrics.IncDerivationControl("cancel")
	}
	w.WriteHeader(http.StatusOK)
}

func trackParam(r *http.Request) (composition.TrackID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "track_id"), 10, 32)
	if err != nil {
		return 0, false
	}
	return composition.TrackID(id), true
}

func segmentParams(r *http.Request) (composition.TrackID, int, bool) {
	id, ok := trackParam(r)
	if !ok {
		return 0, 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, 0, false
	}
	return id, index, true
}

// frameParam reads {n} from a "{n}.png" path element.
func frameParam(r *http.Request) (int, bool) {
	s := strings.TrimSuffix(chi.URLParam(r, "n"), ".png")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownTrack), errors.Is(err, ErrUnknownSegment),
		errors.Is(err, ErrFrameOutOfRange), errors.Is(err, ErrEmptyRange):
		return http.StatusNotFound
	case errors.Is(err, ErrNoAudioTrack), errors.Is(err, ErrNoVideoTrack):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrDerivationFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.Error("timeline request failed", slog.String("error", err.Error()))
	} else {
		h.log.Debug("timeline request rejected", slog.Int("status", code), slog.String("error", err.Error()))
	}
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	h.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(code)
	w.Write(body)
}

func (h *Handler) writePNG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		h.log.Error("encode frame failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", pngContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
