package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gpucachelab/hotpage/internal/accessevents"
	"github.com/gpucachelab/hotpage/internal/blockmap"
	"github.com/gpucachelab/hotpage/internal/device"
	"github.com/gpucachelab/hotpage/internal/hotness/expdecay"
	"github.com/gpucachelab/hotpage/internal/observability"
)

type scoresRequest struct {
	// AccessCounts/LastAccessTimes omitted means "score what the in-process
	// tracker has seen".
	AccessCounts    map[string]float64 `json:"access_counts"`
	LastAccessTimes map[string]float64 `json:"last_access_times"`
	CurrentTime     *float64           `json:"current_time"`
	HalfLife        *float64           `json:"half_life"`
}

type scoresResponse struct {
	Scores map[string]float64 `json:"scores"`
	Keys   int                `json:"keys"`
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req scoresRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/scores", http.StatusBadRequest, start)
		return
	}

	counts, lastAccess := req.AccessCounts, req.LastAccessTimes
	if counts == nil {
		counts, lastAccess = s.tracker.Snapshot()
		if max := s.cfg.SnapshotMaxKeys; max > 0 && len(counts) > max {
			s.log.Warn("snapshot truncated", "tracked", len(counts), "max", max)
			counts = capKeys(counts, max)
		}
	}

	now := unixSeconds(s.now())
	if req.CurrentTime != nil {
		now = *req.CurrentTime
	}
	halfLife := s.cfg.HotHalfLife.Seconds()
	if req.HalfLife != nil {
		halfLife = *req.HalfLife
	}

	scores, err := expdecay.Scores(counts, lastAccess, now, halfLife)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/scores", http.StatusBadRequest, start)
		return
	}
	observability.ObserveScoreBatch(len(scores), s.now().Sub(start).Seconds())

	if s.cfg.HotThreshold > 0 {
		hot := 0
		for _, sc := range scores {
			if sc >= s.cfg.HotThreshold {
				hot++
			}
		}
		observability.SetHotPages(hot)
	}

	writeJSON(w, http.StatusOK, scoresResponse{Scores: scores, Keys: len(scores)})
	observeRoute(r, "/v1/scores", http.StatusOK, start)
}

type accessRequest struct {
	Pages  []string `json:"pages"`
	Device int      `json:"device"`
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req accessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/access", http.StatusBadRequest, start)
		return
	}
	if len(req.Pages) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("pages required"))
		observeRoute(r, "/v1/access", http.StatusBadRequest, start)
		return
	}

	ts := s.now()
	for _, page := range req.Pages {
		s.tracker.Inc(page)
		if s.events != nil {
			s.events.Publish(accessevents.Event{Page: page, Device: req.Device, TS: ts})
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"recorded": len(req.Pages)})
	observeRoute(r, "/v1/access", http.StatusAccepted, start)
}

type transferRequest struct {
	Device    int       `json:"device"`
	DstDevice int       `json:"dst_device"`
	DType     string    `json:"dtype"`
	Shape     []int     `json:"shape"`
	Values    []float32 `json:"values"`
	// Echo returns the destination payload decoded back to floats, making
	// staging precision loss (fp16/int8 rounding) visible to the caller.
	Echo bool `json:"echo,omitempty"`
}

type transferResponse struct {
	Device     int       `json:"device"`
	Bytes      int       `json:"bytes"`
	DurationMS float64   `json:"duration_ms"`
	Values     []float32 `json:"values,omitempty"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/transfer", http.StatusBadRequest, start)
		return
	}

	dt, err := device.ParseDType(req.DType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/transfer", http.StatusBadRequest, start)
		return
	}
	data, err := device.EncodeValues(req.Values, dt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/transfer", http.StatusBadRequest, start)
		return
	}
	src := device.Tensor{Device: req.Device, DType: dt, Shape: req.Shape, Data: data}

	dst, err := device.Transfer(r.Context(), s.runtime, src, req.DstDevice)
	elapsed := s.now().Sub(start)
	observability.ObserveTransfer(req.DstDevice, len(data), elapsed.Seconds(), err)
	if err != nil {
		status := transferStatus(err)
		s.log.Warn("transfer failed", "dst", req.DstDevice, "err", err)
		writeError(w, status, err)
		observeRoute(r, "/v1/transfer", status, start)
		return
	}

	resp := transferResponse{
		Device:     dst.Device,
		Bytes:      len(dst.Data),
		DurationMS: float64(elapsed) / float64(time.Millisecond),
	}
	if req.Echo {
		vals, err := device.DecodeValues(dst.Data, dst.DType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			observeRoute(r, "/v1/transfer", http.StatusInternalServerError, start)
			return
		}
		resp.Values = vals
	}
	writeJSON(w, http.StatusOK, resp)
	observeRoute(r, "/v1/transfer", http.StatusOK, start)
}

func transferStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrUnsupportedDType),
		errors.Is(err, device.ErrBadTensor):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrAllocation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type registerBlockRequest struct {
	SizeMB int    `json:"size_mb"`
	Device int    `json:"device"`
	Tier   string `json:"tier"`
}

func (s *Server) handleRegisterBlock(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	var req registerBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/blocks", http.StatusBadRequest, start)
		return
	}

	b, err := s.blocks.Register(req.SizeMB, req.Device, blockmap.Tier(req.Tier))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/blocks", http.StatusBadRequest, start)
		return
	}
	writeJSON(w, http.StatusCreated, b)
	observeRoute(r, "/v1/blocks", http.StatusCreated, start)
}

type migrateBlockRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleMigrateBlock(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	id := chi.URLParam(r, "id")
	var req migrateBlockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/blocks/migrate", http.StatusBadRequest, start)
		return
	}

	b, err := s.blocks.Migrate(id, blockmap.Tier(req.Tier))
	switch {
	case errors.Is(err, blockmap.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		observeRoute(r, "/v1/blocks/migrate", http.StatusNotFound, start)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		observeRoute(r, "/v1/blocks/migrate", http.StatusBadRequest, start)
		return
	}
	writeJSON(w, http.StatusOK, b)
	observeRoute(r, "/v1/blocks/migrate", http.StatusOK, start)
}

func (s *Server) handleBlockSummary(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	writeJSON(w, http.StatusOK, s.blocks.Summarize())
	observeRoute(r, "/v1/blocks/summary", http.StatusOK, start)
}

// capKeys bounds a snapshot-fed scoring pass. Which pages survive the cut is
// arbitrary; extra entries in lastAccess are already ignored by the scorer.
func capKeys(counts map[string]float64, max int) map[string]float64 {
	out := make(map[string]float64, max)
	for k, v := range counts {
		if len(out) == max {
			break
		}
		out[k] = v
	}
	return out
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func observeRoute(r *http.Request, route string, status int, start time.Time) {
	observability.ObserveHTTP(r.Method, route, status, time.Since(start).Seconds())
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
