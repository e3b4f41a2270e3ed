package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/pkg/id"
)

type enqueueReq struct {
	Kind                string `json:"sync_kind"`
	ReceiptRef          string `json:"receipt_ref"`
	ArtifactProfileID   string `json:"artifact_profile_id"`
	OnboardingSessionID string `json:"onboarding_session_id,omitempty"`
	TenantID            string `json:"tenant_id"`
	UserID              string `json:"user_id,omitempty"`
	DeviceID            string `json:"device_id"`
	IdempotencyKey      string `json:"idempotency_key,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	jobID, err := s.rt.Queue().Enqueue(r.Context(), syncqueue.Item{
		Kind:                req.Kind,
		ReceiptRef:          req.ReceiptRef,
		ArtifactProfileID:   req.ArtifactProfileID,
		OnboardingSessionID: req.OnboardingSessionID,
		TenantID:            req.TenantID,
		UserID:              req.UserID,
		DeviceID:            req.DeviceID,
		IdempotencyKey:      req.IdempotencyKey,
	}, s.nowMs())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sync_job_id": jobID.String()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.rt.Queue().Stats(s.nowMs())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.rt.Metrics().SetQueueStats(stats)
	writeJSON(w, http.StatusOK, stats)
}

// handleDeadLetters lists dead-lettered rows, optionally filtered with a
// CEL expression over the row fields (?filter=...).
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	filter, err := syncqueue.NewFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	rows, err := s.rt.Queue().ListDeadLetters(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	nowMs := s.nowMs()
	out := make([]syncqueue.Item, 0, len(rows))
	for _, row := range rows {
		if filter.Match(row, nowMs) {
			out = append(out, row)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

type requeueReq struct {
	SyncJobID string `json:"sync_job_id"`
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req requeueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	jobID, err := id.Parse(req.SyncJobID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync_job_id")
		return
	}
	if err := s.rt.Queue().Requeue(r.Context(), jobID, s.nowMs()); err != nil {
		switch {
		case errors.Is(err, syncqueue.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, syncqueue.ErrWrongState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) handleWorkerPass(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pm, err := s.rt.RunWorkerPass(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pm)
}
