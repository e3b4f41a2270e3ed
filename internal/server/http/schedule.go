package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kestrelhq/keel/internal/schedule"
)

type scheduleReq struct {
	NowNs             int64 `json:"now_ns,omitempty"`
	StepStartedAtNs   int64 `json:"step_started_at_ns"`
	TimeoutMs         int64 `json:"timeout_ms"`
	MaxRetries        int   `json:"max_retries"`
	BackoffMs         int64 `json:"backoff_ms"`
	AttemptIndex      int   `json:"attempt_index"`
	LastFailureReason *int  `json:"last_failure_reason,omitempty"`
	RetryableReasons  []int `json:"retryable_reasons,omitempty"`
}

type scheduleResp struct {
	Facts    schedule.Facts    `json:"facts"`
	Decision schedule.Decision `json:"decision"`
}

// handleScheduleEvaluate computes one retry/wait/fail decision for remote
// step executors. It persists nothing; the caller owns the step state.
func (s *Server) handleScheduleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	nowNs := req.NowNs
	if nowNs == 0 {
		nowNs = s.nowNs()
	}
	in := schedule.Input{
		NowNs:            nowNs,
		StepStartedAtNs:  req.StepStartedAtNs,
		TimeoutMs:        req.TimeoutMs,
		MaxRetries:       req.MaxRetries,
		BackoffMs:        req.BackoffMs,
		AttemptIndex:     req.AttemptIndex,
		RetryableReasons: schedule.NewReasonSet(req.RetryableReasons...),
		WaitIsPauseOnly:  true,
	}
	if req.LastFailureReason != nil {
		in.LastFailureReason = *req.LastFailureReason
		in.HasFailureReason = true
	}

	facts, decision, err := schedule.Evaluate(in)
	if err != nil {
		if errors.Is(err, schedule.ErrContract) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := schedule.ValidateDecision(decision); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduleResp{Facts: facts, Decision: decision})
}
