package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"

	"github.com/kestrelhq/keel/internal/lease"
)

type leaseReq struct {
	TenantID    string `json:"tenant_id"`
	WorkOrderID string `json:"work_order_id"`
	OwnerID     string `json:"owner_id"`
	TTLMs       int64  `json:"ttl_ms,omitempty"`
	Token       string `json:"token,omitempty"`
	// NowNs lets callers drive the coordinator from their own clock;
	// when zero the server clock is used.
	NowNs int64 `json:"now_ns,omitempty"`
}

type leaseResp struct {
	Facts    lease.Facts    `json:"facts"`
	Decision lease.Decision `json:"decision"`
}

// handleLease serves acquire, renew, and release; the operation is the last
// path segment.
func (s *Server) handleLease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	op, err := lease.ParseOperation(path.Base(r.URL.Path))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req leaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	nowNs := req.NowNs
	if nowNs == 0 {
		nowNs = s.nowNs()
	}

	facts, decision, err := s.rt.Leases().Evaluate(r.Context(), lease.Request{
		Ref:      lease.WorkOrderRef{TenantID: req.TenantID, WorkOrderID: req.WorkOrderID},
		OwnerID:  req.OwnerID,
		Op:       op,
		TTLMs:    req.TTLMs,
		NowNs:    nowNs,
		Token:    req.Token,
		MaxTTLMs: s.rt.Config().Lease.MaxTTLMs,
	})
	if err != nil {
		if errors.Is(err, lease.ErrContract) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.rt.Metrics().ObserveLeaseDecision(decision)

	status := http.StatusOK
	if !decision.Granted() {
		status = http.StatusConflict
	}
	writeJSON(w, status, leaseResp{Facts: facts, Decision: decision})
}
