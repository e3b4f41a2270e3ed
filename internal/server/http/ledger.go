package httpserver

import (
	"net/http"
	"strconv"
)

// handleLedgerRead streams a work order's ledger entries for takeover
// inspection: ?tenant_id=&work_order_id=&from_seq=&limit=.
func (s *Server) handleLedgerRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	tenant := q.Get("tenant_id")
	workOrder := q.Get("work_order_id")
	if tenant == "" || workOrder == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and work_order_id are required")
		return
	}
	var fromSeq uint64
	if v := q.Get("from_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_seq")
			return
		}
		fromSeq = n
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.rt.Ledger().Read(tenant, workOrder, fromSeq, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
