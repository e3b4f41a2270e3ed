package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	cfgpkg "github.com/kestrelhq/keel/internal/config"
	"github.com/kestrelhq/keel/internal/ledger"
	"github.com/kestrelhq/keel/internal/runtime"
	"github.com/kestrelhq/keel/internal/schedule"
	pebblestore "github.com/kestrelhq/keel/internal/storage/pebble"
	"github.com/kestrelhq/keel/internal/syncqueue"
	"github.com/kestrelhq/keel/internal/worker"
)

func testQueueItem(kind string) syncqueue.Item {
	return syncqueue.Item{
		Kind:              kind,
		ReceiptRef:        "rcpt-1",
		ArtifactProfileID: "profile-1",
		TenantID:          "t1",
		DeviceID:          "dev-1",
	}
}

func newTestServer(t *testing.T) (*Server, *int64) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeNever,
		Config:  cfgpkg.Default(),
		Sender:  worker.LoopbackSender{},
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	s := New(rt)
	clock := int64(1_000)
	s.nowMs = func() int64 { return clock }
	s.nowNs = func() int64 { return clock * 1_000_000 }
	rt.Worker().NowMs = func() int64 { return clock }
	return s, &clock
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestLeaseAcquireRenewRelease(t *testing.T) {
	s, _ := newTestServer(t)

	body := map[string]any{
		"tenant_id":     "t1",
		"work_order_id": "wo-1",
		"owner_id":      "owner-a",
		"ttl_ms":        60_000,
		"now_ns":        1_000_000_000,
	}
	rec := doJSON(t, s, http.MethodPost, "/v1/lease/acquire", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("acquire status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Decision struct {
			Action      json.RawMessage `json:"action"`
			Token       string          `json:"token"`
			ExpiresAtNs int64           `json:"expires_at_ns"`
		} `json:"decision"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision.Token == "" {
		t.Fatal("acquire granted no token")
	}
	if resp.Decision.ExpiresAtNs != 1_000_000_000+60_000*1_000_000 {
		t.Fatalf("expires_at_ns = %d", resp.Decision.ExpiresAtNs)
	}

	// a competing owner is refused while the lease is live
	body2 := map[string]any{
		"tenant_id":     "t1",
		"work_order_id": "wo-1",
		"owner_id":      "owner-b",
		"ttl_ms":        60_000,
		"now_ns":        2_000_000_000,
	}
	rec = doJSON(t, s, http.MethodPost, "/v1/lease/acquire", body2)
	if rec.Code != http.StatusConflict {
		t.Fatalf("competing acquire status = %d", rec.Code)
	}

	// renew with the issued token
	body["token"] = resp.Decision.Token
	body["now_ns"] = int64(3_000_000_000)
	rec = doJSON(t, s, http.MethodPost, "/v1/lease/renew", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("renew status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/lease/release", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d: %s", rec.Code, rec.Body.String())
	}

	// after release the other owner can acquire
	rec = doJSON(t, s, http.MethodPost, "/v1/lease/acquire", body2)
	if rec.Code != http.StatusOK {
		t.Fatalf("post-release acquire status = %d", rec.Code)
	}
}

func TestLeaseContractViolationIs400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/lease/acquire", map[string]any{
		"work_order_id": "wo-1",
		"owner_id":      "owner-a",
		"ttl_ms":        60_000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestScheduleEvaluate(t *testing.T) {
	s, _ := newTestServer(t)

	// retryable failure with budget left schedules the next attempt
	rec := doJSON(t, s, http.MethodPost, "/v1/schedule/evaluate", map[string]any{
		"now_ns":              int64(10_000_000_000),
		"step_started_at_ns":  int64(9_000_000_000),
		"timeout_ms":          30_000,
		"max_retries":         3,
		"backoff_ms":          5_000,
		"attempt_index":       1,
		"last_failure_reason": 503,
		"retryable_reasons":   []int{429, 503},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Facts    schedule.Facts    `json:"facts"`
		Decision schedule.Decision `json:"decision"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision.Action != schedule.ActionRetryAt {
		t.Fatalf("decision = %+v", resp.Decision)
	}
	if resp.Decision.AttemptNextIndex != 2 || resp.Decision.NextDueAtNs != 15_000_000_000 {
		t.Fatalf("decision = %+v", resp.Decision)
	}

	// no failure reason, budget left: wait without progress
	rec = doJSON(t, s, http.MethodPost, "/v1/schedule/evaluate", map[string]any{
		"now_ns":             int64(10_000_000_000),
		"step_started_at_ns": int64(9_000_000_000),
		"timeout_ms":         30_000,
		"max_retries":        3,
		"attempt_index":      1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Decision.Action != schedule.ActionWait || resp.Decision.AttemptNextIndex != 1 {
		t.Fatalf("decision = %+v", resp.Decision)
	}

	// malformed input is a contract violation
	rec = doJSON(t, s, http.MethodPost, "/v1/schedule/evaluate", map[string]any{
		"now_ns":        int64(10_000_000_000),
		"timeout_ms":    30_000,
		"attempt_index": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEnqueueStatsAndWorkerPass(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/v1/queue/enqueue", map[string]any{
		"sync_kind":           "artifact_upload",
		"receipt_ref":         "rcpt-1",
		"artifact_profile_id": "profile-1",
		"tenant_id":           "t1",
		"device_id":           "dev-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d: %s", rec.Code, rec.Body.String())
	}
	var enq map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &enq); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enq["sync_job_id"] == "" {
		t.Fatal("no job id returned")
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/queue/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats struct {
		Queued uint64 `json:"queued"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("queued = %d, want 1", stats.Queued)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/worker/pass", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pass status = %d: %s", rec.Code, rec.Body.String())
	}
	var pm struct {
		Dequeued int `json:"dequeued"`
		Acked    int `json:"acked"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pm); err != nil {
		t.Fatalf("decode pass: %v", err)
	}
	if pm.Dequeued != 1 || pm.Acked != 1 {
		t.Fatalf("pass = %+v", pm)
	}
}

func TestEnqueueValidationIs400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/v1/queue/enqueue", map[string]any{
		"tenant_id": "t1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeadLettersFilterAndRequeue(t *testing.T) {
	s, _ := newTestServer(t)

	// park two rows by dead-lettering through the queue directly
	q := s.rt.Queue()
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	for _, kind := range []string{"artifact_upload", "profile_push"} {
		jobID, err := q.Enqueue(ctx, testQueueItem(kind), 1_000)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := q.DequeueBatch(ctx, 2_000, 1, 10_000, "w1"); err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if err := q.DeadLetterCommit(ctx, jobID, "w1", "receiver returned 503", 3_000); err != nil {
			t.Fatalf("dead-letter: %v", err)
		}
	}

	rec := doJSON(t, s, http.MethodGet, "/v1/queue/deadletters", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deadletters status = %d", rec.Code)
	}
	var listing struct {
		Items []struct {
			SyncJobID string `json:"sync_job_id"`
			Kind      string `json:"sync_kind"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Items) != 2 {
		t.Fatalf("listed %d dead letters, want 2", len(listing.Items))
	}

	rec = doJSON(t, s, http.MethodGet, `/v1/queue/deadletters?filter=kind+%3D%3D+%22profile_push%22`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered status = %d: %s", rec.Code, rec.Body.String())
	}
	listing.Items = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode filtered: %v", err)
	}
	if len(listing.Items) != 1 || listing.Items[0].Kind != "profile_push" {
		t.Fatalf("filtered items = %+v", listing.Items)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/queue/deadletters?filter=bad+%3D%3D", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/v1/queue/requeue", map[string]string{
		"sync_job_id": listing.Items[0].SyncJobID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("requeue status = %d: %s", rec.Code, rec.Body.String())
	}

	// requeueing the same row again conflicts
	rec = doJSON(t, s, http.MethodPost, "/v1/queue/requeue", map[string]string{
		"sync_job_id": listing.Items[0].SyncJobID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double requeue status = %d", rec.Code)
	}
}

func TestLedgerRead(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	if _, err := s.rt.Ledger().Append(ctx, "t1", "wo-1", []ledger.Entry{
		{StepID: "fetch", Event: "step_started", RecordedAtNs: 100},
		{StepID: "fetch", Event: "step_completed", RecordedAtNs: 200},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/v1/ledger/read?tenant_id=t1&work_order_id=wo-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger read status = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Entries []struct {
			Seq    uint64 `json:"seq"`
			StepID string `json:"step_id"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 2 || out.Entries[1].Seq != 2 {
		t.Fatalf("entries = %+v", out.Entries)
	}

	rec = doJSON(t, s, http.MethodGet, "/v1/ledger/read?tenant_id=t1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing work_order_id status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("metrics body empty")
	}
}
