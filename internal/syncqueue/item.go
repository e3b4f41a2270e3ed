package syncqueue

import "encoding/json"

// State is the lifecycle state of a sync job row.
type State string

const (
	StateQueued     State = "QUEUED"
	StateInFlight   State = "IN_FLIGHT"
	StateAcked      State = "ACKED"
	StateDeadLetter State = "DEAD_LETTER"
)

// Item is one durable sync job row. Rows are only ever mutated through
// queue operations, each of which commits a single atomic batch.
type Item struct {
	SyncJobID           string `json:"sync_job_id"`
	Kind                string `json:"sync_kind"`
	ReceiptRef          string `json:"receipt_ref"`
	ArtifactProfileID   string `json:"artifact_profile_id"`
	OnboardingSessionID string `json:"onboarding_session_id,omitempty"`
	TenantID            string `json:"tenant_id"`
	UserID              string `json:"user_id,omitempty"`
	DeviceID            string `json:"device_id"`
	IdempotencyKey      string `json:"idempotency_key"`

	EnqueuedAtNs int64 `json:"enqueued_at_ns"`
	AttemptCount int   `json:"attempt_count"`
	State        State `json:"state"`

	// Lease fields are set while the row is in flight. A row whose lease
	// has expired is eligible for re-delivery on the next dequeue.
	WorkerID         string `json:"worker_id,omitempty"`
	LeaseExpiresAtMs int64  `json:"lease_expires_at_ms,omitempty"`

	LastError string `json:"last_error,omitempty"`
	AckedAtMs int64  `json:"acked_at_ms,omitempty"`
}

func (it *Item) encode() ([]byte, error) {
	return json.Marshal(it)
}

func decodeItem(data []byte) (Item, error) {
	var it Item
	if err := json.Unmarshal(data, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Stats is a point-in-time snapshot of queue state counts. ReplayDue is
// the number of in-flight rows whose lease has already expired at the
// observation time, i.e. rows the next dequeue pass will re-deliver.
type Stats struct {
	Queued     uint64 `json:"queued"`
	InFlight   uint64 `json:"in_flight"`
	Acked      uint64 `json:"acked"`
	DeadLetter uint64 `json:"dead_letter"`
	ReplayDue  uint64 `json:"replay_due"`
}
