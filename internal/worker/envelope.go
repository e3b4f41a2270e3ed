package worker

import (
	"encoding/json"

	"github.com/kestrelhq/keel/internal/syncqueue"
)

// EnvelopeSchemaVersion is bumped when the wire shape changes.
const EnvelopeSchemaVersion = 1

// Envelope is the wire shape handed to a Sender for one delivery attempt.
// AttemptCount is the attempt number of this delivery, starting at 1.
type Envelope struct {
	SchemaVersion       int    `json:"schema_version"`
	SyncJobID           string `json:"sync_job_id"`
	SyncKind            string `json:"sync_kind"`
	ReceiptRef          string `json:"receipt_ref"`
	ArtifactProfileID   string `json:"artifact_profile_id"`
	OnboardingSessionID string `json:"onboarding_session_id,omitempty"`
	UserID              string `json:"user_id,omitempty"`
	DeviceID            string `json:"device_id"`
	EnqueuedAtNs        int64  `json:"enqueued_at_ns"`
	AttemptCount        int    `json:"attempt_count"`
	IdempotencyKey      string `json:"idempotency_key"`
}

// NewEnvelope builds the delivery envelope for a dequeued row.
func NewEnvelope(item syncqueue.Item) Envelope {
	return Envelope{
		SchemaVersion:       EnvelopeSchemaVersion,
		SyncJobID:           item.SyncJobID,
		SyncKind:            item.Kind,
		ReceiptRef:          item.ReceiptRef,
		ArtifactProfileID:   item.ArtifactProfileID,
		OnboardingSessionID: item.OnboardingSessionID,
		UserID:              item.UserID,
		DeviceID:            item.DeviceID,
		EnqueuedAtNs:        item.EnqueuedAtNs,
		AttemptCount:        item.AttemptCount,
		IdempotencyKey:      item.IdempotencyKey,
	}
}

// Encode marshals the envelope to its JSON wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
