package labeler

import (
	"time"

	"github.com/google/uuid"
)

// Status is the persisted lifecycle state of a label record.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusNeedsReview Status = "needs_review"
	StatusFailed      Status = "failed"
)

// Error codes recorded on failed label records.
const (
	ErrCodeSchemaViolation = "schema_violation"
	ErrCodeInvalidLabel    = "invalid_label"
	ErrCodeBackendError    = "backend_error"
)

// Label sources.
const (
	SourceModel = "model"
	SourceHuman = "human"
)

// LabelRecord is the current classification outcome for one conversation.
// There is at most one current record per conversation id; superseding
// writes are upserts.
type LabelRecord struct {
	ConversationID     string    `json:"conversation_id"`
	LabelPrimary       string    `json:"label_primary"`
	LabelSecondary     []string  `json:"label_secondary"`
	Confidence         float64   `json:"confidence"`
	Reasoning          string    `json:"reasoning"`
	Summary            string    `json:"summary"`
	ReferenceSampleIDs []string  `json:"reference_sample_ids"`
	Status             Status    `json:"status"`
	ErrorCode          string    `json:"error_code,omitempty"`
	Source             string    `json:"source"`
	ModelVersion       string    `json:"model_version"`
	LabeledAt          time.Time `json:"labeled_at"`
}

// AuditEntry records one human override, immutably.
type AuditEntry struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Previous       *LabelRecord `json:"previous"`
	New            LabelRecord  `json:"new"`
	Actor          string       `json:"actor"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Run tracks one batch labeling invocation.
type Run struct {
	ID                uuid.UUID `json:"id"`
	ConversationIDs   []string  `json:"conversation_ids"`
	SuccessCount      int       `json:"success_count"`
	NeedsReviewCount  int       `json:"needs_review_count"`
	FailureCount      int       `json:"failure_count"`
	FallbackUsedCount int       `json:"fallback_used_count"`
	FailedIDs         []string  `json:"failed_ids"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// llmResponse is the JSON schema the labeling prompt demands.
type llmResponse struct {
	LabelPrimary   string   `json:"label_primary"`
	LabelSecondary []string `json:"label_secondary"`
	Confidence     *float64 `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	Summary        string   `json:"summary"`
}
