package imprint

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// Proof is the locally stored evidence of a ledger submission. TransactionID
// is set on every submitted record; ConfirmedAt only once the ledger reports
// finality.
type Proof struct {
	LedgerTopic    string
	SequenceNumber int64
	TransactionID  string
	SubmittedAt    time.Time
	ConfirmedAt    *time.Time
	RetryCount     int
}

// Content mirrors the content-record columns the anchoring pipeline touches.
// The rest of the content entity (body, media, poll state) belongs to the
// CRUD layer and never passes through this package.
type Content struct {
	ID          string
	AuthorID    string
	Fingerprint string
	Status      Status
	Proof       *Proof
	DuplicateOf *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Job is the unit of work handed to the worker. At-least-once delivery:
// processing must stay idempotent on Fingerprint. ID identifies the queue
// entry, not the content; durable queues use it to settle deliveries.
type Job struct {
	ID          string
	ContentID   string
	Fingerprint string
}

// ImprintUpdate enumerates the fields a guarded transition may write. Nil
// pointer fields are left untouched by the store.
type ImprintUpdate struct {
	Status      Status
	Proof       *Proof
	DuplicateOf *string
}
