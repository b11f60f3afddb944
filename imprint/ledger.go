package imprint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Receipt is the provisional acknowledgement returned by a ledger submission.
// ConsensusAt is non-nil only when the adapter happens to learn finality in
// the same call; most adapters leave it nil and the poller picks up from
// there.
type Receipt struct {
	TransactionID  string
	SequenceNumber int64
	SubmittedAt    time.Time
	ConsensusAt    *time.Time
}

// Finality is the mirror-side view of a previously submitted transaction.
type Finality struct {
	Finalized   bool
	ConsensusAt time.Time
}

// ErrTxNotIndexed is returned by CheckFinality while the mirror has not yet
// indexed the transaction. Distinct from a transport error: the call
// succeeded, the ledger just has nothing to say yet.
var ErrTxNotIndexed = errors.New("imprint: transaction not indexed yet")

// Submitter writes a message to the consensus network and returns a
// provisional receipt.
type Submitter interface {
	Submit(ctx context.Context, topic string, message []byte) (Receipt, error)
}

// FinalityChecker reads settlement state for a previously submitted
// transaction, typically from a mirror node.
type FinalityChecker interface {
	CheckFinality(ctx context.Context, transactionID string) (Finality, error)
}

// Ledger is the full surface of the consensus network the pipeline needs.
// The worker only submits and the poller only reads, so each takes the
// narrow half; Ledger exists for adapters that do both.
type Ledger interface {
	Submitter
	FinalityChecker
}

// TransientError marks a submission failure worth retrying: timeouts,
// connection resets, rate limits.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("imprint: transient ledger error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a submission the ledger will never accept, such as a
// malformed message. Retrying is pointless.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("imprint: permanent ledger error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient so a misbehaving adapter degrades to bounded retries
// rather than instant failure.
func IsTransient(err error) bool {
	var perm *PermanentError
	return !errors.As(err, &perm)
}
