package imprint

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("imprint: content not found")

// ContentStore is the slice of the content repository the pipeline depends
// on. UpdateImprint is the only mutation path for imprint state: it writes
// the requested fields iff the record's current status still matches
// expected, and reports false when another actor got there first.
type ContentStore interface {
	GetContentByID(ctx context.Context, id string) (Content, error)
	UpdateImprint(ctx context.Context, id string, expected Status, update ImprintUpdate) (bool, error)
	FindByFingerprintWithProof(ctx context.Context, fingerprint, excludeID string) (Content, error)
	FindByStatus(ctx context.Context, status Status, limit int) ([]Content, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
}
