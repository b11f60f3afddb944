package imprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore implements ContentStore against the contents table. Proof is
// flattened into nullable columns; a non-null transaction_id is what
// "proof present" means at the SQL level.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const contentColumns = `id, author_id, fingerprint, imprint_status, ledger_topic, sequence_number,
        transaction_id, submitted_at, confirmed_at, retry_count, duplicate_of, created_at, updated_at`

func (s *PGStore) GetContentByID(ctx context.Context, id string) (Content, error) {
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE id = $1`, contentColumns)
	content, err := scanContent(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Content{}, ErrNotFound
		}
		return Content{}, fmt.Errorf("imprint: get content: %w", err)
	}
	return content, nil
}

func (s *PGStore) FindByFingerprintWithProof(ctx context.Context, fingerprint, excludeID string) (Content, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM contents
        WHERE fingerprint = $1 AND id <> $2 AND transaction_id IS NOT NULL
        ORDER BY submitted_at ASC
        LIMIT 1
    `, contentColumns)
	content, err := scanContent(s.pool.QueryRow(ctx, query, fingerprint, excludeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Content{}, ErrNotFound
		}
		return Content{}, fmt.Errorf("imprint: find by fingerprint: %w", err)
	}
	return content, nil
}

func (s *PGStore) FindByStatus(ctx context.Context, status Status, limit int) ([]Content, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
        SELECT %s FROM contents
        WHERE imprint_status = $1
        ORDER BY updated_at ASC
        LIMIT %d
    `, contentColumns, limit)
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("imprint: find by status: %w", err)
	}
	defer rows.Close()

	list := []Content{}
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("imprint: scan status batch: %w", err)
		}
		list = append(list, content)
	}
	return list, rows.Err()
}

func (s *PGStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contents WHERE imprint_status = $1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("imprint: count by status: %w", err)
	}
	return n, nil
}

// UpdateImprint is the single write path for imprint state. The WHERE clause
// on the expected status makes the transition conditional; a false return
// means another actor already moved the record and its outcome stands.
func (s *PGStore) UpdateImprint(ctx context.Context, id string, expected Status, update ImprintUpdate) (bool, error) {
	query := `
        UPDATE contents
        SET imprint_status = $3,
            ledger_topic = CASE WHEN $4 THEN $5 ELSE ledger_topic END,
            sequence_number = CASE WHEN $4 THEN $6 ELSE sequence_number END,
            transaction_id = CASE WHEN $4 THEN $7 ELSE transaction_id END,
            submitted_at = CASE WHEN $4 THEN $8 ELSE submitted_at END,
            confirmed_at = CASE WHEN $4 THEN $9 ELSE confirmed_at END,
            retry_count = CASE WHEN $4 THEN $10 ELSE retry_count END,
            duplicate_of = COALESCE($11::uuid, duplicate_of),
            updated_at = now()
        WHERE id = $1 AND imprint_status = $2
    `
	var (
		setProof                 bool
		topic                    *string
		sequenceNumber           *int64
		transactionID            *string
		submittedAt, confirmedAt *time.Time
		retryCount               *int
	)
	if p := update.Proof; p != nil {
		setProof = true
		topic = &p.LedgerTopic
		sequenceNumber = &p.SequenceNumber
		transactionID = &p.TransactionID
		submittedAt = &p.SubmittedAt
		confirmedAt = p.ConfirmedAt
		retryCount = &p.RetryCount
	}

	tag, err := s.pool.Exec(ctx, query, id, expected, update.Status,
		setProof, topic, sequenceNumber, transactionID, submittedAt, confirmedAt, retryCount,
		update.DuplicateOf)
	if err != nil {
		return false, fmt.Errorf("imprint: update %s -> %s: %w", expected, update.Status, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanContent(row pgx.Row) (Content, error) {
	var (
		c              Content
		topic          *string
		sequenceNumber *int64
		transactionID  *string
		submittedAt    *time.Time
		confirmedAt    *time.Time
		retryCount     int
	)
	err := row.Scan(
		&c.ID,
		&c.AuthorID,
		&c.Fingerprint,
		&c.Status,
		&topic,
		&sequenceNumber,
		&transactionID,
		&submittedAt,
		&confirmedAt,
		&retryCount,
		&c.DuplicateOf,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Content{}, err
	}
	if transactionID != nil {
		proof := &Proof{
			TransactionID: *transactionID,
			ConfirmedAt:   confirmedAt,
			RetryCount:    retryCount,
		}
		if topic != nil {
			proof.LedgerTopic = *topic
		}
		if sequenceNumber != nil {
			proof.SequenceNumber = *sequenceNumber
		}
		if submittedAt != nil {
			proof.SubmittedAt = *submittedAt
		}
		c.Proof = proof
	}
	return c, nil
}
