package imprint

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory ContentStore honoring the conditional-update
// contract, so worker/poller tests exercise the same race discipline the
// Postgres store enforces.
type fakeStore struct {
	mu       sync.Mutex
	contents map[string]Content

	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{contents: make(map[string]Content)}
}

func (s *fakeStore) put(c Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[c.ID] = c
}

func (s *fakeStore) get(id string) Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contents[id]
}

func (s *fakeStore) GetContentByID(ctx context.Context, id string) (Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[id]
	if !ok {
		return Content{}, ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) UpdateImprint(ctx context.Context, id string, expected Status, update ImprintUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	c, ok := s.contents[id]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = update.Status
	if update.Proof != nil {
		proof := *update.Proof
		c.Proof = &proof
	}
	if update.DuplicateOf != nil {
		dup := *update.DuplicateOf
		c.DuplicateOf = &dup
	}
	c.UpdatedAt = time.Now()
	s.contents[id] = c
	return true, nil
}

func (s *fakeStore) FindByFingerprintWithProof(ctx context.Context, fingerprint, excludeID string) (Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contents {
		if c.ID == excludeID || c.Fingerprint != fingerprint {
			continue
		}
		if c.Proof != nil && c.Proof.TransactionID != "" {
			return c, nil
		}
	}
	return Content{}, ErrNotFound
}

func (s *fakeStore) FindByStatus(ctx context.Context, status Status, limit int) ([]Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []Content
	for _, c := range s.contents {
		if c.Status == status {
			list = append(list, c)
			if len(list) == limit {
				break
			}
		}
	}
	return list, nil
}

func (s *fakeStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.contents {
		if c.Status == status {
			n++
		}
	}
	return n, nil
}

// fakeLedger scripts per-attempt submission outcomes and per-transaction
// finality answers.
type fakeLedger struct {
	mu sync.Mutex

	submitErrs []error // consumed per attempt; nil entry = success
	submits    int
	receipt    Receipt

	finality    map[string]Finality
	finalityErr map[string]error
	checks      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		finality:    make(map[string]Finality),
		finalityErr: make(map[string]error),
	}
}

func (l *fakeLedger) Submit(ctx context.Context, topic string, message []byte) (Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++
	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		if err != nil {
			return Receipt{}, err
		}
	}
	receipt := l.receipt
	if receipt.TransactionID == "" {
		receipt.TransactionID = fmt.Sprintf("tx-%d", l.submits)
	}
	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = time.Now()
	}
	return receipt, nil
}

func (l *fakeLedger) submitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

func (l *fakeLedger) CheckFinality(ctx context.Context, transactionID string) (Finality, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks++
	if err, ok := l.finalityErr[transactionID]; ok {
		return Finality{}, err
	}
	if fin, ok := l.finality[transactionID]; ok {
		return fin, nil
	}
	return Finality{}, ErrTxNotIndexed
}

// recordSleep returns a sleep hook that captures requested delays without
// actually sleeping.
func recordSleep(delays *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return nil
	}
}
