package imprint

import (
	"context"
	"fmt"
)

// Service is the surface exposed to the content-creation flow. Enqueue is
// fire-and-forget: creation never blocks on anchoring latency, and anchoring
// failures never reach the creating user.
type Service struct {
	queue Queue
}

func NewService(queue Queue) *Service {
	return &Service{queue: queue}
}

func (s *Service) Enqueue(ctx context.Context, contentID, fingerprint string) error {
	if contentID == "" {
		return fmt.Errorf("imprint: missing content id")
	}
	if fingerprint == "" {
		return fmt.Errorf("imprint: missing fingerprint")
	}
	return s.queue.Enqueue(ctx, Job{ContentID: contentID, Fingerprint: fingerprint})
}
