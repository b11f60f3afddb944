package imprint

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// healthReport is the JSON body served to external monitoring. Read-only;
// there is no write surface.
type healthReport struct {
	Snapshot
	PendingCount int64 `json:"pendingCount"`
}

// HealthHandler exposes pipeline counters plus a live count of pending
// records, the backlog signal for a stuck worker. Store errors degrade to
// -1 rather than failing the probe.
func HealthHandler(metrics *Metrics, store ContentStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		report := healthReport{Snapshot: metrics.Snapshot(), PendingCount: -1}
		if store != nil {
			pending, err := store.CountByStatus(ctx, StatusPending)
			if err != nil {
				log.Printf("imprint health: count pending: %v", err)
			} else {
				report.PendingCount = pending
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("imprint health: encode report: %v", err)
		}
	})
}
