package imprint

import "sync"

const recentWindow = 50

// degradedRatio is the failure share of recent jobs past which the health
// endpoint reports degraded. Alerting condition only; processing continues.
const degradedRatio = 0.10

// Metrics collects per-instance pipeline counters. Each Worker/Poller owns
// its counters through a shared Metrics value injected at construction, so
// scaling out workers in one process never crosses streams.
type Metrics struct {
	mu            sync.Mutex
	jobsProcessed int64
	failures      int64
	confirmed     int64
	duplicates    int64
	recent        []bool // true = failure, ring of last recentWindow outcomes
	recentNext    int
}

func NewMetrics() *Metrics {
	return &Metrics{recent: make([]bool, 0, recentWindow)}
}

// Snapshot is the read-only view served by the health endpoint.
type Snapshot struct {
	JobsProcessed int64   `json:"jobsProcessed"`
	Failures      int64   `json:"failures"`
	Confirmed     int64   `json:"confirmedCount"`
	Duplicates    int64   `json:"duplicateCount"`
	FailureRatio  float64 `json:"failureRatio"`
	Degraded      bool    `json:"degraded"`
}

func (m *Metrics) JobProcessed(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsProcessed++
	if failed {
		m.failures++
	}
	if len(m.recent) < recentWindow {
		m.recent = append(m.recent, failed)
	} else {
		m.recent[m.recentNext] = failed
		m.recentNext = (m.recentNext + 1) % recentWindow
	}
}

func (m *Metrics) Confirmed() {
	m.mu.Lock()
	m.confirmed++
	m.mu.Unlock()
}

func (m *Metrics) Duplicate() {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed int
	for _, f := range m.recent {
		if f {
			failed++
		}
	}
	ratio := 0.0
	if len(m.recent) > 0 {
		ratio = float64(failed) / float64(len(m.recent))
	}
	return Snapshot{
		JobsProcessed: m.jobsProcessed,
		Failures:      m.failures,
		Confirmed:     m.confirmed,
		Duplicates:    m.duplicates,
		FailureRatio:  ratio,
		Degraded:      ratio > degradedRatio,
	}
}
