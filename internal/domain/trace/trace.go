package trace

import "time"

// Outcome is how a computation run ended.
type Outcome string

const (
	RunCompleted  Outcome = "completed"
	RunSuperseded Outcome = "superseded"
	RunFailed     Outcome = "failed"
)

// Entry records a single computation run.
type Entry struct {
	SnapshotID   uint64        `json:"snapshot_id"`
	RunID        string        `json:"run_id"`
	Outcome      Outcome       `json:"outcome"`
	Participants int           `json:"participants"`
	Candidates   int           `json:"candidates"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Error        string        `json:"error,omitempty"`
}
