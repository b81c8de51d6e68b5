package job

import "time"

// Status is the per-item lifecycle. queued and sending are transient; every
// index ends in exactly one of sent, skipped, or failed.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusSkipped || s == StatusFailed
}

// ResultRecord is one item's outcome within a run. Index is the stable
// position in the submitted batch; the last write for an index wins.
type ResultRecord struct {
	Index            int    `json:"index"`
	RawTarget        string `json:"raw_target"`
	NormalizedTarget string `json:"normalized_target,omitempty"`
	Address          string `json:"address,omitempty"`
	Status           Status `json:"status"`
	Reason           string `json:"reason,omitempty"`
	Timestamp        int64  `json:"timestamp"` // unix ms
}

// Snapshot is the poll-side view of the current (or last) run.
type Snapshot struct {
	Running    bool           `json:"running"`
	Total      int            `json:"total"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	Results    []ResultRecord `json:"results"`
	StartedAt  time.Time      `json:"started_at,omitzero"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
}

// RunSummary is handed to the archive once a run completes.
type RunSummary struct {
	ID         string
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ResultRecord
}
