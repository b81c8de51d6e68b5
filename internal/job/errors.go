package job

import "errors"

var (
	// ErrInvalidBatch rejects malformed submissions (mismatched lengths).
	ErrInvalidBatch = errors.New("numbers and messages length must match")
	// ErrNotConnected rejects submissions while the session is not ready.
	ErrNotConnected = errors.New("channel not connected yet")
	// ErrJobRunning rejects a submission while another run holds the slot.
	ErrJobRunning = errors.New("a sending job is already running")
)
