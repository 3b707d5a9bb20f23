package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for windowed polling.
// Each cursor key gets its own schedule that triggers the PollWindowWorkflow.
type Scheduler interface {
	// UpsertPollSchedule creates the schedule for input.CursorKey, or
	// updates its interval and input when it already exists.
	UpsertPollSchedule(ctx context.Context, input PollWindowInput, interval time.Duration) error

	// DeletePollSchedule deletes the schedule for a cursor key.
	DeletePollSchedule(ctx context.Context, cursorKey string) error
}

// scheduleID returns the Temporal schedule ID for a cursor key.
func scheduleID(cursorKey string) string {
	return "poll-window-" + cursorKey
}
