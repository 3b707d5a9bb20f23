package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()
	var _ Scheduler = s

	require.NoError(t, s.UpsertPollSchedule(ctx, PollWindowInput{CursorKey: "devnet"}, 5*time.Second))
	interval, ok := s.Interval("devnet")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, interval)

	require.NoError(t, s.UpsertPollSchedule(ctx, PollWindowInput{CursorKey: "devnet"}, 10*time.Second))
	interval, _ = s.Interval("devnet")
	assert.Equal(t, 10*time.Second, interval)

	require.NoError(t, s.DeletePollSchedule(ctx, "devnet"))
	_, ok = s.Interval("devnet")
	assert.False(t, ok)
	assert.Error(t, s.DeletePollSchedule(ctx, "devnet"))

	s.SetUpsertError(errors.New("temporal down"))
	assert.Error(t, s.UpsertPollSchedule(ctx, PollWindowInput{CursorKey: "x"}, time.Second))
}

func TestScheduleID(t *testing.T) {
	assert.Equal(t, "poll-window-slotwatch:host", scheduleID("slotwatch:host"))
}
