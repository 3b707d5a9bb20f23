package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is an in-memory Scheduler for tests.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule
	upsertErr error
	deleteErr error
}

type mockSchedule struct {
	input    PollWindowInput
	interval time.Duration
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// UpsertPollSchedule records the schedule.
func (m *MockScheduler) UpsertPollSchedule(ctx context.Context, input PollWindowInput, interval time.Duration) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[scheduleID(input.CursorKey)] = mockSchedule{input: input, interval: interval}
	return nil
}

// DeletePollSchedule removes the schedule.
func (m *MockScheduler) DeletePollSchedule(ctx context.Context, cursorKey string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(cursorKey)
	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	delete(m.schedules, id)
	return nil
}

// Interval returns the interval of a schedule and whether it exists.
func (m *MockScheduler) Interval(cursorKey string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[scheduleID(cursorKey)]
	return s.interval, ok
}

// SetUpsertError configures the mock to fail upserts.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError configures the mock to fail deletes.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}
