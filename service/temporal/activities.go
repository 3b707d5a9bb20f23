package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/poller"
)

// PollWindowInput contains the input parameters for one windowed poll.
type PollWindowInput struct {
	CursorKey       string  `json:"cursor_key"`
	WindowSize      uint64  `json:"window_size"`
	StartSlot       *uint64 `json:"start_slot,omitempty"`
	StartSlotPolicy string  `json:"start_slot_policy"`
}

// PollWindowResult contains the result of one windowed poll.
type PollWindowResult struct {
	CursorKey string        `json:"cursor_key"`
	Window    poller.Window `json:"window"`
	Listed    []uint64      `json:"listed"`
	Reported  []uint64      `json:"reported"`
	Skipped   []uint64      `json:"skipped"`
	Retried   bool          `json:"retried"`
	Cursor    uint64        `json:"cursor"`
	PollTime  time.Time     `json:"poll_time"`
	Error     *string       `json:"error,omitempty"`
}

// LoadCursorInput contains parameters for the LoadCursor activity.
type LoadCursorInput struct {
	Key string `json:"key"`
}

// LoadCursorResult contains the result of the LoadCursor activity.
type LoadCursorResult struct {
	Slot  uint64 `json:"slot"`
	Found bool   `json:"found"`
}

// SaveCursorInput contains parameters for the SaveCursor activity.
type SaveCursorInput struct {
	Key  string `json:"key"`
	Slot uint64 `json:"slot"`
}

// CurrentSlotResult contains the result of the CurrentSlot activity.
type CurrentSlotResult struct {
	Slot uint64 `json:"slot"`
}

// ListBlocksInput contains parameters for the ListBlocks activity.
type ListBlocksInput struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// ListBlocksResult contains the result of the ListBlocks activity.
type ListBlocksResult struct {
	Slots []uint64 `json:"slots"`
}

// ProcessSlotInput contains parameters for the ProcessSlot activity.
type ProcessSlotInput struct {
	Slot uint64 `json:"slot"`
}

// ProcessSlotResult contains the result of the ProcessSlot activity.
type ProcessSlotResult struct {
	Slot     uint64 `json:"slot"`
	Reported bool   `json:"reported"`
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	source  poller.ChainSource
	handler poller.BlockHandler
	store   cursor.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(source poller.ChainSource, handler poller.BlockHandler, store cursor.Store, m *metrics.Metrics, logger *slog.Logger) *Activities {
	return &Activities{
		source:  source,
		handler: handler,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// LoadCursor reads the persisted cursor for a key.
func (a *Activities) LoadCursor(ctx context.Context, input LoadCursorInput) (*LoadCursorResult, error) {
	slot, ok, err := a.store.Load(ctx, input.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor %q: %w", input.Key, err)
	}
	return &LoadCursorResult{Slot: slot, Found: ok}, nil
}

// SaveCursor persists the cursor for a key.
func (a *Activities) SaveCursor(ctx context.Context, input SaveCursorInput) error {
	if err := a.store.Save(ctx, input.Key, input.Slot); err != nil {
		return fmt.Errorf("failed to save cursor %q: %w", input.Key, err)
	}
	a.logger.DebugContext(ctx, "saved cursor", "key", input.Key, "slot", input.Slot)
	return nil
}

// CurrentSlot returns the chain tip.
func (a *Activities) CurrentSlot(ctx context.Context) (*CurrentSlotResult, error) {
	slot, err := a.source.CurrentSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current slot: %w", err)
	}
	return &CurrentSlotResult{Slot: slot}, nil
}

// ListBlocks lists produced slots in [Start, End).
func (a *Activities) ListBlocks(ctx context.Context, input ListBlocksInput) (*ListBlocksResult, error) {
	slots, err := a.source.ListBlocks(ctx, input.Start, input.End)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocks [%d, %d): %w", input.Start, input.End, err)
	}
	return &ListBlocksResult{Slots: slots}, nil
}

// ProcessSlot fetches one block and hands it to the handler chain. A
// fetch failure is not an activity error; the slot is reported as skipped.
func (a *Activities) ProcessSlot(ctx context.Context, input ProcessSlotInput) (*ProcessSlotResult, error) {
	ok := poller.ProcessSlot(ctx, a.source, a.handler, input.Slot, "workflow", a.metrics, a.logger)
	return &ProcessSlotResult{Slot: input.Slot, Reported: ok}, nil
}
