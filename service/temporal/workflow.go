package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/poller"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultWindowSize is used when the input leaves WindowSize unset.
const DefaultWindowSize = 10

// PollWindowWorkflow processes one window of slots. It is triggered by a
// Temporal schedule, so each run is one poll cycle:
//
//  1. Load the cursor (or initialize it from StartSlot or the chain tip)
//  2. List produced slots in [cursor, cursor+WindowSize)
//  3. Process each slot once, in ascending order
//  4. Advance and save the cursor
//
// A ListBlocks failure leaves the cursor untouched so the next run retries
// the same window. Per-slot failures never block the advance.
func PollWindowWorkflow(ctx workflow.Context, input PollWindowInput) (*PollWindowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollWindowWorkflow started", "cursor_key", input.CursorKey)

	if input.WindowSize == 0 {
		input.WindowSize = DefaultWindowSize
	}
	result := &PollWindowResult{
		CursorKey: input.CursorKey,
		PollTime:  workflow.Now(ctx),
	}
	fail := func(msg string, err error) (*PollWindowResult, error) {
		errMsg := fmt.Sprintf("%s: %v", msg, err)
		result.Error = &errMsg
		return result, fmt.Errorf("%s: %w", msg, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: resolve the cursor
	var loaded *LoadCursorResult
	if err := workflow.ExecuteActivity(ctx, a.LoadCursor, LoadCursorInput{Key: input.CursorKey}).Get(ctx, &loaded); err != nil {
		return fail("failed to load cursor", err)
	}

	lo := loaded.Slot
	if !loaded.Found {
		start, err := startSlot(ctx, input)
		if err != nil {
			return fail("failed to determine start slot", err)
		}
		lo = start
		if err := workflow.ExecuteActivity(ctx, a.SaveCursor, SaveCursorInput{Key: input.CursorKey, Slot: lo}).Get(ctx, nil); err != nil {
			return fail("failed to save initial cursor", err)
		}
		logger.Info("initialized cursor", "cursor_key", input.CursorKey, "slot", lo)
	}

	w := poller.Window{Lo: lo, Hi: lo + input.WindowSize}
	result.Window = w
	result.Cursor = lo

	// Step 2: list the window
	var listed *ListBlocksResult
	if err := workflow.ExecuteActivity(ctx, a.ListBlocks, ListBlocksInput{Start: w.Lo, End: w.Hi}).Get(ctx, &listed); err != nil {
		logger.Warn("failed to list blocks, window will be retried", "lo", w.Lo, "hi", w.Hi, "error", err)
		errMsg := fmt.Sprintf("failed to list blocks: %v", err)
		result.Error = &errMsg
		result.Retried = true
		return result, nil
	}
	result.Listed = w.Normalize(listed.Slots)

	// Step 3: process each slot once, without retries
	slotCtx := workflow.WithRetryPolicy(ctx, temporalsdk.RetryPolicy{MaximumAttempts: 1})
	for _, slot := range result.Listed {
		var processed *ProcessSlotResult
		err := workflow.ExecuteActivity(slotCtx, a.ProcessSlot, ProcessSlotInput{Slot: slot}).Get(ctx, &processed)
		if err != nil || !processed.Reported {
			result.Skipped = append(result.Skipped, slot)
			continue
		}
		result.Reported = append(result.Reported, slot)
	}

	// Step 4: advance
	if err := workflow.ExecuteActivity(ctx, a.SaveCursor, SaveCursorInput{Key: input.CursorKey, Slot: w.Hi}).Get(ctx, nil); err != nil {
		return fail("failed to save cursor", err)
	}
	result.Cursor = w.Hi

	logger.Info("PollWindowWorkflow completed",
		"cursor_key", input.CursorKey,
		"lo", w.Lo,
		"hi", w.Hi,
		"reported", len(result.Reported),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

func startSlot(ctx workflow.Context, input PollWindowInput) (uint64, error) {
	if input.StartSlot != nil {
		return *input.StartSlot, nil
	}

	var current *CurrentSlotResult
	err := workflow.ExecuteActivity(ctx, a.CurrentSlot).Get(ctx, &current)
	if err == nil {
		return current.Slot, nil
	}
	if config.StartSlotPolicy(input.StartSlotPolicy) == config.StartSlotZero {
		workflow.GetLogger(ctx).Warn("failed to get current slot, starting from genesis", "error", err)
		return 0, nil
	}
	return 0, errors.Join(errors.New("current slot unavailable"), err)
}
