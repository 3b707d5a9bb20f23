package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func newWorkflowEnv(t *testing.T) (*testsuite.TestWorkflowEnvironment, *Activities) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.LoadCursor)
	env.RegisterActivity(activities.SaveCursor)
	env.RegisterActivity(activities.CurrentSlot)
	env.RegisterActivity(activities.ListBlocks)
	env.RegisterActivity(activities.ProcessSlot)
	return env, activities
}

func TestPollWindowWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          PollWindowInput
		mockActivities func(env *testsuite.TestWorkflowEnvironment, a *Activities)
		expectedError  bool
		validateResult func(t *testing.T, result *PollWindowResult)
	}{
		{
			name:  "first run starts at chain tip",
			input: PollWindowInput{CursorKey: "devnet", WindowSize: 10},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, LoadCursorInput{Key: "devnet"}).
					Return(&LoadCursorResult{Found: false}, nil)
				env.OnActivity(a.CurrentSlot, mock.Anything).
					Return(&CurrentSlotResult{Slot: 100}, nil)
				env.OnActivity(a.SaveCursor, mock.Anything, SaveCursorInput{Key: "devnet", Slot: 100}).
					Return(nil).Once()
				env.OnActivity(a.ListBlocks, mock.Anything, ListBlocksInput{Start: 100, End: 110}).
					Return(&ListBlocksResult{Slots: []uint64{105, 101}}, nil)
				env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 101}).
					Return(&ProcessSlotResult{Slot: 101, Reported: true}, nil)
				env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 105}).
					Return(&ProcessSlotResult{Slot: 105, Reported: true}, nil)
				env.OnActivity(a.SaveCursor, mock.Anything, SaveCursorInput{Key: "devnet", Slot: 110}).
					Return(nil).Once()
			},
			validateResult: func(t *testing.T, result *PollWindowResult) {
				assert.Equal(t, uint64(100), result.Window.Lo)
				assert.Equal(t, uint64(110), result.Window.Hi)
				assert.Equal(t, []uint64{101, 105}, result.Reported)
				assert.Empty(t, result.Skipped)
				assert.Equal(t, uint64(110), result.Cursor)
				assert.False(t, result.Retried)
				assert.Nil(t, result.Error)
			},
		},
		{
			name:  "stored cursor and skipped slot",
			input: PollWindowInput{CursorKey: "devnet", WindowSize: 10},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(&LoadCursorResult{Slot: 200, Found: true}, nil)
				env.OnActivity(a.ListBlocks, mock.Anything, ListBlocksInput{Start: 200, End: 210}).
					Return(&ListBlocksResult{Slots: []uint64{201, 202}}, nil)
				env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 201}).
					Return(&ProcessSlotResult{Slot: 201, Reported: false}, nil)
				env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 202}).
					Return(&ProcessSlotResult{Slot: 202, Reported: true}, nil)
				env.OnActivity(a.SaveCursor, mock.Anything, SaveCursorInput{Key: "devnet", Slot: 210}).
					Return(nil)
			},
			validateResult: func(t *testing.T, result *PollWindowResult) {
				assert.Equal(t, []uint64{202}, result.Reported)
				assert.Equal(t, []uint64{201}, result.Skipped)
				assert.Equal(t, uint64(210), result.Cursor)
			},
		},
		{
			name:  "list failure keeps cursor",
			input: PollWindowInput{CursorKey: "devnet", WindowSize: 10},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(&LoadCursorResult{Slot: 100, Found: true}, nil)
				env.OnActivity(a.ListBlocks, mock.Anything, mock.Anything).
					Return(nil, errors.New("rpc unavailable"))
			},
			validateResult: func(t *testing.T, result *PollWindowResult) {
				assert.True(t, result.Retried)
				assert.Equal(t, uint64(100), result.Cursor)
				assert.Empty(t, result.Reported)
				require.NotNil(t, result.Error)
				assert.Contains(t, *result.Error, "failed to list blocks")
			},
		},
		{
			name:  "start slot from input",
			input: PollWindowInput{CursorKey: "devnet", WindowSize: 5, StartSlot: uint64Ptr(42)},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(&LoadCursorResult{Found: false}, nil)
				env.OnActivity(a.SaveCursor, mock.Anything, mock.Anything).Return(nil)
				env.OnActivity(a.ListBlocks, mock.Anything, ListBlocksInput{Start: 42, End: 47}).
					Return(&ListBlocksResult{}, nil)
			},
			validateResult: func(t *testing.T, result *PollWindowResult) {
				assert.Equal(t, uint64(47), result.Cursor)
			},
		},
		{
			name:  "current slot failure aborts by default",
			input: PollWindowInput{CursorKey: "devnet"},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(&LoadCursorResult{Found: false}, nil)
				env.OnActivity(a.CurrentSlot, mock.Anything).
					Return(nil, errors.New("rpc unavailable"))
			},
			expectedError: true,
		},
		{
			name:  "current slot failure starts at zero when configured",
			input: PollWindowInput{CursorKey: "devnet", StartSlotPolicy: "zero"},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(&LoadCursorResult{Found: false}, nil)
				env.OnActivity(a.CurrentSlot, mock.Anything).
					Return(nil, errors.New("rpc unavailable"))
				env.OnActivity(a.SaveCursor, mock.Anything, mock.Anything).Return(nil)
				env.OnActivity(a.ListBlocks, mock.Anything, ListBlocksInput{Start: 0, End: DefaultWindowSize}).
					Return(&ListBlocksResult{}, nil)
			},
			validateResult: func(t *testing.T, result *PollWindowResult) {
				assert.Equal(t, uint64(DefaultWindowSize), result.Cursor)
			},
		},
		{
			name:  "load cursor failure",
			input: PollWindowInput{CursorKey: "devnet"},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, a *Activities) {
				env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
					Return(nil, errors.New("db down"))
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, activities := newWorkflowEnv(t)
			tt.mockActivities(env, activities)

			env.ExecuteWorkflow(PollWindowWorkflow, tt.input)
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result PollWindowResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
			env.AssertExpectations(t)
		})
	}
}

func TestPollWindowWorkflow_ProcessSlotNotRetried(t *testing.T) {
	env, a := newWorkflowEnv(t)

	env.OnActivity(a.LoadCursor, mock.Anything, mock.Anything).
		Return(&LoadCursorResult{Slot: 10, Found: true}, nil)
	env.OnActivity(a.ListBlocks, mock.Anything, mock.Anything).
		Return(&ListBlocksResult{Slots: []uint64{11, 12}}, nil)

	calls := 0
	env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 11}).Run(func(args mock.Arguments) {
		calls++
	}).Return(nil, errors.New("handler crashed"))
	env.OnActivity(a.ProcessSlot, mock.Anything, ProcessSlotInput{Slot: 12}).
		Return(&ProcessSlotResult{Slot: 12, Reported: true}, nil)
	env.OnActivity(a.SaveCursor, mock.Anything, SaveCursorInput{Key: "k", Slot: 20}).Return(nil)

	env.ExecuteWorkflow(PollWindowWorkflow, PollWindowInput{CursorKey: "k", WindowSize: 10})
	require.NoError(t, env.GetWorkflowError())

	var result PollWindowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []uint64{11}, result.Skipped)
	assert.Equal(t, []uint64{12}, result.Reported)
	assert.Equal(t, uint64(20), result.Cursor)
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}
