package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChainSource is a testify mock of poller.ChainSource.
type MockChainSource struct {
	mock.Mock
}

func (m *MockChainSource) CurrentSlot(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockChainSource) ListBlocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

func (m *MockChainSource) FetchBlock(ctx context.Context, slot uint64) (*solana.Block, error) {
	args := m.Called(ctx, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*solana.Block), args.Error(1)
}

// MockHandler is a testify mock of poller.BlockHandler.
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) HandleBlock(ctx context.Context, block *solana.Block) error {
	return m.Called(ctx, block).Error(0)
}

func newTestActivities(source *MockChainSource, handler *MockHandler, store cursor.Store) *Activities {
	return NewActivities(source, handler, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestActivities_Cursor(t *testing.T) {
	ctx := context.Background()
	store := cursor.NewMemoryStore()
	a := newTestActivities(&MockChainSource{}, &MockHandler{}, store)

	res, err := a.LoadCursor(ctx, LoadCursorInput{Key: "k"})
	require.NoError(t, err)
	assert.False(t, res.Found)

	require.NoError(t, a.SaveCursor(ctx, SaveCursorInput{Key: "k", Slot: 55}))

	res, err = a.LoadCursor(ctx, LoadCursorInput{Key: "k"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, uint64(55), res.Slot)
}

func TestActivities_CurrentSlot(t *testing.T) {
	tests := []struct {
		name    string
		slot    uint64
		err     error
		wantErr bool
	}{
		{name: "success", slot: 1234},
		{name: "rpc failure", err: errors.New("rpc down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockChainSource{}
			source.On("CurrentSlot", mock.Anything).Return(tt.slot, tt.err)
			a := newTestActivities(source, &MockHandler{}, cursor.NewMemoryStore())

			res, err := a.CurrentSlot(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to get current slot")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.slot, res.Slot)
			source.AssertExpectations(t)
		})
	}
}

func TestActivities_ListBlocks(t *testing.T) {
	source := &MockChainSource{}
	source.On("ListBlocks", mock.Anything, uint64(100), uint64(110)).Return([]uint64{101, 105}, nil).Once()
	source.On("ListBlocks", mock.Anything, uint64(110), uint64(120)).Return(nil, errors.New("timeout")).Once()
	a := newTestActivities(source, &MockHandler{}, cursor.NewMemoryStore())

	res, err := a.ListBlocks(context.Background(), ListBlocksInput{Start: 100, End: 110})
	require.NoError(t, err)
	assert.Equal(t, []uint64{101, 105}, res.Slots)

	_, err = a.ListBlocks(context.Background(), ListBlocksInput{Start: 110, End: 120})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[110, 120)")
	source.AssertExpectations(t)
}

func TestActivities_ProcessSlot(t *testing.T) {
	block := &solana.Block{Slot: 101}

	t.Run("reported", func(t *testing.T) {
		source := &MockChainSource{}
		handler := &MockHandler{}
		source.On("FetchBlock", mock.Anything, uint64(101)).Return(block, nil)
		handler.On("HandleBlock", mock.Anything, block).Return(nil)
		a := newTestActivities(source, handler, cursor.NewMemoryStore())

		res, err := a.ProcessSlot(context.Background(), ProcessSlotInput{Slot: 101})
		require.NoError(t, err)
		assert.True(t, res.Reported)
		handler.AssertExpectations(t)
	})

	t.Run("skipped slot is not an error", func(t *testing.T) {
		source := &MockChainSource{}
		handler := &MockHandler{}
		source.On("FetchBlock", mock.Anything, uint64(102)).Return(nil, solana.ErrSlotSkipped)
		a := newTestActivities(source, handler, cursor.NewMemoryStore())

		res, err := a.ProcessSlot(context.Background(), ProcessSlotInput{Slot: 102})
		require.NoError(t, err)
		assert.False(t, res.Reported)
		handler.AssertNotCalled(t, "HandleBlock", mock.Anything, mock.Anything)
	})
}
