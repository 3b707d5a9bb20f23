package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/discovery"
	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listCall struct{ start, end uint64 }

type mockChain struct {
	mu         sync.Mutex
	slot       uint64
	slotErr    error
	lists      [][]uint64
	listErrs   []error
	listCalls  []listCall
	fetchErrs  map[uint64]error
	fetchCalls []uint64
}

func (m *mockChain) CurrentSlot(ctx context.Context) (uint64, error) {
	return m.slot, m.slotErr
}

func (m *mockChain) ListBlocks(ctx context.Context, start, end uint64) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.listCalls)
	m.listCalls = append(m.listCalls, listCall{start, end})
	if i < len(m.listErrs) && m.listErrs[i] != nil {
		return nil, m.listErrs[i]
	}
	if i < len(m.lists) {
		return m.lists[i], nil
	}
	return nil, nil
}

func (m *mockChain) FetchBlock(ctx context.Context, slot uint64) (*solana.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls = append(m.fetchCalls, slot)
	if err := m.fetchErrs[slot]; err != nil {
		return nil, err
	}
	return &solana.Block{Slot: slot}, nil
}

type recordingHandler struct {
	mu        sync.Mutex
	slots     []uint64
	fetchErrs []uint64
	err       error
}

func (h *recordingHandler) HandleBlock(ctx context.Context, block *solana.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots = append(h.slots, block.Slot)
	return h.err
}

func (h *recordingHandler) ReportFetchError(slot uint64, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetchErrs = append(h.fetchErrs, slot)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, chain *mockChain, h BlockHandler) *Poller {
	t.Helper()
	p := New(chain, h, nil, Config{WindowSize: 10, CursorKey: "test"}, nil, discardLogger())
	require.NoError(t, p.Init(context.Background()))
	return p
}

func TestWindow_Normalize(t *testing.T) {
	w := Window{Lo: 100, Hi: 110}
	got := w.Normalize([]uint64{105, 101, 105, 99, 110, 109, 101})
	assert.Equal(t, []uint64{101, 105, 109}, got)
	assert.Empty(t, w.Normalize(nil))
}

func TestStep_ListSucceedsAdvancesAndReportsInOrder(t *testing.T) {
	chain := &mockChain{slot: 100, lists: [][]uint64{{105, 101}}}
	h := &recordingHandler{}
	p := newTestPoller(t, chain, h)

	res, err := p.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(110), p.Cursor())
	assert.Equal(t, []listCall{{100, 110}}, chain.listCalls)
	assert.Equal(t, []uint64{101, 105}, h.slots)
	assert.Equal(t, []uint64{101, 105}, res.Reported)
	assert.False(t, res.Retried)
	assert.Equal(t, res, p.LastResult())
}

func TestStep_ListFailsRetriesSameWindow(t *testing.T) {
	chain := &mockChain{
		slot:     100,
		listErrs: []error{errors.New("rpc unavailable")},
		lists:    [][]uint64{nil, {101}},
	}
	h := &recordingHandler{}
	p := newTestPoller(t, chain, h)

	res, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Retried)
	assert.Equal(t, uint64(100), p.Cursor())
	assert.Empty(t, h.slots)
	assert.Empty(t, chain.fetchCalls)

	_, err = p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []listCall{{100, 110}, {100, 110}}, chain.listCalls)
	assert.Equal(t, uint64(110), p.Cursor())
	assert.Equal(t, []uint64{101}, h.slots)
}

func TestStep_EmptyWindowStillAdvances(t *testing.T) {
	chain := &mockChain{slot: 100}
	p := newTestPoller(t, chain, &recordingHandler{})

	for i := 0; i < 3; i++ {
		_, err := p.Step(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(130), p.Cursor())
	assert.Equal(t, []listCall{{100, 110}, {110, 120}, {120, 130}}, chain.listCalls)
}

func TestStep_FetchFailureSkipsOnlyThatSlot(t *testing.T) {
	chain := &mockChain{
		slot:  100,
		lists: [][]uint64{{101, 102, 103}},
		fetchErrs: map[uint64]error{
			102: solana.ErrBlockNotFound,
		},
	}
	h := &recordingHandler{}
	p := newTestPoller(t, chain, h)

	res, err := p.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint64{101, 102, 103}, chain.fetchCalls)
	assert.Equal(t, []uint64{101, 103}, h.slots)
	assert.Equal(t, []uint64{102}, h.fetchErrs)
	assert.Equal(t, []uint64{102}, res.Skipped)
	assert.Equal(t, uint64(110), p.Cursor())
}

func TestStep_HandlerErrorDoesNotStopWindow(t *testing.T) {
	chain := &mockChain{slot: 0, lists: [][]uint64{{1, 2}}}
	h := &recordingHandler{err: errors.New("sink down")}
	p := newTestPoller(t, chain, h)

	res, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, h.slots)
	assert.Equal(t, []uint64{1, 2}, res.Reported)
}

func TestStep_NotInitialized(t *testing.T) {
	p := New(&mockChain{}, &recordingHandler{}, nil, Config{}, nil, discardLogger())
	_, err := p.Step(context.Background())
	assert.Error(t, err)
}

func TestStep_PersistsCursorAndRecordsMetrics(t *testing.T) {
	store := cursor.NewMemoryStore()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	chain := &mockChain{slot: 100, lists: [][]uint64{{101}}, listErrs: []error{nil, errors.New("x")}}

	p := New(chain, &recordingHandler{}, store, Config{WindowSize: 10, CursorKey: "k"}, m, discardLogger())
	require.NoError(t, p.Init(context.Background()))

	_, err := p.Step(context.Background())
	require.NoError(t, err)
	_, err = p.Step(context.Background())
	require.NoError(t, err)

	slot, ok, err := store.Load(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(110), slot)
}

func TestInit(t *testing.T) {
	ctx := context.Background()
	start := uint64(42)

	t.Run("stored cursor wins", func(t *testing.T) {
		store := cursor.NewMemoryStore()
		require.NoError(t, store.Save(ctx, "k", 7))
		p := New(&mockChain{slot: 100}, &recordingHandler{}, store, Config{StartSlot: &start, CursorKey: "k"}, nil, discardLogger())
		require.NoError(t, p.Init(ctx))
		assert.Equal(t, uint64(7), p.Cursor())
	})

	t.Run("start slot over chain", func(t *testing.T) {
		p := New(&mockChain{slot: 100}, &recordingHandler{}, nil, Config{StartSlot: &start}, nil, discardLogger())
		require.NoError(t, p.Init(ctx))
		assert.Equal(t, uint64(42), p.Cursor())
	})

	t.Run("chain tip", func(t *testing.T) {
		p := New(&mockChain{slot: 100}, &recordingHandler{}, nil, Config{}, nil, discardLogger())
		require.NoError(t, p.Init(ctx))
		assert.Equal(t, uint64(100), p.Cursor())
	})

	t.Run("abort on slot failure", func(t *testing.T) {
		p := New(&mockChain{slotErr: errors.New("down")}, &recordingHandler{}, nil, Config{}, nil, discardLogger())
		err := p.Init(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "determine start slot")
	})

	t.Run("zero on slot failure", func(t *testing.T) {
		p := New(&mockChain{slot: 100, slotErr: errors.New("down")}, &recordingHandler{}, nil,
			Config{StartSlotPolicy: config.StartSlotZero}, nil, discardLogger())
		require.NoError(t, p.Init(ctx))
		assert.Equal(t, uint64(0), p.Cursor())
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	chain := &mockChain{slot: 100}
	p := New(chain, &recordingHandler{}, nil, Config{WindowSize: 10, PollInterval: time.Millisecond}, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		res := p.LastResult()
		return res != nil && res.Cursor >= 120
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InitFailure(t *testing.T) {
	p := New(&mockChain{slotErr: errors.New("down")}, &recordingHandler{}, nil, Config{}, nil, discardLogger())
	err := p.Run(context.Background())
	require.Error(t, err)
}

func TestFanout(t *testing.T) {
	a := &recordingHandler{}
	b := &recordingHandler{err: errors.New("b failed")}
	c := &recordingHandler{}
	f := Fanout{a, b, c}

	err := f.HandleBlock(context.Background(), &solana.Block{Slot: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Equal(t, []uint64{9}, a.slots)
	assert.Equal(t, []uint64{9}, c.slots)

	require.NoError(t, f.ReportFetchError(3, errors.New("x")))
	assert.Equal(t, []uint64{3}, a.fetchErrs)
}

type fakeSlotSource struct {
	batches [][]uint64
	cursors []*discovery.Cursor
	err     error
}

func (s *fakeSlotSource) Err() error { return s.err }

func (s *fakeSlotSource) PollNewSlots(c *discovery.Cursor) []uint64 {
	s.cursors = append(s.cursors, c)
	if len(s.batches) == 0 {
		return nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b
}

type announcer struct{ slots []uint64 }

func (a *announcer) ReportDiscoveredSlot(slot uint64) error {
	a.slots = append(a.slots, slot)
	return nil
}

func TestDiscoveryPoller_Step(t *testing.T) {
	src := &fakeSlotSource{batches: [][]uint64{{5, 6}, {7}}}
	chain := &mockChain{fetchErrs: map[uint64]error{6: solana.ErrSlotSkipped}}
	h := &recordingHandler{}
	ann := &announcer{}
	p := NewDiscoveryPoller(src, chain, h, ann, 0, nil, discardLogger())

	reported, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, reported)

	reported, err = p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, reported)

	assert.Equal(t, []uint64{5, 6, 7}, ann.slots)
	assert.Equal(t, []uint64{5, 7}, h.slots)
	assert.Equal(t, []uint64{6}, h.fetchErrs)
	// The same cursor is reused across cycles.
	require.Len(t, src.cursors, 2)
	assert.Same(t, src.cursors[0], src.cursors[1])
}

type fakeVoteSource struct {
	votes []discovery.VoteTransaction
	err   error
}

func (s *fakeVoteSource) Err() error { return s.err }

func (s *fakeVoteSource) PollNewVotes(c *discovery.Cursor) []discovery.VoteTransaction {
	v := s.votes
	s.votes = nil
	return v
}

type voteRecorder struct{ slots []uint64 }

func (r *voteRecorder) ReportVote(slot uint64, tx *solanago.Transaction) error {
	r.slots = append(r.slots, slot)
	return nil
}

func TestVotePoller_Step(t *testing.T) {
	src := &fakeVoteSource{votes: []discovery.VoteTransaction{{Slot: 1}, {Slot: 2}}}
	rec := &voteRecorder{}
	p := NewVotePoller(src, rec, 0, discardLogger())

	n, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1, 2}, rec.slots)

	n, err = p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDiscoveryPoller_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewDiscoveryPoller(&fakeSlotSource{}, &mockChain{}, &recordingHandler{}, nil, time.Hour, nil, discardLogger())
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}

func TestDiscoveryPoller_FeedStopped(t *testing.T) {
	stopErr := errors.New("slot feed stopped: websocket closed")
	src := &fakeSlotSource{batches: [][]uint64{{8}}, err: stopErr}
	h := &recordingHandler{}
	p := NewDiscoveryPoller(src, &mockChain{}, h, nil, time.Hour, nil, discardLogger())

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, stopErr)
	// Slots queued before the failure are still handled.
	assert.Equal(t, []uint64{8}, h.slots)
}

func TestVotePoller_FeedStopped(t *testing.T) {
	stopErr := errors.New("slot feed stopped")
	src := &fakeVoteSource{votes: []discovery.VoteTransaction{{Slot: 3}}, err: stopErr}
	rec := &voteRecorder{}
	p := NewVotePoller(src, rec, time.Hour, discardLogger())

	n, err := p.Step(context.Background())
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint64{3}, rec.slots)
	assert.ErrorIs(t, p.Run(context.Background()), stopErr)
}
