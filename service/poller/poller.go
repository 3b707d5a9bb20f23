// Package poller drives the slot/block polling loops: a windowed poller
// over a numeric cursor and a discovery poller over an opaque cursor.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/slotwatch/service/config"
	"github.com/brojonat/slotwatch/service/cursor"
	"github.com/brojonat/slotwatch/service/metrics"
	"github.com/brojonat/slotwatch/service/solana"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ChainSource is the chain data source the pollers read from.
type ChainSource interface {
	CurrentSlot(ctx context.Context) (uint64, error)
	ListBlocks(ctx context.Context, start, end uint64) ([]uint64, error)
	FetchBlock(ctx context.Context, slot uint64) (*solana.Block, error)
}

// BlockHandler receives every successfully fetched block.
type BlockHandler interface {
	HandleBlock(ctx context.Context, block *solana.Block) error
}

// FetchErrorReporter is optionally implemented by handlers that want to
// see per-slot fetch failures.
type FetchErrorReporter interface {
	ReportFetchError(slot uint64, err error) error
}

// Window is the half-open slot range [Lo, Hi).
type Window struct {
	Lo uint64 `json:"lo"`
	Hi uint64 `json:"hi"`
}

// Contains reports whether slot falls in the window.
func (w Window) Contains(slot uint64) bool {
	return slot >= w.Lo && slot < w.Hi
}

// Normalize sorts slots ascending, drops duplicates and anything outside w.
func (w Window) Normalize(slots []uint64) []uint64 {
	out := make([]uint64, 0, len(slots))
	for _, s := range slots {
		if w.Contains(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, s := range out {
		if i == 0 || s != out[n-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}

// StepResult describes one windowed poll cycle.
type StepResult struct {
	Window   Window        `json:"window"`
	Listed   []uint64      `json:"listed"`
	Reported []uint64      `json:"reported"`
	Skipped  []uint64      `json:"skipped"`
	Retried  bool          `json:"retried"`
	Cursor   uint64        `json:"cursor"`
	Duration time.Duration `json:"duration"`
}

// Config controls the windowed poller.
type Config struct {
	WindowSize   uint64
	PollInterval time.Duration
	// StartSlot overrides the chain tip when no cursor is stored.
	StartSlot       *uint64
	StartSlotPolicy config.StartSlotPolicy
	// CursorKey names the persisted cursor in Store.
	CursorKey string
}

// Poller advances a numeric cursor over the chain in fixed windows.
// The cursor is owned by the single goroutine running Run or Step.
type Poller struct {
	source  ChainSource
	handler BlockHandler
	store   cursor.Store
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	cursor      uint64
	initialized bool

	mu   sync.RWMutex
	last *StepResult
}

// New creates a windowed Poller. store may be nil, in which case the
// cursor lives only in memory.
func New(source ChainSource, handler BlockHandler, store cursor.Store, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 10
	}
	if cfg.StartSlotPolicy == "" {
		cfg.StartSlotPolicy = config.StartSlotAbort
	}
	if store == nil {
		store = cursor.NewMemoryStore()
	}
	return &Poller{
		source:  source,
		handler: handler,
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "poller"),
	}
}

// Cursor returns the current lower bound of the next window.
func (p *Poller) Cursor() uint64 {
	return p.cursor
}

// LastResult returns the most recent step result, or nil before the first step.
func (p *Poller) LastResult() *StepResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Init sets the starting cursor from, in order: the stored cursor, the
// configured start slot, or the current chain slot. When the chain slot
// cannot be read the StartSlotPolicy decides between failing and slot 0.
func (p *Poller) Init(ctx context.Context) error {
	if slot, ok, err := p.store.Load(ctx, p.cfg.CursorKey); err != nil {
		return fmt.Errorf("load cursor: %w", err)
	} else if ok {
		p.setCursor(slot, "store")
		return nil
	}

	if p.cfg.StartSlot != nil {
		p.setCursor(*p.cfg.StartSlot, "config")
		return nil
	}

	slot, err := p.source.CurrentSlot(ctx)
	if err != nil {
		if p.cfg.StartSlotPolicy != config.StartSlotZero {
			return fmt.Errorf("determine start slot: %w", err)
		}
		p.logger.WarnContext(ctx, "failed to get current slot, starting from genesis",
			"error", err,
		)
		slot = 0
	}
	p.setCursor(slot, "chain")
	return nil
}

func (p *Poller) setCursor(slot uint64, source string) {
	p.cursor = slot
	p.initialized = true
	p.logger.Info("poller cursor initialized", "cursor", slot, "source", source)
	if p.metrics != nil {
		p.metrics.SetCursor(p.cfg.CursorKey, slot)
	}
}

// Step processes one window. A ListBlocks failure leaves the cursor in
// place; otherwise the cursor moves forward by WindowSize regardless of
// per-slot fetch or handler failures.
func (p *Poller) Step(ctx context.Context) (*StepResult, error) {
	if !p.initialized {
		return nil, errors.New("poller not initialized")
	}

	ctx, span := otel.Tracer("slotwatch/poller").Start(ctx, "poller.Step")
	defer span.End()

	start := time.Now()
	w := Window{Lo: p.cursor, Hi: p.cursor + p.cfg.WindowSize}
	res := &StepResult{Window: w}
	span.SetAttributes(
		attribute.Int64("window.lo", int64(w.Lo)),
		attribute.Int64("window.hi", int64(w.Hi)),
	)

	slots, err := p.source.ListBlocks(ctx, w.Lo, w.Hi)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.WarnContext(ctx, "failed to list blocks, retrying window next cycle",
			"lo", w.Lo,
			"hi", w.Hi,
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list blocks failed")
		if p.metrics != nil {
			p.metrics.RecordWindowRetry(p.cfg.CursorKey)
		}
		res.Retried = true
		res.Cursor = p.cursor
		p.finish(res, start)
		return res, nil
	}

	res.Listed = w.Normalize(slots)
	if p.metrics != nil {
		p.metrics.RecordSlotsPerWindow(p.cfg.CursorKey, len(res.Listed))
	}

	for _, slot := range res.Listed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if p.process(ctx, slot, "window") {
			res.Reported = append(res.Reported, slot)
		} else {
			res.Skipped = append(res.Skipped, slot)
		}
	}

	p.cursor = w.Hi
	res.Cursor = p.cursor
	if err := p.store.Save(ctx, p.cfg.CursorKey, p.cursor); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist cursor",
			"cursor", p.cursor,
			"error", err,
		)
	}
	if p.metrics != nil {
		p.metrics.SetCursor(p.cfg.CursorKey, p.cursor)
	}

	p.finish(res, start)
	return res, nil
}

func (p *Poller) finish(res *StepResult, start time.Time) {
	res.Duration = time.Since(start)
	p.mu.Lock()
	p.last = res
	p.mu.Unlock()
}

func (p *Poller) process(ctx context.Context, slot uint64, source string) bool {
	return ProcessSlot(ctx, p.source, p.handler, slot, source, p.metrics, p.logger)
}

// ProcessSlot fetches one slot and hands the block to handler. Fetch
// failures are logged, counted under source, and passed to handler when it
// implements FetchErrorReporter. It returns false when the slot was skipped.
func ProcessSlot(
	ctx context.Context,
	src ChainSource,
	handler BlockHandler,
	slot uint64,
	source string,
	m *metrics.Metrics,
	logger *slog.Logger,
) bool {
	block, err := src.FetchBlock(ctx, slot)
	if err != nil {
		reason := solana.SkipReason(err)
		logger.WarnContext(ctx, "skipping slot",
			"slot", slot,
			"reason", reason,
			"error", err,
		)
		if m != nil {
			m.RecordSlotSkipped(source, reason)
		}
		if r, ok := handler.(FetchErrorReporter); ok {
			_ = r.ReportFetchError(slot, err)
		}
		return false
	}

	if m != nil {
		m.RecordBlockFetched(source)
	}
	if err := handler.HandleBlock(ctx, block); err != nil {
		logger.ErrorContext(ctx, "block handler failed",
			"slot", slot,
			"error", err,
		)
	}
	return true
}

// Run initializes the cursor and then steps until ctx is cancelled,
// sleeping PollInterval between windows. It returns ctx.Err() on shutdown.
func (p *Poller) Run(ctx context.Context) error {
	if !p.initialized {
		if err := p.Init(ctx); err != nil {
			return err
		}
	}

	for {
		res, err := p.Step(ctx)
		if err != nil {
			return err
		}
		p.logger.DebugContext(ctx, "window processed",
			"lo", res.Window.Lo,
			"hi", res.Window.Hi,
			"reported", len(res.Reported),
			"skipped", len(res.Skipped),
			"retried", res.Retried,
		)

		if err := sleep(ctx, p.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
