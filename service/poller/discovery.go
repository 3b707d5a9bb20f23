package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/slotwatch/service/discovery"
	"github.com/brojonat/slotwatch/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
)

// SlotSource yields slots newer than a cursor and advances it.
type SlotSource interface {
	PollNewSlots(c *discovery.Cursor) []uint64
}

// VoteSource yields vote transactions newer than a cursor and advances it.
type VoteSource interface {
	PollNewVotes(c *discovery.Cursor) []discovery.VoteTransaction
}

// feedHealth is implemented by sources whose feed can stop on its own.
// A non-nil Err ends the polling loop.
type feedHealth interface {
	Err() error
}

func feedErr(src any) error {
	if h, ok := src.(feedHealth); ok {
		return h.Err()
	}
	return nil
}

// SlotAnnouncer is notified of each discovered slot before it is fetched.
type SlotAnnouncer interface {
	ReportDiscoveredSlot(slot uint64) error
}

// VoteReporter prints vote transactions.
type VoteReporter interface {
	ReportVote(slot uint64, tx *solanago.Transaction) error
}

// DiscoveryPoller fetches every slot announced by a SlotSource. It keeps
// a single cursor for its lifetime.
type DiscoveryPoller struct {
	slots    SlotSource
	source   ChainSource
	handler  BlockHandler
	announce SlotAnnouncer
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	cursor discovery.Cursor
}

// NewDiscoveryPoller creates a DiscoveryPoller. announce may be nil.
func NewDiscoveryPoller(
	slots SlotSource,
	source ChainSource,
	handler BlockHandler,
	announce SlotAnnouncer,
	interval time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DiscoveryPoller {
	return &DiscoveryPoller{
		slots:    slots,
		source:   source,
		handler:  handler,
		announce: announce,
		interval: interval,
		metrics:  m,
		logger:   logger.With("component", "discovery_poller"),
	}
}

// Step polls once and returns the slots that were reported. Slots queued
// before the source's feed stopped are still processed; the feed error is
// returned afterwards.
func (p *DiscoveryPoller) Step(ctx context.Context) ([]uint64, error) {
	stopped := feedErr(p.slots)
	var reported []uint64
	for _, slot := range p.slots.PollNewSlots(&p.cursor) {
		if err := ctx.Err(); err != nil {
			return reported, err
		}
		if p.announce != nil {
			if err := p.announce.ReportDiscoveredSlot(slot); err != nil {
				p.logger.WarnContext(ctx, "failed to announce slot", "slot", slot, "error", err)
			}
		}
		if ProcessSlot(ctx, p.source, p.handler, slot, "discovery", p.metrics, p.logger) {
			reported = append(reported, slot)
		}
	}
	return reported, stopped
}

// Run steps until ctx is cancelled or the source's feed stops.
func (p *DiscoveryPoller) Run(ctx context.Context) error {
	for {
		if _, err := p.Step(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}

// VotePoller reports every vote transaction a VoteSource yields.
type VotePoller struct {
	votes    VoteSource
	reporter VoteReporter
	interval time.Duration
	logger   *slog.Logger

	cursor discovery.Cursor
}

// NewVotePoller creates a VotePoller.
func NewVotePoller(votes VoteSource, reporter VoteReporter, interval time.Duration, logger *slog.Logger) *VotePoller {
	return &VotePoller{
		votes:    votes,
		reporter: reporter,
		interval: interval,
		logger:   logger.With("component", "vote_poller"),
	}
}

// Step reports the votes observed since the previous step, then returns
// the source's feed error if it has stopped.
func (p *VotePoller) Step(ctx context.Context) (int, error) {
	stopped := feedErr(p.votes)
	votes := p.votes.PollNewVotes(&p.cursor)
	for _, v := range votes {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := p.reporter.ReportVote(v.Slot, v.Tx); err != nil {
			p.logger.WarnContext(ctx, "failed to report vote", "slot", v.Slot, "error", err)
		}
	}
	return len(votes), stopped
}

// Run steps until ctx is cancelled or the source's feed stops.
func (p *VotePoller) Run(ctx context.Context) error {
	for {
		if _, err := p.Step(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}
