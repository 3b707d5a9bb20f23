package poller

import (
	"context"
	"errors"

	"github.com/brojonat/slotwatch/service/solana"
)

// Fanout delivers each block to every handler in order. All handlers run
// even when an earlier one fails; the errors are joined.
type Fanout []BlockHandler

func (f Fanout) HandleBlock(ctx context.Context, block *solana.Block) error {
	var errs []error
	for _, h := range f {
		if err := h.HandleBlock(ctx, block); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportFetchError forwards to every handler that wants fetch failures.
func (f Fanout) ReportFetchError(slot uint64, err error) error {
	var errs []error
	for _, h := range f {
		if r, ok := h.(FetchErrorReporter); ok {
			if rErr := r.ReportFetchError(slot, err); rErr != nil {
				errs = append(errs, rErr)
			}
		}
	}
	return errors.Join(errs...)
}
