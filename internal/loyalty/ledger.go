// internal/loyalty/ledger.go
package loyalty

import (
	"context"
	"fmt"
)

// Ledger is the append-only record of purchase events. Counts are always
// derived from stored events, never kept as a separate counter.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append records the event and returns the customer's new total.
func (l *Ledger) Append(ctx context.Context, tx AccrualTx, event PurchaseEvent) (int, error) {
	total, err := tx.AppendEvent(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("append purchase event: %w", err)
	}
	return total, nil
}

// Total returns the number of purchase events stored for the customer.
func (l *Ledger) Total(ctx context.Context, key CustomerKey) (int, error) {
	total, err := l.store.CountEvents(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("count purchase events: %w", err)
	}
	return total, nil
}

// CountSince returns the purchases credited after reward afterRewardSeq.
func (l *Ledger) CountSince(ctx context.Context, key CustomerKey, afterRewardSeq, threshold int) (int, error) {
	total, err := l.Total(ctx, key)
	if err != nil {
		return 0, err
	}
	return Progress(total, threshold, afterRewardSeq), nil
}

// Progress is total minus what the issued rewards already consumed.
func Progress(total, threshold, rewardsIssued int) int {
	p := total - threshold*rewardsIssued
	if p < 0 {
		return 0
	}
	return p
}
