// internal/loyalty/idempotency.go
package loyalty

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultDedupRetention covers client retry storms with a wide margin.
const DefaultDedupRetention = 24 * time.Hour

// Decision is the guard's verdict on a scan token.
type Decision int

const (
	Accepted Decision = iota + 1
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Guard deduplicates scan submissions per (business, customer, token).
type Guard struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard builds a guard with the given retention window.
func NewGuard(store Store, retention time.Duration, logger *slog.Logger) *Guard {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: store, retention: retention, logger: logger, now: time.Now}
}

// HashToken maps an opaque client token onto a fixed-size key.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TryAccept claims the token inside the customer's unit of work. Exactly one
// concurrent caller observes Accepted; the rest get Duplicate and the entry
// written by the winner.
func (g *Guard) TryAccept(ctx context.Context, tx AccrualTx, key CustomerKey, token string, now time.Time) (Decision, *DedupEntry, error) {
	entry := DedupEntry{
		BusinessID: key.BusinessID,
		CustomerID: key.CustomerID,
		TokenHash:  HashToken(token),
		CreatedAt:  now,
	}
	claimed, prior, err := tx.ClaimToken(ctx, entry)
	if err != nil {
		return 0, nil, fmt.Errorf("claim scan token: %w", err)
	}
	if !claimed {
		return Duplicate, prior, nil
	}
	return Accepted, &entry, nil
}

// Record stores the result an accepted token produced so retries can replay it.
func (g *Guard) Record(ctx context.Context, tx AccrualTx, entry *DedupEntry, result AccrualResult) error {
	entry.TotalCount = result.TotalCount
	entry.Progress = result.ProgressToNextReward
	entry.Threshold = result.Threshold
	if err := tx.RecordResult(ctx, *entry); err != nil {
		return fmt.Errorf("record scan result: %w", err)
	}
	return nil
}

// Replay rebuilds the result seen by the original submission. The reward,
// if any, was reported to that submission and is not reported again.
func (g *Guard) Replay(entry *DedupEntry) AccrualResult {
	return AccrualResult{
		Accepted:             false,
		Duplicate:            true,
		TotalCount:           entry.TotalCount,
		ProgressToNextReward: entry.Progress,
		Threshold:            entry.Threshold,
	}
}

// Prune drops entries older than the retention window.
func (g *Guard) Prune(ctx context.Context) (int, error) {
	cutoff := g.now().Add(-g.retention)
	n, err := g.store.PruneDedup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune dedup entries: %w", err)
	}
	return n, nil
}

// RunJanitor prunes on every tick until ctx is done.
func (g *Guard) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Prune(ctx)
			if err != nil {
				g.logger.WarnContext(ctx, "dedup prune failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				g.logger.InfoContext(ctx, "dedup entries pruned", slog.Int("count", n))
			}
		}
	}
}
