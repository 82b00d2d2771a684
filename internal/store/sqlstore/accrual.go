// internal/store/sqlstore/accrual.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
)

// Accrue runs fn in one transaction. The unique keys on event seq, token
// hash and reward sequence are the serialization point per customer: a
// writer that lost the race surfaces as loyalty.ErrConflict.
func (s *Store) Accrue(ctx context.Context, key loyalty.CustomerKey, fn func(ctx context.Context, tx loyalty.AccrualTx) error) error {
	ctx, span := s.tracer.Start(ctx, "sqlstore.accrue",
		trace.WithAttributes(
			attribute.String("business.id", key.BusinessID.String()),
			attribute.String("customer.id", key.CustomerID.String()),
		),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		if isContention(err) {
			return loyalty.ErrConflict
		}
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &accrualTx{tx: tx, key: key}); err != nil {
		if isContention(err) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return loyalty.ErrConflict
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := tx.Commit(); err != nil {
		if isContention(err) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return loyalty.ErrConflict
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type accrualTx struct {
	tx  *sqlx.Tx
	key loyalty.CustomerKey
}

func (t *accrualTx) ClaimToken(ctx context.Context, entry loyalty.DedupEntry) (bool, *loyalty.DedupEntry, error) {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO dedup_entries (business_id, customer_id, token_hash, total_count, progress, threshold, created_at)
		VALUES (?, ?, ?, 0, 0, 0, ?)
		ON CONFLICT (business_id, customer_id, token_hash) DO NOTHING
	`), t.key.BusinessID, t.key.CustomerID, entry.TokenHash, ts(entry.CreatedAt))
	if err != nil {
		return false, nil, fmt.Errorf("insert dedup entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n == 1 {
		return true, nil, nil
	}

	var prior loyalty.DedupEntry
	err = t.tx.GetContext(ctx, &prior, t.tx.Rebind(`
		SELECT business_id, customer_id, token_hash, total_count, progress, threshold, created_at
		FROM dedup_entries
		WHERE business_id = ? AND customer_id = ? AND token_hash = ?
	`), t.key.BusinessID, t.key.CustomerID, entry.TokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		// Pruned between the insert and the read; let the caller retry.
		return false, nil, loyalty.ErrConflict
	}
	if err != nil {
		return false, nil, fmt.Errorf("load dedup entry: %w", err)
	}
	return false, &prior, nil
}

func (t *accrualTx) RecordResult(ctx context.Context, entry loyalty.DedupEntry) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE dedup_entries
		SET total_count = ?, progress = ?, threshold = ?
		WHERE business_id = ? AND customer_id = ? AND token_hash = ?
	`), entry.TotalCount, entry.Progress, entry.Threshold, t.key.BusinessID, t.key.CustomerID, entry.TokenHash)
	if err != nil {
		return fmt.Errorf("update dedup entry: %w", err)
	}
	return nil
}

func (t *accrualTx) AppendEvent(ctx context.Context, event loyalty.PurchaseEvent) (int, error) {
	var current int
	err := t.tx.GetContext(ctx, &current, t.tx.Rebind(`
		SELECT COALESCE(MAX(seq), 0)
		FROM purchase_events
		WHERE business_id = ? AND customer_id = ?
	`), t.key.BusinessID, t.key.CustomerID)
	if err != nil {
		return 0, fmt.Errorf("query current seq: %w", err)
	}

	seq := current + 1
	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO purchase_events (id, business_id, customer_id, seq, token_hash, client_timestamp, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), event.ID, t.key.BusinessID, t.key.CustomerID, seq, event.TokenHash, ts(event.ClientTimestamp), ts(event.AcceptedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, loyalty.ErrConflict
		}
		return 0, fmt.Errorf("insert purchase event: %w", err)
	}
	return seq, nil
}

func (t *accrualTx) CountRewards(ctx context.Context) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, t.tx.Rebind(`
		SELECT COUNT(*) FROM rewards WHERE business_id = ? AND customer_id = ?
	`), t.key.BusinessID, t.key.CustomerID)
	if err != nil {
		return 0, fmt.Errorf("count rewards: %w", err)
	}
	return n, nil
}

func (t *accrualTx) InsertReward(ctx context.Context, reward loyalty.Reward) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO rewards (id, business_id, customer_id, sequence, state, earned_at, redeemed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (business_id, customer_id, sequence) DO NOTHING
	`), reward.ID, t.key.BusinessID, t.key.CustomerID, reward.Sequence, string(reward.State), ts(reward.EarnedAt), tsPtr(reward.RedeemedAt))
	if err != nil {
		return fmt.Errorf("insert reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrRewardExists
	}
	return nil
}

func (t *accrualTx) Enqueue(ctx context.Context, job notify.Job) error {
	return insertJob(ctx, t.tx, job)
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

func insertJob(ctx context.Context, e execer, job notify.Job) error {
	_, err := e.ExecContext(ctx, e.Rebind(`
		INSERT INTO notification_jobs
			(id, kind, business_id, customer_id, customer_email, reward_id, sequence, channels, attempts, not_before, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), job.ID, string(job.Kind), job.BusinessID, job.CustomerID, job.CustomerEmail, job.RewardID, job.Sequence,
		joinChannels(job.Channels), job.Attempts, ts(job.NotBefore), ts(job.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification job: %w", err)
	}
	return nil
}

func joinChannels(channels []notify.ChannelKind) string {
	parts := make([]string, len(channels))
	for i, c := range channels {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func splitChannels(raw string) []notify.ChannelKind {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]notify.ChannelKind, len(parts))
	for i, p := range parts {
		out[i] = notify.ChannelKind(p)
	}
	return out
}
