// internal/store/sqlstore/rewards.go
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
)

const rewardColumns = `id, business_id, customer_id, sequence, state, earned_at, redeemed_at`

func (s *Store) CountEvents(ctx context.Context, key loyalty.CustomerKey) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM purchase_events WHERE business_id = ? AND customer_id = ?
	`), key.BusinessID, key.CustomerID)
	if err != nil {
		return 0, fmt.Errorf("count purchase events: %w", err)
	}
	return n, nil
}

// Events returns the customer's ledger ordered by seq.
func (s *Store) Events(ctx context.Context, key loyalty.CustomerKey) ([]loyalty.PurchaseEvent, error) {
	var events []loyalty.PurchaseEvent
	err := s.db.SelectContext(ctx, &events, s.db.Rebind(`
		SELECT id, business_id, customer_id, seq, token_hash, client_timestamp, accepted_at
		FROM purchase_events
		WHERE business_id = ? AND customer_id = ?
		ORDER BY seq ASC
	`), key.BusinessID, key.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("query purchase events: %w", err)
	}
	return events, nil
}

func (s *Store) CustomerRewards(ctx context.Context, key loyalty.CustomerKey) ([]loyalty.Reward, error) {
	rewards := []loyalty.Reward{}
	err := s.db.SelectContext(ctx, &rewards, s.db.Rebind(`
		SELECT `+rewardColumns+`
		FROM rewards
		WHERE business_id = ? AND customer_id = ?
		ORDER BY sequence ASC
	`), key.BusinessID, key.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("query customer rewards: %w", err)
	}
	return rewards, nil
}

func (s *Store) GetReward(ctx context.Context, id uuid.UUID) (*loyalty.Reward, error) {
	var r loyalty.Reward
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+rewardColumns+` FROM rewards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reward %s", loyalty.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load reward: %w", err)
	}
	return &r, nil
}

func (s *Store) BusinessRewards(ctx context.Context, businessID uuid.UUID, state loyalty.RewardState) ([]loyalty.Reward, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards WHERE business_id = ?`
	args := []any{businessID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY earned_at ASC, customer_id ASC, sequence ASC`

	rewards := []loyalty.Reward{}
	if err := s.db.SelectContext(ctx, &rewards, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query business rewards: %w", err)
	}
	return rewards, nil
}

// RedeemReward applies the transition only while the row is still earned.
func (s *Store) RedeemReward(ctx context.Context, reward loyalty.Reward, job *notify.Job) error {
	ctx, span := s.tracer.Start(ctx, "sqlstore.redeem",
		trace.WithAttributes(attribute.String("reward.id", reward.ID.String())),
	)
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE rewards SET state = ?, redeemed_at = ?
		WHERE id = ? AND state = ?
	`), string(reward.State), tsPtr(reward.RedeemedAt), reward.ID, string(loyalty.RewardEarned))
	if err != nil {
		return fmt.Errorf("update reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		var state string
		err := tx.GetContext(ctx, &state, tx.Rebind(`SELECT state FROM rewards WHERE id = ?`), reward.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: reward %s", loyalty.ErrNotFound, reward.ID)
		}
		if err != nil {
			return fmt.Errorf("load reward state: %w", err)
		}
		return fmt.Errorf("%w: reward %s is %s", loyalty.ErrInvalidState, reward.ID, state)
	}

	if job != nil {
		if err := insertJob(ctx, tx, *job); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) PruneDedup(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM dedup_entries WHERE created_at < ?`), ts(before))
	if err != nil {
		return 0, fmt.Errorf("prune dedup entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
