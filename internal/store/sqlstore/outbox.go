// internal/store/sqlstore/outbox.go
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

type jobRow struct {
	ID            uuid.UUID `db:"id"`
	Kind          string    `db:"kind"`
	BusinessID    uuid.UUID `db:"business_id"`
	CustomerID    uuid.UUID `db:"customer_id"`
	CustomerEmail string    `db:"customer_email"`
	RewardID      uuid.UUID `db:"reward_id"`
	Sequence      int       `db:"sequence"`
	Channels      string    `db:"channels"`
	Attempts      int       `db:"attempts"`
	Claims        int       `db:"claims"`
	NotBefore     time.Time `db:"not_before"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r jobRow) job() notify.Job {
	return notify.Job{
		ID:            r.ID,
		Kind:          notify.JobKind(r.Kind),
		BusinessID:    r.BusinessID,
		CustomerID:    r.CustomerID,
		CustomerEmail: r.CustomerEmail,
		RewardID:      r.RewardID,
		Sequence:      r.Sequence,
		Channels:      splitChannels(r.Channels),
		Attempts:      r.Attempts,
		NotBefore:     r.NotBefore,
		CreatedAt:     r.CreatedAt,
	}
}

const jobColumns = `id, kind, business_id, customer_id, customer_email, reward_id, sequence, channels, attempts, claims, not_before, created_at`

// Enqueue adds a job outside of any accrual unit.
func (s *Store) Enqueue(ctx context.Context, job notify.Job) error {
	return insertJob(ctx, s.db, job)
}

// ClaimJobs leases due jobs with a compare-and-set on the claim counter, so
// concurrent workers never both own a job.
func (s *Store) ClaimJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notify.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE status = 'pending' AND not_before <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`), ts(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}

	leaseUntil := ts(now.Add(lease))
	var claimed []notify.Job
	for _, row := range rows {
		res, err := s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE notification_jobs SET claims = claims + 1, not_before = ?
			WHERE id = ? AND claims = ? AND status = 'pending'
		`), leaseUntil, row.ID, row.Claims)
		if err != nil {
			return claimed, fmt.Errorf("claim job %s: %w", row.ID, err)
		}
		won, err := changed(res)
		if err != nil {
			return claimed, fmt.Errorf("claim job %s: %w", row.ID, err)
		}
		if !won {
			continue
		}
		job := row.job()
		job.NotBefore = leaseUntil
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.settleJob(ctx, id, "done", "", at)
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.settleJob(ctx, id, "failed", reason, at)
}

func (s *Store) settleJob(ctx context.Context, id uuid.UUID, status, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notification_jobs SET status = ?, reason = ?, settled_at = ? WHERE id = ?
	`), status, reason, ts(at), id)
	if err != nil {
		return fmt.Errorf("settle job %s: %w", id, err)
	}
	return expectOne(res, notify.ErrJobNotFound, id)
}

func (s *Store) RetryJob(ctx context.Context, id uuid.UUID, channels []notify.ChannelKind, attempts int, notBefore time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notification_jobs SET channels = ?, attempts = ?, not_before = ? WHERE id = ?
	`), joinChannels(channels), attempts, ts(notBefore), id)
	if err != nil {
		return fmt.Errorf("reschedule job %s: %w", id, err)
	}
	return expectOne(res, notify.ErrJobNotFound, id)
}

// PendingJobs lists jobs not yet completed or failed, oldest first.
func (s *Store) PendingJobs(ctx context.Context) ([]notify.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM notification_jobs WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	jobs := make([]notify.Job, len(rows))
	for i, r := range rows {
		jobs[i] = r.job()
	}
	return jobs, nil
}

func (s *Store) RecordAlert(ctx context.Context, a notify.Alert) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO delivery_alerts (id, business_id, reward_id, job_id, channel, reason, permanent, created_at, acknowledged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.BusinessID, a.RewardID, a.JobID, string(a.Channel), a.Reason, a.Permanent, ts(a.CreatedAt), tsPtr(a.AcknowledgedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

type alertRow struct {
	ID             uuid.UUID  `db:"id"`
	BusinessID     uuid.UUID  `db:"business_id"`
	RewardID       uuid.UUID  `db:"reward_id"`
	JobID          uuid.UUID  `db:"job_id"`
	Channel        string     `db:"channel"`
	Reason         string     `db:"reason"`
	Permanent      bool       `db:"permanent"`
	CreatedAt      time.Time  `db:"created_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at"`
}

func (s *Store) ListAlerts(ctx context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]notify.Alert, error) {
	query := `
		SELECT id, business_id, reward_id, job_id, channel, reason, permanent, created_at, acknowledged_at
		FROM delivery_alerts
		WHERE business_id = ?`
	if !includeAcknowledged {
		query += ` AND acknowledged_at IS NULL`
	}
	query += ` ORDER BY created_at ASC`

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), businessID); err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	alerts := make([]notify.Alert, len(rows))
	for i, r := range rows {
		alerts[i] = notify.Alert{
			ID:             r.ID,
			BusinessID:     r.BusinessID,
			RewardID:       r.RewardID,
			JobID:          r.JobID,
			Channel:        notify.ChannelKind(r.Channel),
			Reason:         r.Reason,
			Permanent:      r.Permanent,
			CreatedAt:      r.CreatedAt,
			AcknowledgedAt: r.AcknowledgedAt,
		}
	}
	return alerts, nil
}

func (s *Store) AcknowledgeAlert(ctx context.Context, businessID, alertID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE delivery_alerts SET acknowledged_at = COALESCE(acknowledged_at, ?)
		WHERE id = ? AND business_id = ?
	`), ts(at), alertID, businessID)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	return expectOne(res, notify.ErrAlertNotFound, alertID)
}
