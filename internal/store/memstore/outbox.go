// internal/store/memstore/outbox.go
package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

func (s *Store) enqueueLocked(job notify.Job) {
	job.Channels = append([]notify.ChannelKind(nil), job.Channels...)
	s.jobs[job.ID] = &jobRecord{job: job, status: jobPending}
	s.jobOrder = append(s.jobOrder, job.ID)
}

// Enqueue adds a job outside of any accrual unit.
func (s *Store) Enqueue(_ context.Context, job notify.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(job)
	return nil
}

// ClaimJobs pushes NotBefore past the lease, so a crashed worker's jobs
// become due again on their own.
func (s *Store) ClaimJobs(_ context.Context, now time.Time, limit int, lease time.Duration) ([]notify.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notify.Job
	for _, id := range s.jobOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := s.jobs[id]
		if rec.status != jobPending || rec.job.NotBefore.After(now) {
			continue
		}
		rec.job.NotBefore = now.Add(lease)
		job := rec.job
		job.Channels = append([]notify.ChannelKind(nil), rec.job.Channels...)
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) CompleteJob(_ context.Context, id uuid.UUID, _ time.Time) error {
	return s.settle(id, jobDone, "")
}

func (s *Store) FailJob(_ context.Context, id uuid.UUID, reason string, _ time.Time) error {
	return s.settle(id, jobFailed, reason)
}

func (s *Store) settle(id uuid.UUID, status jobStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", notify.ErrJobNotFound, id)
	}
	rec.status = status
	rec.reason = reason
	return nil
}

func (s *Store) RetryJob(_ context.Context, id uuid.UUID, channels []notify.ChannelKind, attempts int, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", notify.ErrJobNotFound, id)
	}
	rec.job.Channels = append([]notify.ChannelKind(nil), channels...)
	rec.job.Attempts = attempts
	rec.job.NotBefore = notBefore
	return nil
}

// PendingJobs lists jobs not yet completed or failed, oldest first.
func (s *Store) PendingJobs(_ context.Context) ([]notify.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notify.Job
	for _, id := range s.jobOrder {
		if rec := s.jobs[id]; rec.status == jobPending {
			out = append(out, rec.job)
		}
	}
	return out, nil
}

func (s *Store) RecordAlert(_ context.Context, alert notify.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *Store) ListAlerts(_ context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]notify.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []notify.Alert{}
	for _, a := range s.alerts {
		if a.BusinessID != businessID || (!includeAcknowledged && a.AcknowledgedAt != nil) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AcknowledgeAlert(_ context.Context, businessID, alertID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID != alertID || s.alerts[i].BusinessID != businessID {
			continue
		}
		if s.alerts[i].AcknowledgedAt == nil {
			ack := at
			s.alerts[i].AcknowledgedAt = &ack
		}
		return nil
	}
	return fmt.Errorf("%w: %s", notify.ErrAlertNotFound, alertID)
}
