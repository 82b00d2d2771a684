// internal/notify/worker.go
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"loyalnexus/internal/observability/metrics"
)

const (
	DefaultMaxRounds    = 8
	DefaultPollInterval = 5 * time.Second
	DefaultLease        = 10 * time.Minute
	defaultBatchSize    = 32

	// jobOverhead covers the recipient lookup and the settle writes that
	// surround a job's delivery attempts.
	jobOverhead = 15 * time.Second
)

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithMaxRounds bounds how many Notify rounds a job gets before the
// remaining channels are given up and reported to the owner.
func WithMaxRounds(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxRounds = n
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithLease sets how long a claimed job stays hidden from other workers.
// The batch is sized so every claimed job settles before its lease ends.
func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lease = d
		}
	}
}

// WithRoundDelay sets the wait before round n+1 of a job.
func WithRoundDelay(fn func(round int) time.Duration) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.roundDelay = fn
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// Worker drains the outbox after the accrual transaction has committed.
// It never reads or writes reward state.
type Worker struct {
	outbox       Outbox
	dispatcher   *Dispatcher
	logger       *slog.Logger
	metrics      *metrics.LoyaltyMetrics
	now          func() time.Time
	maxRounds    int
	pollInterval time.Duration
	lease        time.Duration
	batchSize    int
	jobTimeout   time.Duration
	roundDelay   func(round int) time.Duration
	kick         chan struct{}
}

func NewWorker(outbox Outbox, dispatcher *Dispatcher, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:       outbox,
		dispatcher:   dispatcher,
		logger:       slog.Default(),
		metrics:      metrics.Loyalty(),
		now:          time.Now,
		maxRounds:    DefaultMaxRounds,
		pollInterval: DefaultPollInterval,
		lease:        DefaultLease,
		batchSize:    defaultBatchSize,
		roundDelay:   defaultRoundDelay,
		kick:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sizeBatch()
	return w
}

// sizeBatch fits the claimed batch inside the lease. Jobs run one after
// another, each bounded by the dispatcher's budget.
func (w *Worker) sizeBatch() {
	w.jobTimeout = w.dispatcher.JobBudget()
	perJob := w.jobTimeout + jobOverhead
	if w.lease < perJob {
		w.logger.Warn("notification lease shorter than one job, extending",
			slog.Duration("lease", w.lease),
			slog.Duration("per_job", perJob))
		w.lease = perJob
	}
	if n := int(w.lease / perJob); n < w.batchSize {
		w.batchSize = n
	}
}

// Lease reports the effective lease and how many jobs one claim takes.
func (w *Worker) Lease() (time.Duration, int) {
	return w.lease, w.batchSize
}

var defaultRoundDelay = ExponentialRoundDelay(30*time.Second, time.Hour)

// ExponentialRoundDelay doubles from base on every round and caps at limit.
// Each call replays a fresh backoff, so the delay depends on the round alone.
func ExponentialRoundDelay(base, limit time.Duration) func(round int) time.Duration {
	return func(round int) time.Duration {
		b := &backoff.ExponentialBackOff{
			InitialInterval: base,
			Multiplier:      2,
			MaxInterval:     limit,
		}
		d := b.NextBackOff()
		for i := 1; i < round && d < limit; i++ {
			d = b.NextBackOff()
		}
		return min(d, limit)
	}
}

// Kick wakes the worker without blocking the caller.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run processes due jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "outbox round failed", slog.Any("error", err))
		}
		if err == nil && n == w.batchSize && ctx.Err() == nil {
			// A full batch means more may be due.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.kick:
		}
	}
}

// RunOnce claims one batch of due jobs and processes it.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.outbox.ClaimJobs(ctx, w.now().UTC(), w.batchSize, w.lease)
	if err != nil {
		return 0, fmt.Errorf("claim jobs: %w", err)
	}
	for _, job := range jobs {
		if err := w.process(ctx, job); err != nil {
			// The lease expires and the job is picked up again.
			w.logger.ErrorContext(ctx, "notification job not settled",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job Job) error {
	notifyCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	statuses := w.dispatcher.Notify(notifyCtx, job)
	cancel()
	now := w.now().UTC()

	var pending []DeliveryStatus
	for _, st := range statuses {
		w.metrics.ObserveDelivery(string(st.Channel), string(st.State))
		switch st.State {
		case DeliveryPermanentFailure:
			if err := w.alert(ctx, job, st, true, now); err != nil {
				return err
			}
		case DeliveryTransientFailure:
			pending = append(pending, st)
		}
	}

	if len(pending) == 0 {
		return w.outbox.CompleteJob(ctx, job.ID, now)
	}

	round := job.Attempts + 1
	if round >= w.maxRounds {
		for _, st := range pending {
			if err := w.alert(ctx, job, st, false, now); err != nil {
				return err
			}
		}
		return w.outbox.FailJob(ctx, job.ID, fmt.Sprintf("gave up after %d rounds", round), now)
	}

	channels := make([]ChannelKind, 0, len(pending))
	for _, st := range pending {
		channels = append(channels, st.Channel)
	}
	return w.outbox.RetryJob(ctx, job.ID, channels, round, now.Add(w.roundDelay(round)))
}

func (w *Worker) alert(ctx context.Context, job Job, st DeliveryStatus, permanent bool, now time.Time) error {
	w.metrics.ObserveAlert(string(st.Channel), permanent)
	return w.outbox.RecordAlert(ctx, Alert{
		ID:         uuid.New(),
		BusinessID: job.BusinessID,
		RewardID:   job.RewardID,
		JobID:      job.ID,
		Channel:    st.Channel,
		Reason:     st.Error,
		Permanent:  permanent,
		CreatedAt:  now,
	})
}
