package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/store/memstore"
)

type workerFixture struct {
	store  *memstore.Store
	worker *notify.Worker
	now    time.Time
	mu     sync.Mutex
}

func (f *workerFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *workerFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newWorkerFixture(t *testing.T, maxRounds int, channels ...notify.Channel) *workerFixture {
	t.Helper()
	f := &workerFixture{store: memstore.New(), now: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	d := newDispatcher(staticResolver{recipient: recipient}, channels...)
	f.worker = notify.NewWorker(f.store, d,
		notify.WithMaxRounds(maxRounds),
		notify.WithWorkerClock(f.clock),
		notify.WithRoundDelay(func(int) time.Duration { return time.Minute }),
	)
	return f
}

func (f *workerFixture) enqueue(t *testing.T, channels ...notify.ChannelKind) notify.Job {
	t.Helper()
	job := testJob(channels...)
	job.NotBefore = f.now
	require.NoError(t, f.store.Enqueue(context.Background(), job))
	return job
}

func TestWorkerCompletesDeliveredJobs(t *testing.T) {
	email := &fakeChannel{kind: notify.ChannelEmail}
	f := newWorkerFixture(t, 3, email)
	f.enqueue(t, notify.ChannelEmail)

	n, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.store.PendingJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int32(1), email.calls.Load())
}

func TestWorkerRetriesOnlyFailedChannels(t *testing.T) {
	ctx := context.Background()
	email := &fakeChannel{kind: notify.ChannelEmail, failures: 5, err: errors.New("503")}
	telegram := &fakeChannel{kind: notify.ChannelTelegram}
	f := newWorkerFixture(t, 3, email, telegram)
	job := f.enqueue(t, notify.ChannelEmail, notify.ChannelTelegram)

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)

	pending, err := f.store.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
	assert.Equal(t, []notify.ChannelKind{notify.ChannelEmail}, pending[0].Channels)
	assert.Equal(t, 1, pending[0].Attempts)

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "job is not due before its round delay")

	f.advance(time.Minute)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	pending, err = f.store.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int32(1), telegram.calls.Load(), "delivered channel is not sent again")
	assert.Equal(t, int32(6), email.calls.Load())
}

func TestWorkerRaisesAlertForPermanentFailure(t *testing.T) {
	ctx := context.Background()
	email := &fakeChannel{kind: notify.ChannelEmail, failures: -1, err: notify.Permanent(notify.ChannelEmail, errors.New("invalid to"))}
	telegram := &fakeChannel{kind: notify.ChannelTelegram}
	f := newWorkerFixture(t, 3, email, telegram)
	job := f.enqueue(t, notify.ChannelEmail, notify.ChannelTelegram)

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)

	alerts, err := f.store.ListAlerts(ctx, job.BusinessID, false)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Permanent)
	assert.Equal(t, notify.ChannelEmail, alerts[0].Channel)
	assert.Equal(t, job.RewardID, alerts[0].RewardID)
	assert.Contains(t, alerts[0].Reason, "invalid to")

	pending, err := f.store.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int32(1), telegram.calls.Load())
}

func TestWorkerGivesUpAfterMaxRounds(t *testing.T) {
	ctx := context.Background()
	email := &fakeChannel{kind: notify.ChannelEmail, failures: -1, err: errors.New("timeout")}
	f := newWorkerFixture(t, 2, email)
	job := f.enqueue(t, notify.ChannelEmail)

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)

	pending, err := f.store.PendingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	alerts, err := f.store.ListAlerts(ctx, job.BusinessID, true)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].Permanent)
}

func TestWorkerRunWakesOnKick(t *testing.T) {
	email := &fakeChannel{kind: notify.ChannelEmail}
	store := memstore.New()
	d := newDispatcher(staticResolver{recipient: recipient}, email)
	w := notify.NewWorker(store, d, notify.WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	job := testJob(notify.ChannelEmail)
	job.NotBefore = time.Now().Add(-time.Second)
	require.NoError(t, store.Enqueue(context.Background(), job))
	w.Kick()

	require.Eventually(t, func() bool { return email.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

// claimRecorder remembers what the worker asked the outbox for.
type claimRecorder struct {
	*memstore.Store
	mu    sync.Mutex
	limit int
	lease time.Duration
}

func (r *claimRecorder) ClaimJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notify.Job, error) {
	r.mu.Lock()
	r.limit, r.lease = limit, lease
	r.mu.Unlock()
	return r.Store.ClaimJobs(ctx, now, limit, lease)
}

func TestWorkerBatchFitsInsideLease(t *testing.T) {
	// 3 attempts of 1s each plus 2 waits of at most 3s.
	d := notify.NewDispatcher(staticResolver{recipient: recipient}, nil,
		notify.WithMaxAttempts(3),
		notify.WithSendTimeout(time.Second),
		notify.WithRetryInterval(time.Millisecond, 2*time.Second),
	)
	require.Equal(t, 9*time.Second, d.JobBudget())
	perJob := d.JobBudget() + 15*time.Second

	tests := []struct {
		name      string
		lease     time.Duration
		wantLease time.Duration
		wantBatch int
	}{
		{"roomy lease", time.Hour, time.Hour, 32},
		{"tight lease", time.Minute, time.Minute, 2},
		{"lease shorter than a job", 5 * time.Second, perJob, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := &claimRecorder{Store: memstore.New()}
			w := notify.NewWorker(outbox, d, notify.WithLease(tt.lease))

			lease, batch := w.Lease()
			assert.Equal(t, tt.wantLease, lease)
			assert.Equal(t, tt.wantBatch, batch)
			assert.LessOrEqual(t, time.Duration(batch)*perJob, lease)

			_, err := w.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantBatch, outbox.limit)
			assert.Equal(t, tt.wantLease, outbox.lease)
		})
	}
}

func TestWorkerBoundsBlockedDelivery(t *testing.T) {
	ctx := context.Background()
	hung := &fakeChannel{kind: notify.ChannelEmail, block: make(chan struct{})}
	store := memstore.New()
	d := notify.NewDispatcher(staticResolver{recipient: recipient}, []notify.Channel{hung},
		notify.WithMaxAttempts(2),
		notify.WithSendTimeout(20*time.Millisecond),
		notify.WithRetryInterval(time.Millisecond, 2*time.Millisecond),
		notify.WithSendRate(rate.Inf, 1),
	)
	w := notify.NewWorker(store, d, notify.WithMaxRounds(5))

	job := testJob(notify.ChannelEmail)
	job.NotBefore = time.Now().Add(-time.Second)
	require.NoError(t, store.Enqueue(ctx, job))

	start := time.Now()
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(2), hung.calls.Load())

	pending, err := store.PendingJobs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "a timed out send is retried in a later round")
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestExponentialRoundDelay(t *testing.T) {
	delay := notify.ExponentialRoundDelay(30*time.Second, 5*time.Minute)
	tests := []struct {
		round int
		want  time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{50, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, delay(tt.round), "round %d", tt.round)
	}
}
