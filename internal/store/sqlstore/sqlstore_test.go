package sqlstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
	"loyalnexus/internal/store/sqlstore"
)

func openSQLite(t testing.TB) *sqlstore.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "loyalnexus.db")
	s, err := sqlstore.Open(context.Background(), sqlstore.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// openPostgres connects with the usual PG* variables and skips when no
// server is reachable.
func openPostgres(t testing.TB) *sqlstore.Store {
	t.Helper()

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		env("PGHOST", "localhost"), env("PGPORT", "5432"), env("PGUSER", "user"),
		env("PGPASSWORD", "password"), env("PGDATABASE", "testdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s, err := sqlstore.Open(ctx, sqlstore.DriverPostgres, dsn)
	if err != nil {
		t.Skipf("skipping postgres tests: %v", err)
	}
	_, err = s.DB().Exec(`TRUNCATE notification_jobs, delivery_alerts, dedup_entries`)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func eachBackend(t *testing.T, fn func(t *testing.T, s *sqlstore.Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, openPostgres(t)) })
}

type env struct {
	store    *sqlstore.Store
	svc      loyalty.Service
	business *registry.Business
	customer *registry.Customer
}

func newEnv(t *testing.T, s *sqlstore.Store, threshold int, dests ...notify.Destination) *env {
	t.Helper()
	ctx := context.Background()
	reg := registry.NewService(s, registry.WithRateLimit(rate.Inf, 1))

	business, err := reg.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name:          "Bakery",
		Email:         fmt.Sprintf("owner-%s@example.com", uuid.NewString()[:8]),
		Password:      "secret-pass",
		Threshold:     threshold,
		Notifications: dests,
	})
	require.NoError(t, err)
	customer, err := reg.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{
		Name:  "Grace",
		Email: "grace@example.com",
	})
	require.NoError(t, err)

	return &env{
		store:    s,
		svc:      loyalty.NewService(s, reg),
		business: business,
		customer: customer,
	}
}

func (e *env) scan(t *testing.T, token string) *loyalty.AccrualResult {
	t.Helper()
	res, err := e.svc.SubmitScan(context.Background(), loyalty.ScanRequest{
		BusinessID:    e.business.ID,
		CustomerEmail: e.customer.Email,
		ScanToken:     token,
	})
	require.NoError(t, err)
	return res
}

func TestRegistryRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		ctx := context.Background()
		dests := []notify.Destination{{Channel: notify.ChannelTelegram, Address: "4242"}}
		e := newEnv(t, s, 3, dests...)

		b, err := s.GetBusiness(ctx, e.business.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, b.Threshold)
		assert.Equal(t, dests, b.Notifications)
		assert.Equal(t, e.business.OwnerID, b.OwnerID)

		_, cred, err := s.GetBusinessByEmail(ctx, e.business.Email)
		require.NoError(t, err)
		assert.NotEmpty(t, cred.PasswordHash)

		c, err := s.GetCustomerByEmail(ctx, e.business.ID, "grace@example.com")
		require.NoError(t, err)
		assert.Equal(t, e.customer.ID, c.ID)

		_, err = s.GetCustomer(ctx, uuid.New(), e.customer.ID)
		assert.ErrorIs(t, err, registry.ErrCustomerNotFound)
		_, err = s.GetBusiness(ctx, uuid.New())
		assert.ErrorIs(t, err, registry.ErrBusinessNotFound)

		dup := &registry.Customer{ID: uuid.New(), BusinessID: e.business.ID, Email: "grace@example.com", CreatedAt: time.Now()}
		assert.ErrorIs(t, s.CreateCustomer(ctx, dup), registry.ErrEmailTaken)

		require.NoError(t, s.UpdateNotifications(ctx, e.business.ID, nil))
		b, err = s.GetBusiness(ctx, e.business.ID)
		require.NoError(t, err)
		assert.Empty(t, b.Notifications)
	})
}

func TestAccrualAndRewards(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		e := newEnv(t, s, 3, notify.Destination{Channel: notify.ChannelEmail, Address: "owner@example.com"})

		e.scan(t, "t1")
		e.scan(t, "t2")
		third := e.scan(t, "t3")
		require.NotNil(t, third.RewardEarned)
		assert.Equal(t, 1, third.RewardEarned.Sequence)
		assert.Equal(t, 3, third.TotalCount)
		assert.Zero(t, third.ProgressToNextReward)

		replay := e.scan(t, "t3")
		assert.True(t, replay.Duplicate)
		assert.False(t, replay.Accepted)
		assert.Equal(t, 3, replay.TotalCount)
		assert.Nil(t, replay.RewardEarned)

		key := loyalty.CustomerKey{BusinessID: e.business.ID, CustomerID: e.customer.ID}
		events, err := s.Events(context.Background(), key)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, ev := range events {
			assert.Equal(t, i+1, ev.Seq)
		}

		jobs, err := s.PendingJobs(context.Background())
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, notify.JobRewardEarned, jobs[0].Kind)
		assert.Equal(t, []notify.ChannelKind{notify.ChannelEmail}, jobs[0].Channels)
		assert.Equal(t, third.RewardEarned.RewardID, jobs[0].RewardID)
	})
}

func TestConcurrentScansOnSameCustomer(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		e := newEnv(t, s, 5)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := e.svc.SubmitScan(context.Background(), loyalty.ScanRequest{
					BusinessID:    e.business.ID,
					CustomerEmail: e.customer.Email,
					ScanToken:     fmt.Sprintf("tok-%d", i),
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		status, err := e.svc.CustomerStatus(context.Background(), e.business.ID, e.customer.ID)
		require.NoError(t, err)
		assert.Equal(t, 10, status.TotalCount)
		assert.Len(t, status.PendingRewards, 2)
		assert.Equal(t, 1, status.PendingRewards[0].Sequence)
		assert.Equal(t, 2, status.PendingRewards[1].Sequence)
	})
}

func TestRedeemIsCompareAndSet(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		ctx := context.Background()
		e := newEnv(t, s, 1)
		earned := e.scan(t, "only")
		require.NotNil(t, earned.RewardEarned)

		reward, err := s.GetReward(ctx, earned.RewardEarned.RewardID)
		require.NoError(t, err)
		redeemed, err := reward.Redeem(time.Now())
		require.NoError(t, err)

		require.NoError(t, s.RedeemReward(ctx, redeemed, nil))
		assert.ErrorIs(t, s.RedeemReward(ctx, redeemed, nil), loyalty.ErrInvalidState)

		missing := redeemed
		missing.ID = uuid.New()
		assert.ErrorIs(t, s.RedeemReward(ctx, missing, nil), loyalty.ErrNotFound)

		stored, err := s.GetReward(ctx, reward.ID)
		require.NoError(t, err)
		assert.Equal(t, loyalty.RewardRedeemed, stored.State)
		require.NotNil(t, stored.RedeemedAt)

		earnedOnly, err := s.BusinessRewards(ctx, e.business.ID, loyalty.RewardEarned)
		require.NoError(t, err)
		assert.Empty(t, earnedOnly)
		all, err := s.BusinessRewards(ctx, e.business.ID, "")
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = s.GetReward(ctx, uuid.New())
		assert.ErrorIs(t, err, loyalty.ErrNotFound)
	})
}

func TestOutboxLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		job := notify.NewJob(notify.JobRewardEarned, uuid.New(), uuid.New(), uuid.New(), "c@example.com", 1,
			[]notify.ChannelKind{notify.ChannelEmail, notify.ChannelTelegram}, now)
		require.NoError(t, s.Enqueue(ctx, job))

		claimed, err := s.ClaimJobs(ctx, now, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, job.ID, claimed[0].ID)

		again, err := s.ClaimJobs(ctx, now, 10, time.Minute)
		require.NoError(t, err)
		assert.Empty(t, again, "leased job must stay hidden")

		require.NoError(t, s.RetryJob(ctx, job.ID, []notify.ChannelKind{notify.ChannelTelegram}, 1, now.Add(time.Second)))
		retried, err := s.ClaimJobs(ctx, now.Add(2*time.Second), 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, retried, 1)
		assert.Equal(t, []notify.ChannelKind{notify.ChannelTelegram}, retried[0].Channels)
		assert.Equal(t, 1, retried[0].Attempts)

		require.NoError(t, s.CompleteJob(ctx, job.ID, now))
		pending, err := s.PendingJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		assert.ErrorIs(t, s.FailJob(ctx, uuid.New(), "gone", now), notify.ErrJobNotFound)
	})
}

func TestAlerts(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		ctx := context.Background()
		businessID := uuid.New()
		alert := notify.Alert{
			ID:         uuid.New(),
			BusinessID: businessID,
			RewardID:   uuid.New(),
			JobID:      uuid.New(),
			Channel:    notify.ChannelTelegram,
			Reason:     "chat not found",
			Permanent:  true,
			CreatedAt:  time.Now(),
		}
		require.NoError(t, s.RecordAlert(ctx, alert))

		open, err := s.ListAlerts(ctx, businessID, false)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.True(t, open[0].Permanent)
		assert.Equal(t, notify.ChannelTelegram, open[0].Channel)

		require.NoError(t, s.AcknowledgeAlert(ctx, businessID, alert.ID, time.Now()))
		open, err = s.ListAlerts(ctx, businessID, false)
		require.NoError(t, err)
		assert.Empty(t, open)

		all, err := s.ListAlerts(ctx, businessID, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.NotNil(t, all[0].AcknowledgedAt)

		assert.ErrorIs(t, s.AcknowledgeAlert(ctx, uuid.New(), alert.ID, time.Now()), notify.ErrAlertNotFound)
	})
}

func TestPruneDedup(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *sqlstore.Store) {
		e := newEnv(t, s, 10)
		e.scan(t, "old")

		n, err := s.PruneDedup(context.Background(), time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		res := e.scan(t, "old")
		assert.True(t, res.Accepted, "pruned token is accepted again")
		assert.Equal(t, 2, res.TotalCount)
	})
}

func BenchmarkSubmitScan(b *testing.B) {
	s := openSQLite(b)
	ctx := context.Background()
	reg := registry.NewService(s, registry.WithRateLimit(rate.Inf, 1))
	business, err := reg.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name: "Bench", Email: "bench@example.com", Password: "secret-pass",
	})
	require.NoError(b, err)
	customer, err := reg.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{Email: "c@example.com"})
	require.NoError(b, err)
	svc := loyalty.NewService(s, reg)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := svc.SubmitScan(ctx, loyalty.ScanRequest{
			BusinessID:    business.ID,
			CustomerEmail: customer.Email,
			ScanToken:     fmt.Sprintf("bench-%d", i),
		})
		if err != nil {
			b.Fatalf("SubmitScan failed: %v", err)
		}
	}
}
