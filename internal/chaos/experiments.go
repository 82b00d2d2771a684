package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"loyalnexus/internal/loyalty"
)

// Customer is a freshly enrolled customer an experiment may load.
type Customer struct {
	ID    uuid.UUID
	Email string
}

// Target is the system under test.
type Target struct {
	Service    loyalty.Service
	DB         *sqlx.DB
	BusinessID uuid.UUID
	OwnerID    uuid.UUID
	Threshold  int
	// Enroll creates a new customer of BusinessID.
	Enroll func(ctx context.Context) (Customer, error)
}

// Settings size the experiments.
type Settings struct {
	Concurrency     int
	Duration        time.Duration
	RequestTimeout  time.Duration
	HoldConnections int
	Hold            time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Concurrency <= 0 {
		s.Concurrency = 50
	}
	if s.Duration <= 0 {
		s.Duration = 10 * time.Second
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 5 * time.Second
	}
	if s.HoldConnections <= 0 {
		s.HoldConnections = 20
	}
	if s.Hold <= 0 {
		s.Hold = 5 * time.Second
	}
	return s
}

// RegisterExperiments registers the loyalty game-day experiments.
func (e *Engine) RegisterExperiments(t *Target, s Settings) {
	s = s.withDefaults()
	inv := NewInvariants(t.DB)
	e.RegisterExperiment(DuplicateScanStorm(t, inv, s))
	e.RegisterExperiment(ThresholdRace(t, inv, s))
	e.RegisterExperiment(RedeemRace(t, inv, s))
	e.RegisterExperiment(ConnectionPoolExhaustion(t, inv, s))
}

func (t *Target) scan(ctx context.Context, timeout time.Duration, c Customer, token string) (*loyalty.AccrualResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Service.SubmitScan(ctx, loyalty.ScanRequest{
		BusinessID:    t.BusinessID,
		CustomerEmail: c.Email,
		ScanToken:     token,
	})
}

func (t *Target) rewardsIssued(ctx context.Context, c Customer) (float64, error) {
	status, err := t.Service.CustomerStatus(ctx, t.BusinessID, c.ID)
	if err != nil {
		return 0, err
	}
	return float64(len(status.PendingRewards) + status.RedeemedCount), nil
}

// fanOut runs fn n times concurrently and returns the errors it produced.
func fanOut(n int, fn func(i int) error) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errs
}

// DuplicateScanStorm replays one token from many clients at once.
func DuplicateScanStorm(t *Target, inv *Invariants, s Settings) Experiment {
	var customer Customer

	return Experiment{
		Name:       "duplicate-scan-storm",
		Hypothesis: "A scan token retried concurrently credits exactly one purchase",
		SteadyState: append(inv.Metrics(), Metric{
			Name: "storm_total",
			Query: func(ctx context.Context) (float64, error) {
				if customer.ID == uuid.Nil {
					return 0, nil
				}
				status, err := t.Service.CustomerStatus(ctx, t.BusinessID, customer.ID)
				if err != nil {
					return 0, err
				}
				return float64(status.TotalCount), nil
			},
			Threshold: Threshold{Operator: "<=", Value: 1},
		}),
		Method: []Action{{
			Type:       "load",
			Target:     "loyalty-scan",
			Parameters: map[string]any{"concurrency": s.Concurrency, "tokens": 1},
			Execute: func(ctx context.Context) error {
				var err error
				if customer, err = t.Enroll(ctx); err != nil {
					return fmt.Errorf("enroll customer: %w", err)
				}
				token := uuid.NewString()
				errs := fanOut(s.Concurrency, func(int) error {
					_, err := t.scan(ctx, s.RequestTimeout, customer, token)
					return err
				})
				return errors.Join(errs...)
			},
		}},
		Validation: append(inv.Assertions(), Assertion{
			Metric:    "storm_total",
			Condition: func(v float64) bool { return v == 1 },
			Message:   "The storm must credit exactly one purchase",
		}),
		Duration:    s.Duration,
		BlastRadius: 0.1,
	}
}

// ThresholdRace pushes a customer one short of the threshold, then sends
// many distinct scans at once.
func ThresholdRace(t *Target, inv *Invariants, s Settings) Experiment {
	var customer Customer
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = 10
	}
	want := float64((threshold - 1 + s.Concurrency) / threshold)

	return Experiment{
		Name:       "threshold-crossing-race",
		Hypothesis: "Concurrent scans crossing a threshold issue exactly one reward per multiple",
		SteadyState: append(inv.Metrics(), Metric{
			Name: "rewards_issued",
			Query: func(ctx context.Context) (float64, error) {
				if customer.ID == uuid.Nil {
					return 0, nil
				}
				return t.rewardsIssued(ctx, customer)
			},
			Threshold: Threshold{Operator: "<=", Value: want},
		}),
		Method: []Action{{
			Type:       "load",
			Target:     "loyalty-scan",
			Parameters: map[string]any{"concurrency": s.Concurrency, "threshold": threshold},
			Execute: func(ctx context.Context) error {
				var err error
				if customer, err = t.Enroll(ctx); err != nil {
					return fmt.Errorf("enroll customer: %w", err)
				}
				for i := 0; i < threshold-1; i++ {
					if _, err := t.scan(ctx, s.RequestTimeout, customer, uuid.NewString()); err != nil {
						return fmt.Errorf("warm up scan: %w", err)
					}
				}
				errs := fanOut(s.Concurrency, func(int) error {
					_, err := t.scan(ctx, s.RequestTimeout, customer, uuid.NewString())
					return err
				})
				return errors.Join(errs...)
			},
		}},
		Validation: append(inv.Assertions(), Assertion{
			Metric:    "rewards_issued",
			Condition: func(v float64) bool { return v == want },
			Message:   fmt.Sprintf("Exactly %.0f reward(s) must be issued", want),
		}),
		Duration:    s.Duration,
		BlastRadius: 0.1,
	}
}

// RedeemRace has many owners' sessions redeem the same reward at once.
func RedeemRace(t *Target, inv *Invariants, s Settings) Experiment {
	var winners atomic.Int64

	return Experiment{
		Name:       "concurrent-redemption",
		Hypothesis: "A reward redeemed concurrently is redeemed exactly once",
		SteadyState: append(inv.Metrics(), Metric{
			Name:      "redeem_winners",
			Query:     func(context.Context) (float64, error) { return float64(winners.Load()), nil },
			Threshold: Threshold{Operator: "<=", Value: 1},
		}),
		Method: []Action{{
			Type:       "load",
			Target:     "loyalty-redeem",
			Parameters: map[string]any{"concurrency": s.Concurrency},
			Execute: func(ctx context.Context) error {
				winners.Store(0)
				customer, err := t.Enroll(ctx)
				if err != nil {
					return fmt.Errorf("enroll customer: %w", err)
				}
				var reward *loyalty.EarnedReward
				for reward == nil {
					res, err := t.scan(ctx, s.RequestTimeout, customer, uuid.NewString())
					if err != nil {
						return fmt.Errorf("earn reward: %w", err)
					}
					reward = res.RewardEarned
				}
				errs := fanOut(s.Concurrency, func(int) error {
					_, err := t.Service.Redeem(ctx, t.BusinessID, reward.RewardID, t.OwnerID)
					switch {
					case err == nil:
						winners.Add(1)
						return nil
					case errors.Is(err, loyalty.ErrInvalidState):
						return nil
					}
					return err
				})
				return errors.Join(errs...)
			},
		}},
		Validation: append(inv.Assertions(), Assertion{
			Metric:    "redeem_winners",
			Condition: func(v float64) bool { return v == 1 },
			Message:   "Exactly one redemption may succeed",
		}),
		Duration:    s.Duration,
		BlastRadius: 0.1,
	}
}

// ConnectionPoolExhaustion holds database connections while scans keep
// arriving, then checks the engine recovers with its invariants intact.
func ConnectionPoolExhaustion(t *Target, inv *Invariants, s Settings) Experiment {
	var customer Customer

	return Experiment{
		Name:       "database-connection-pool-exhaustion",
		Hypothesis: "Scans rejected while the database is starved leave no partial state behind",
		SteadyState: append(inv.Metrics(), Metric{
			Name: "recovery_scan",
			Query: func(ctx context.Context) (float64, error) {
				if customer.ID == uuid.Nil {
					return 1, nil
				}
				res, err := t.scan(ctx, s.RequestTimeout, customer, uuid.NewString())
				if err != nil || !res.Accepted {
					return 0, nil
				}
				return 1, nil
			},
			Threshold: Threshold{Operator: "==", Value: 1},
		}),
		Method: []Action{{
			Type:       "exhaustion",
			Target:     "database-connection-pool",
			Parameters: map[string]any{"connections": s.HoldConnections, "hold": s.Hold},
			Execute: func(ctx context.Context) error {
				var err error
				if customer, err = t.Enroll(ctx); err != nil {
					return fmt.Errorf("enroll customer: %w", err)
				}

				holdCtx, cancel := context.WithTimeout(ctx, s.Hold)
				defer cancel()
				n := s.HoldConnections
				if limit := t.DB.Stats().MaxOpenConnections; limit > 0 && n > limit {
					n = limit
				}
				var conns []*sqlx.Conn
				for i := 0; i < n; i++ {
					conn, err := t.DB.Connx(holdCtx)
					if err != nil {
						break
					}
					conns = append(conns, conn)
				}

				// Requests during the outage may fail; only consistency matters.
				fanOut(s.Concurrency, func(int) error {
					_, err := t.scan(ctx, s.Hold/2, customer, uuid.NewString())
					return err
				})

				<-holdCtx.Done()
				for _, conn := range conns {
					conn.Close()
				}
				return nil
			},
		}},
		Validation: append(inv.Assertions(), Assertion{
			Metric:    "recovery_scan",
			Condition: func(v float64) bool { return v == 1 },
			Message:   "Scans must succeed again once connections are released",
		}),
		Duration:    s.Duration,
		BlastRadius: 1.0,
	}
}
