// internal/loyalty/implementation.go
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/observability/logging"
	"loyalnexus/internal/observability/metrics"
	"loyalnexus/internal/registry"
)

// DefaultAccrualRetries bounds how often a unit that lost a per-customer race is replayed.
const DefaultAccrualRetries = 5

// Option customises the loyalty service.
type Option func(*service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKicker wakes the notification worker after commits that enqueued a job.
func WithKicker(k Kicker) Option {
	return func(s *service) {
		if k != nil {
			s.kicker = k
		}
	}
}

func WithDedupRetention(d time.Duration) Option {
	return func(s *service) {
		s.retention = d
	}
}

func WithAccrualRetries(n int) Option {
	return func(s *service) {
		if n > 0 {
			s.accrualRetries = n
		}
	}
}

// service implements the Service interface.
type service struct {
	store          Store
	directory      Directory
	guard          *Guard
	ledger         *Ledger
	rewards        *RewardEngine
	kicker         Kicker
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *metrics.LoyaltyMetrics
	now            func() time.Time
	retention      time.Duration
	accrualRetries int
}

// NewService creates a new loyalty service instance.
func NewService(store Store, directory Directory, opts ...Option) Service {
	s := &service{
		store:          store,
		directory:      directory,
		kicker:         nopKicker{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("loyalnexus/loyalty"),
		metrics:        metrics.Loyalty(),
		now:            time.Now,
		retention:      DefaultDedupRetention,
		accrualRetries: DefaultAccrualRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.guard = NewGuard(store, s.retention, s.logger)
	s.guard.now = s.now
	s.ledger = NewLedger(store)
	s.rewards = NewRewardEngine(store, directory)
	return s
}

// SubmitScan credits one purchase to the customer unless the token was already seen.
func (s *service) SubmitScan(ctx context.Context, req ScanRequest) (*AccrualResult, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.SubmitScan", trace.WithAttributes(
		attribute.String("business.id", req.BusinessID.String()),
	))
	defer span.End()

	result, err := s.submitScan(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveScan(outcomeOf(err))
		return nil, err
	}

	outcome := "accepted"
	if result.Duplicate {
		outcome = "duplicate"
	}
	s.metrics.ObserveScan(outcome)
	span.SetAttributes(
		attribute.Bool("scan.duplicate", result.Duplicate),
		attribute.Int("scan.total", result.TotalCount),
	)
	return result, nil
}

func (s *service) submitScan(ctx context.Context, req ScanRequest) (*AccrualResult, error) {
	token := strings.TrimSpace(req.ScanToken)
	switch {
	case req.BusinessID == uuid.Nil:
		return nil, fmt.Errorf("%w: businessId is required", ErrInvalidScan)
	case strings.TrimSpace(req.CustomerEmail) == "":
		return nil, fmt.Errorf("%w: customerEmail is required", ErrInvalidScan)
	case token == "":
		return nil, fmt.Errorf("%w: scanToken is required", ErrInvalidScan)
	}

	business, err := s.directory.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return nil, directoryError("business", err)
	}
	customer, err := s.directory.GetCustomerByEmail(ctx, business.ID, req.CustomerEmail)
	if err != nil {
		if errors.Is(err, registry.ErrCustomerNotFound) {
			s.logger.InfoContext(ctx, "scan for unenrolled customer",
				slog.String("business_id", business.ID.String()),
				slog.String("customer_email", logging.MaskEmail(req.CustomerEmail)))
		}
		return nil, directoryError("customer", err)
	}

	key := CustomerKey{BusinessID: business.ID, CustomerID: customer.ID}
	threshold := thresholdOf(business)

	var earned *Reward
	operation := func() (*AccrualResult, error) {
		now := s.now().UTC()
		clientTS := req.ClientTimestamp
		if clientTS.IsZero() {
			clientTS = now
		}

		var result AccrualResult
		earned = nil
		err := s.store.Accrue(ctx, key, func(ctx context.Context, tx AccrualTx) error {
			decision, entry, err := s.guard.TryAccept(ctx, tx, key, token, now)
			if err != nil {
				return err
			}
			if decision == Duplicate {
				result = s.guard.Replay(entry)
				return nil
			}

			total, err := s.ledger.Append(ctx, tx, PurchaseEvent{
				ID:              uuid.New(),
				BusinessID:      key.BusinessID,
				CustomerID:      key.CustomerID,
				TokenHash:       entry.TokenHash,
				ClientTimestamp: clientTS.UTC(),
				AcceptedAt:      now,
			})
			if err != nil {
				return err
			}

			outcome, err := s.rewards.Evaluate(ctx, tx, business, customer, total, now)
			if err != nil {
				return err
			}

			result = AccrualResult{
				Accepted:             true,
				TotalCount:           total,
				ProgressToNextReward: Progress(total, threshold, outcome.RewardsIssued),
				Threshold:            threshold,
			}
			if outcome.Earned {
				earned = outcome.Reward
				result.RewardEarned = &EarnedReward{RewardID: outcome.Reward.ID, Sequence: outcome.Reward.Sequence}
			}
			return s.guard.Record(ctx, tx, entry, result)
		})
		if err != nil {
			if errors.Is(err, ErrConflict) {
				s.metrics.ObserveAccrualRetry()
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return &result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(conflictBackOff()),
		backoff.WithMaxTries(uint(s.accrualRetries)),
	)
	if err != nil {
		return nil, s.storeError("accrue scan", err)
	}

	if earned != nil {
		s.metrics.ObserveRewardEarned()
		s.logger.InfoContext(ctx, "reward earned",
			slog.String("business_id", key.BusinessID.String()),
			slog.String("customer_id", key.CustomerID.String()),
			slog.String("reward_id", earned.ID.String()),
			slog.Int("sequence", earned.Sequence))
		if len(business.Notifications) > 0 {
			s.kicker.Kick()
		}
	}
	return result, nil
}

// Redeem transitions an earned reward to redeemed. Only the owner may do this.
func (s *service) Redeem(ctx context.Context, businessID, rewardID, actorOwnerID uuid.UUID) (*RedemptionResult, error) {
	ctx, span := s.tracer.Start(ctx, "loyalty.Redeem", trace.WithAttributes(
		attribute.String("business.id", businessID.String()),
		attribute.String("reward.id", rewardID.String()),
	))
	defer span.End()

	business, err := s.directory.GetBusiness(ctx, businessID)
	if err != nil {
		err = directoryError("business", err)
		span.RecordError(err)
		s.metrics.ObserveRedemption(outcomeOf(err))
		return nil, err
	}

	reward, err := s.rewards.Redeem(ctx, business, rewardID, actorOwnerID, s.now().UTC())
	if err != nil {
		err = s.storeError("redeem reward", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveRedemption(outcomeOf(err))
		return nil, err
	}

	s.metrics.ObserveRedemption("redeemed")
	s.logger.InfoContext(ctx, "reward redeemed",
		slog.String("business_id", businessID.String()),
		slog.String("reward_id", rewardID.String()),
		slog.Int("sequence", reward.Sequence))
	if len(business.Notifications) > 0 {
		s.kicker.Kick()
	}
	return &RedemptionResult{Redeemed: true, Reward: *reward}, nil
}

// CustomerStatus recomputes the customer's card from stored events and rewards.
func (s *service) CustomerStatus(ctx context.Context, businessID, customerID uuid.UUID) (*CustomerStatus, error) {
	business, err := s.directory.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, directoryError("business", err)
	}
	if _, err := s.directory.GetCustomer(ctx, businessID, customerID); err != nil {
		return nil, directoryError("customer", err)
	}

	key := CustomerKey{BusinessID: businessID, CustomerID: customerID}
	total, err := s.ledger.Total(ctx, key)
	if err != nil {
		return nil, s.storeError("customer status", err)
	}
	rewards, err := s.store.CustomerRewards(ctx, key)
	if err != nil {
		return nil, s.storeError("customer status", err)
	}

	threshold := thresholdOf(business)
	status := &CustomerStatus{
		BusinessID:           businessID,
		CustomerID:           customerID,
		TotalCount:           total,
		ProgressToNextReward: Progress(total, threshold, len(rewards)),
		Threshold:            threshold,
		PendingRewards:       []RewardSummary{},
	}
	for _, r := range rewards {
		switch r.State {
		case RewardEarned:
			status.PendingRewards = append(status.PendingRewards, r.Summary())
		case RewardRedeemed:
			status.RedeemedCount++
		}
	}
	return status, nil
}

// ListRewards returns the business's rewards, optionally filtered by state.
func (s *service) ListRewards(ctx context.Context, businessID uuid.UUID, state RewardState) ([]Reward, error) {
	if _, err := s.directory.GetBusiness(ctx, businessID); err != nil {
		return nil, directoryError("business", err)
	}
	rewards, err := s.store.BusinessRewards(ctx, businessID, state)
	if err != nil {
		return nil, s.storeError("list rewards", err)
	}
	return rewards, nil
}

// ListAlerts returns delivery failures raised for the business owner.
func (s *service) ListAlerts(ctx context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]notify.Alert, error) {
	alerts, err := s.store.ListAlerts(ctx, businessID, includeAcknowledged)
	if err != nil {
		return nil, s.storeError("list alerts", err)
	}
	return alerts, nil
}

func (s *service) AcknowledgeAlert(ctx context.Context, businessID, alertID uuid.UUID) error {
	err := s.store.AcknowledgeAlert(ctx, businessID, alertID, s.now().UTC())
	if errors.Is(err, notify.ErrAlertNotFound) {
		return fmt.Errorf("%w: alert %s", ErrNotFound, alertID)
	}
	if err != nil {
		return s.storeError("acknowledge alert", err)
	}
	return nil
}

// storeError passes definitive outcomes through and marks the rest as
// transient: the caller may resubmit with the same token.
func (s *service) storeError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidScan),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.logger.Error("store operation failed", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}

func directoryError(what string, err error) error {
	if errors.Is(err, registry.ErrBusinessNotFound) || errors.Is(err, registry.ErrCustomerNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: lookup %s: %w", ErrTransientIO, what, err)
}

func conflictBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidScan):
		return "invalid"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrTransientIO):
		return "transient"
	}
	return "error"
}

// directoryResolver lets the notification worker address a business.
type directoryResolver struct {
	directory Directory
}

// NewResolver adapts a Directory to the worker's recipient lookup.
func NewResolver(directory Directory) notify.Resolver {
	return directoryResolver{directory: directory}
}

func (r directoryResolver) Resolve(ctx context.Context, businessID uuid.UUID) (*notify.Recipient, error) {
	business, err := r.directory.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	return &notify.Recipient{BusinessName: business.Name, Destinations: business.Notifications}, nil
}
