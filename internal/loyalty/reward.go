// internal/loyalty/reward.go
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
)

// RewardOutcome reports whether an evaluation issued a reward.
type RewardOutcome struct {
	Earned        bool
	Reward        *Reward
	RewardsIssued int
}

// RewardEngine decides when a reward is earned and drives its lifecycle.
type RewardEngine struct {
	store     Store
	directory Directory
}

func NewRewardEngine(store Store, directory Directory) *RewardEngine {
	return &RewardEngine{store: store, directory: directory}
}

// Evaluate issues exactly one earned reward when total lands on a threshold
// multiple, and enqueues the owner alert in the same unit of work.
func (e *RewardEngine) Evaluate(ctx context.Context, tx AccrualTx, business *registry.Business, customer *registry.Customer, total int, now time.Time) (RewardOutcome, error) {
	threshold := thresholdOf(business)

	issued, err := tx.CountRewards(ctx)
	if err != nil {
		return RewardOutcome{}, fmt.Errorf("count rewards: %w", err)
	}
	if total == 0 || total%threshold != 0 {
		return RewardOutcome{RewardsIssued: issued}, nil
	}

	reward := Reward{
		ID:         uuid.New(),
		BusinessID: business.ID,
		CustomerID: customer.ID,
		Sequence:   total / threshold,
		State:      RewardEarned,
		EarnedAt:   now,
	}
	if err := tx.InsertReward(ctx, reward); err != nil {
		if errors.Is(err, ErrRewardExists) {
			return RewardOutcome{RewardsIssued: issued}, nil
		}
		return RewardOutcome{}, fmt.Errorf("insert reward: %w", err)
	}

	if channels := notify.ChannelsOf(business.Notifications); len(channels) > 0 {
		job := notify.NewJob(notify.JobRewardEarned, business.ID, customer.ID, reward.ID, customer.Email, reward.Sequence, channels, now)
		if err := tx.Enqueue(ctx, job); err != nil {
			return RewardOutcome{}, fmt.Errorf("enqueue reward notification: %w", err)
		}
	}

	return RewardOutcome{Earned: true, Reward: &reward, RewardsIssued: issued + 1}, nil
}

// Redeem moves an earned reward to redeemed on behalf of the business owner.
func (e *RewardEngine) Redeem(ctx context.Context, business *registry.Business, rewardID, actorOwnerID uuid.UUID, now time.Time) (*Reward, error) {
	owner, err := e.directory.IsOwner(ctx, business.ID, actorOwnerID)
	if err != nil {
		return nil, fmt.Errorf("check owner: %w", err)
	}
	if !owner {
		return nil, ErrForbidden
	}

	reward, err := e.store.GetReward(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if reward.BusinessID != business.ID {
		return nil, fmt.Errorf("%w: reward %s does not belong to business %s", ErrInvalidState, rewardID, business.ID)
	}

	redeemed, err := reward.Redeem(now)
	if err != nil {
		return nil, err
	}

	var job *notify.Job
	if channels := notify.ChannelsOf(business.Notifications); len(channels) > 0 {
		j := notify.NewJob(notify.JobRewardRedeemed, business.ID, reward.CustomerID, reward.ID, e.customerEmail(ctx, business.ID, reward.CustomerID), reward.Sequence, channels, now)
		job = &j
	}

	if err := e.store.RedeemReward(ctx, redeemed, job); err != nil {
		return nil, err
	}
	return &redeemed, nil
}

// customerEmail is best effort; the alert still goes out without it.
func (e *RewardEngine) customerEmail(ctx context.Context, businessID, customerID uuid.UUID) string {
	customer, err := e.directory.GetCustomer(ctx, businessID, customerID)
	if err != nil {
		return customerID.String()
	}
	return customer.Email
}

func thresholdOf(b *registry.Business) int {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return registry.DefaultThreshold
}
