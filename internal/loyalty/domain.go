// internal/loyalty/domain.go
package loyalty

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid reward state")
	ErrTransientIO  = errors.New("transient i/o failure")
	ErrForbidden    = errors.New("actor is not the business owner")
	ErrInvalidScan  = errors.New("invalid scan")

	// ErrConflict is returned by stores when a concurrent writer won a
	// per-customer race. The unit of work is safe to retry.
	ErrConflict = errors.New("concurrency conflict")

	// ErrRewardExists is returned by InsertReward when the sequence is taken.
	ErrRewardExists = errors.New("reward sequence already issued")
)

// CustomerKey scopes all accrual state.
type CustomerKey struct {
	BusinessID uuid.UUID
	CustomerID uuid.UUID
}

func (k CustomerKey) String() string {
	return k.BusinessID.String() + "/" + k.CustomerID.String()
}

// PurchaseEvent is an immutable, append-only purchase fact.
type PurchaseEvent struct {
	ID              uuid.UUID `json:"id" db:"id"`
	BusinessID      uuid.UUID `json:"businessId" db:"business_id"`
	CustomerID      uuid.UUID `json:"customerId" db:"customer_id"`
	Seq             int       `json:"seq" db:"seq"`
	TokenHash       string    `json:"-" db:"token_hash"`
	ClientTimestamp time.Time `json:"clientTimestamp" db:"client_timestamp"`
	AcceptedAt      time.Time `json:"acceptedAt" db:"accepted_at"`
}

// RewardState is the closed set of reward lifecycle states.
type RewardState string

const (
	// RewardPending is reserved; the engine creates rewards already earned.
	RewardPending  RewardState = "pending"
	RewardEarned   RewardState = "earned"
	RewardRedeemed RewardState = "redeemed"
)

// ParseRewardState validates a state name coming from the outside.
func ParseRewardState(s string) (RewardState, error) {
	switch st := RewardState(s); st {
	case RewardPending, RewardEarned, RewardRedeemed:
		return st, nil
	}
	return "", fmt.Errorf("unknown reward state %q", s)
}

// Terminal reports whether no transition leaves the state.
func (s RewardState) Terminal() bool {
	return s == RewardRedeemed
}

// Reward is issued once per threshold multiple per customer.
type Reward struct {
	ID         uuid.UUID   `json:"rewardId" db:"id"`
	BusinessID uuid.UUID   `json:"businessId" db:"business_id"`
	CustomerID uuid.UUID   `json:"customerId" db:"customer_id"`
	Sequence   int         `json:"sequence" db:"sequence"`
	State      RewardState `json:"state" db:"state"`
	EarnedAt   time.Time   `json:"earnedAt" db:"earned_at"`
	RedeemedAt *time.Time  `json:"redeemedAt,omitempty" db:"redeemed_at"`
}

// Redeem is the only transition of the reward state machine.
func (r Reward) Redeem(at time.Time) (Reward, error) {
	if r.State != RewardEarned {
		return r, fmt.Errorf("%w: reward %s is %s", ErrInvalidState, r.ID, r.State)
	}
	redeemedAt := at
	r.State = RewardRedeemed
	r.RedeemedAt = &redeemedAt
	return r, nil
}

// Summary projects a reward for status responses.
func (r Reward) Summary() RewardSummary {
	return RewardSummary{RewardID: r.ID, Sequence: r.Sequence, State: r.State, EarnedAt: r.EarnedAt}
}

// RewardSummary is the panel's view of an unredeemed reward.
type RewardSummary struct {
	RewardID uuid.UUID   `json:"rewardId"`
	Sequence int         `json:"sequence"`
	State    RewardState `json:"state"`
	EarnedAt time.Time   `json:"earnedAt"`
}

// DedupEntry remembers an accepted scan token and the result it produced.
type DedupEntry struct {
	BusinessID uuid.UUID `db:"business_id"`
	CustomerID uuid.UUID `db:"customer_id"`
	TokenHash  string    `db:"token_hash"`
	TotalCount int       `db:"total_count"`
	Progress   int       `db:"progress"`
	Threshold  int       `db:"threshold"`
	CreatedAt  time.Time `db:"created_at"`
}

// ScanRequest is a purchase scan submitted at checkout.
type ScanRequest struct {
	BusinessID      uuid.UUID `json:"businessId"`
	CustomerEmail   string    `json:"customerEmail"`
	ScanToken       string    `json:"scanToken"`
	ClientTimestamp time.Time `json:"clientTimestamp,omitempty"`
}

// EarnedReward identifies a reward unlocked by this scan.
type EarnedReward struct {
	RewardID uuid.UUID `json:"rewardId"`
	Sequence int       `json:"sequence"`
}

// AccrualResult is returned for every accepted or duplicate scan.
type AccrualResult struct {
	Accepted             bool          `json:"accepted"`
	Duplicate            bool          `json:"duplicate"`
	TotalCount           int           `json:"totalCount"`
	ProgressToNextReward int           `json:"progressToNextReward"`
	Threshold            int           `json:"threshold"`
	RewardEarned         *EarnedReward `json:"rewardEarned"`
}

// RedemptionResult is returned by a successful redemption.
type RedemptionResult struct {
	Redeemed bool   `json:"redeemed"`
	Reward   Reward `json:"reward"`
}

// CustomerStatus is the panel's view of one customer's card.
type CustomerStatus struct {
	BusinessID           uuid.UUID       `json:"businessId"`
	CustomerID           uuid.UUID       `json:"customerId"`
	TotalCount           int             `json:"totalCount"`
	ProgressToNextReward int             `json:"progressToNextReward"`
	Threshold            int             `json:"threshold"`
	PendingRewards       []RewardSummary `json:"pendingRewards"`
	RedeemedCount        int             `json:"redeemedCount"`
}
