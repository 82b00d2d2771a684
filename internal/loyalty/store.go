// internal/loyalty/store.go
package loyalty

import (
	"context"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
)

// Directory is the read-only view of the registration collaborator.
type Directory interface {
	GetBusiness(ctx context.Context, id uuid.UUID) (*registry.Business, error)
	IsOwner(ctx context.Context, businessID, actorID uuid.UUID) (bool, error)
	GetCustomer(ctx context.Context, businessID, customerID uuid.UUID) (*registry.Customer, error)
	GetCustomerByEmail(ctx context.Context, businessID uuid.UUID, email string) (*registry.Customer, error)
}

// AccrualTx is one customer's unit of work. Every effect staged through it
// commits together or not at all.
type AccrualTx interface {
	// ClaimToken records the token as seen. It reports false together with
	// the stored entry when the token was already claimed.
	ClaimToken(ctx context.Context, entry DedupEntry) (bool, *DedupEntry, error)
	// RecordResult stores the accrual result against a claimed token.
	RecordResult(ctx context.Context, entry DedupEntry) error
	// AppendEvent assigns the next per-customer Seq and returns the new total.
	AppendEvent(ctx context.Context, event PurchaseEvent) (int, error)
	CountRewards(ctx context.Context) (int, error)
	// InsertReward fails with ErrRewardExists when the sequence is taken.
	InsertReward(ctx context.Context, reward Reward) error
	Enqueue(ctx context.Context, job notify.Job) error
}

// Store is the durable state behind the engine: ledger, rewards, dedup
// entries and the notification outbox.
type Store interface {
	notify.AlertStore

	// Accrue runs fn as a single unit serialized per customer. Stores return
	// ErrConflict when a concurrent unit for the same customer won.
	Accrue(ctx context.Context, key CustomerKey, fn func(ctx context.Context, tx AccrualTx) error) error
	CountEvents(ctx context.Context, key CustomerKey) (int, error)
	CustomerRewards(ctx context.Context, key CustomerKey) ([]Reward, error)
	GetReward(ctx context.Context, id uuid.UUID) (*Reward, error)
	BusinessRewards(ctx context.Context, businessID uuid.UUID, state RewardState) ([]Reward, error)
	// RedeemReward persists a redeemed reward if its stored state is still
	// earned, enqueuing job in the same write. It returns ErrInvalidState
	// when another redemption got there first.
	RedeemReward(ctx context.Context, reward Reward, job *notify.Job) error
	PruneDedup(ctx context.Context, before time.Time) (int, error)
}

// Kicker wakes the notification worker.
type Kicker interface {
	Kick()
}

type nopKicker struct{}

func (nopKicker) Kick() {}
