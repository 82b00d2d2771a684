package chaos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Invariants queries the loyalty database for states that must never
// exist. Every query counts offending customers, so healthy is zero.
type Invariants struct {
	db *sqlx.DB
}

func NewInvariants(db *sqlx.DB) *Invariants {
	return &Invariants{db: db}
}

// DuplicateCredits counts tokens credited more than once to one customer.
func (i *Invariants) DuplicateCredits(ctx context.Context) (float64, error) {
	return i.count(ctx, "duplicate credits", `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM purchase_events
			GROUP BY business_id, customer_id, token_hash
			HAVING COUNT(*) > 1
		) d`)
}

// LedgerGaps counts customers whose event sequence is not 1..n.
func (i *Invariants) LedgerGaps(ctx context.Context) (float64, error) {
	return i.count(ctx, "ledger gaps", `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM purchase_events
			GROUP BY business_id, customer_id
			HAVING MAX(seq) <> COUNT(*) OR MIN(seq) <> 1
		) g`)
}

// RewardGaps counts customers whose reward sequence is not 1..n.
func (i *Invariants) RewardGaps(ctx context.Context) (float64, error) {
	return i.count(ctx, "reward gaps", `
		SELECT COUNT(*) FROM (
			SELECT 1 FROM rewards
			GROUP BY business_id, customer_id
			HAVING MAX(sequence) <> COUNT(*) OR MIN(sequence) <> 1
		) g`)
}

// OverIssuedRewards counts customers holding more rewards than
// floor(events / threshold) allows.
func (i *Invariants) OverIssuedRewards(ctx context.Context) (float64, error) {
	return i.count(ctx, "over-issued rewards", `
		SELECT COUNT(*) FROM (
			SELECT business_id, customer_id, COUNT(*) AS issued
			FROM rewards
			GROUP BY business_id, customer_id
		) r
		JOIN businesses b ON b.id = r.business_id
		LEFT JOIN (
			SELECT business_id, customer_id, COUNT(*) AS events
			FROM purchase_events
			GROUP BY business_id, customer_id
		) e ON e.business_id = r.business_id AND e.customer_id = r.customer_id
		WHERE r.issued > COALESCE(e.events, 0) / b.threshold`)
}

func (i *Invariants) count(ctx context.Context, what, query string) (float64, error) {
	var n int
	if err := i.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("query %s: %w", what, err)
	}
	return float64(n), nil
}

// Metrics returns the invariants as steady-state metrics.
func (i *Invariants) Metrics() []Metric {
	zero := Threshold{Operator: "==", Value: 0}
	return []Metric{
		{Name: "duplicate_credits", Query: i.DuplicateCredits, Threshold: zero},
		{Name: "ledger_gaps", Query: i.LedgerGaps, Threshold: zero},
		{Name: "reward_gaps", Query: i.RewardGaps, Threshold: zero},
		{Name: "over_issued_rewards", Query: i.OverIssuedRewards, Threshold: zero},
	}
}

// Assertions requires every invariant to hold at the end of an experiment.
func (i *Invariants) Assertions() []Assertion {
	isZero := func(v float64) bool { return v == 0 }
	return []Assertion{
		{Metric: "duplicate_credits", Condition: isZero, Message: "No scan token may be credited twice"},
		{Metric: "ledger_gaps", Condition: isZero, Message: "Event sequences must stay contiguous"},
		{Metric: "reward_gaps", Condition: isZero, Message: "Reward sequences must stay contiguous"},
		{Metric: "over_issued_rewards", Condition: isZero, Message: "Rewards may not exceed purchases divided by the threshold"},
	}
}
