// Package memstore keeps engine and registry state in process memory. It
// honours the same per-customer atomicity as the SQL store and backs tests
// and DATABASE_DRIVER=memory deployments.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
	"loyalnexus/internal/registry"
)

type dedupKey struct {
	customer  loyalty.CustomerKey
	tokenHash string
}

type jobStatus int

const (
	jobPending jobStatus = iota
	jobDone
	jobFailed
)

type jobRecord struct {
	job    notify.Job
	status jobStatus
	reason string
}

// Store is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	businesses  map[uuid.UUID]registry.Business
	credentials map[uuid.UUID]registry.Credential
	customers   map[uuid.UUID]registry.Customer
	events      map[loyalty.CustomerKey][]loyalty.PurchaseEvent
	rewards     map[uuid.UUID]loyalty.Reward
	byCustomer  map[loyalty.CustomerKey][]uuid.UUID
	dedup       map[dedupKey]loyalty.DedupEntry
	jobs        map[uuid.UUID]*jobRecord
	jobOrder    []uuid.UUID
	alerts      []notify.Alert

	locksMu sync.Mutex
	locks   map[loyalty.CustomerKey]*sync.Mutex
}

func New() *Store {
	return &Store{
		businesses:  make(map[uuid.UUID]registry.Business),
		credentials: make(map[uuid.UUID]registry.Credential),
		customers:   make(map[uuid.UUID]registry.Customer),
		events:      make(map[loyalty.CustomerKey][]loyalty.PurchaseEvent),
		rewards:     make(map[uuid.UUID]loyalty.Reward),
		byCustomer:  make(map[loyalty.CustomerKey][]uuid.UUID),
		dedup:       make(map[dedupKey]loyalty.DedupEntry),
		jobs:        make(map[uuid.UUID]*jobRecord),
		locks:       make(map[loyalty.CustomerKey]*sync.Mutex),
	}
}

func (s *Store) lockFor(key loyalty.CustomerKey) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Accrue serializes units per customer; unrelated customers never wait on
// each other. Staged writes are applied only when fn succeeds.
func (s *Store) Accrue(ctx context.Context, key loyalty.CustomerKey, fn func(ctx context.Context, tx loyalty.AccrualTx) error) error {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &accrualTx{store: s, key: key, claims: make(map[string]loyalty.DedupEntry)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *accrualTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, entry := range tx.claims {
		s.dedup[dedupKey{customer: tx.key, tokenHash: hash}] = entry
	}
	s.events[tx.key] = append(s.events[tx.key], tx.events...)
	for _, r := range tx.rewards {
		s.rewards[r.ID] = r
		s.byCustomer[tx.key] = append(s.byCustomer[tx.key], r.ID)
	}
	for _, j := range tx.jobs {
		s.enqueueLocked(j)
	}
}

type accrualTx struct {
	store   *Store
	key     loyalty.CustomerKey
	claims  map[string]loyalty.DedupEntry
	events  []loyalty.PurchaseEvent
	rewards []loyalty.Reward
	jobs    []notify.Job
}

func (tx *accrualTx) ClaimToken(_ context.Context, entry loyalty.DedupEntry) (bool, *loyalty.DedupEntry, error) {
	if prior, ok := tx.claims[entry.TokenHash]; ok {
		return false, &prior, nil
	}
	tx.store.mu.RLock()
	prior, ok := tx.store.dedup[dedupKey{customer: tx.key, tokenHash: entry.TokenHash}]
	tx.store.mu.RUnlock()
	if ok {
		return false, &prior, nil
	}
	tx.claims[entry.TokenHash] = entry
	return true, nil, nil
}

func (tx *accrualTx) RecordResult(_ context.Context, entry loyalty.DedupEntry) error {
	if _, ok := tx.claims[entry.TokenHash]; !ok {
		return fmt.Errorf("token %s was not claimed in this unit", entry.TokenHash)
	}
	tx.claims[entry.TokenHash] = entry
	return nil
}

func (tx *accrualTx) AppendEvent(_ context.Context, event loyalty.PurchaseEvent) (int, error) {
	tx.store.mu.RLock()
	committed := len(tx.store.events[tx.key])
	tx.store.mu.RUnlock()

	event.Seq = committed + len(tx.events) + 1
	tx.events = append(tx.events, event)
	return event.Seq, nil
}

func (tx *accrualTx) CountRewards(_ context.Context) (int, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return len(tx.store.byCustomer[tx.key]) + len(tx.rewards), nil
}

func (tx *accrualTx) InsertReward(_ context.Context, reward loyalty.Reward) error {
	for _, r := range tx.rewards {
		if r.Sequence == reward.Sequence {
			return loyalty.ErrRewardExists
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for _, id := range tx.store.byCustomer[tx.key] {
		if tx.store.rewards[id].Sequence == reward.Sequence {
			return loyalty.ErrRewardExists
		}
	}
	tx.rewards = append(tx.rewards, reward)
	return nil
}

func (tx *accrualTx) Enqueue(_ context.Context, job notify.Job) error {
	tx.jobs = append(tx.jobs, job)
	return nil
}

func (s *Store) CountEvents(_ context.Context, key loyalty.CustomerKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[key]), nil
}

// Events returns a copy of the customer's ledger in acceptance order.
func (s *Store) Events(_ context.Context, key loyalty.CustomerKey) ([]loyalty.PurchaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]loyalty.PurchaseEvent(nil), s.events[key]...), nil
}

func (s *Store) CustomerRewards(_ context.Context, key loyalty.CustomerKey) ([]loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]loyalty.Reward, 0, len(s.byCustomer[key]))
	for _, id := range s.byCustomer[key] {
		out = append(out, s.rewards[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) GetReward(_ context.Context, id uuid.UUID) (*loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rewards[id]
	if !ok {
		return nil, fmt.Errorf("%w: reward %s", loyalty.ErrNotFound, id)
	}
	return &r, nil
}

func (s *Store) BusinessRewards(_ context.Context, businessID uuid.UUID, state loyalty.RewardState) ([]loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []loyalty.Reward{}
	for _, r := range s.rewards {
		if r.BusinessID != businessID || (state != "" && r.State != state) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		if out[i].CustomerID != out[j].CustomerID {
			return out[i].CustomerID.String() < out[j].CustomerID.String()
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// RedeemReward is a compare-and-set on the stored state.
func (s *Store) RedeemReward(_ context.Context, reward loyalty.Reward, job *notify.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rewards[reward.ID]
	if !ok {
		return fmt.Errorf("%w: reward %s", loyalty.ErrNotFound, reward.ID)
	}
	if current.State != loyalty.RewardEarned {
		return fmt.Errorf("%w: reward %s is %s", loyalty.ErrInvalidState, reward.ID, current.State)
	}
	current.State = reward.State
	current.RedeemedAt = reward.RedeemedAt
	s.rewards[reward.ID] = current
	if job != nil {
		s.enqueueLocked(*job)
	}
	return nil
}

func (s *Store) PruneDedup(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.dedup {
		if e.CreatedAt.Before(before) {
			delete(s.dedup, k)
			n++
		}
	}
	return n, nil
}

var (
	_ loyalty.Store       = (*Store)(nil)
	_ notify.Outbox       = (*Store)(nil)
	_ registry.Repository = (*Store)(nil)
)
