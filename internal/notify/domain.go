// internal/notify/domain.go
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelKind names a delivery channel.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelTelegram ChannelKind = "telegram"
)

// Valid reports whether the kind is one the dispatcher knows about.
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelEmail, ChannelTelegram:
		return true
	}
	return false
}

// Destination is a business notification preference: where a channel delivers to.
type Destination struct {
	Channel ChannelKind `json:"channel" yaml:"channel"`
	Address string      `json:"address" yaml:"address"`
}

// JobKind distinguishes the alert being sent.
type JobKind string

const (
	JobRewardEarned   JobKind = "reward_earned"
	JobRewardRedeemed JobKind = "reward_redeemed"
)

// Job is an outbound notification job, written to the outbox in the same
// unit of work that created or redeemed the reward.
type Job struct {
	ID            uuid.UUID     `json:"id"`
	Kind          JobKind       `json:"kind"`
	BusinessID    uuid.UUID     `json:"businessId"`
	CustomerID    uuid.UUID     `json:"customerId"`
	CustomerEmail string        `json:"customerEmail"`
	RewardID      uuid.UUID     `json:"rewardId"`
	Sequence      int           `json:"sequence"`
	Channels      []ChannelKind `json:"channels"`
	Attempts      int           `json:"attempts"`
	NotBefore     time.Time     `json:"notBefore"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// NewJob builds a job that is due immediately.
func NewJob(kind JobKind, businessID, customerID, rewardID uuid.UUID, customerEmail string, sequence int, channels []ChannelKind, now time.Time) Job {
	return Job{
		ID:            uuid.New(),
		Kind:          kind,
		BusinessID:    businessID,
		CustomerID:    customerID,
		CustomerEmail: customerEmail,
		RewardID:      rewardID,
		Sequence:      sequence,
		Channels:      append([]ChannelKind(nil), channels...),
		NotBefore:     now,
		CreatedAt:     now,
	}
}

// ChannelsOf returns the channel kinds configured in a set of destinations.
func ChannelsOf(dests []Destination) []ChannelKind {
	seen := make(map[ChannelKind]bool, len(dests))
	out := make([]ChannelKind, 0, len(dests))
	for _, d := range dests {
		if seen[d.Channel] {
			continue
		}
		seen[d.Channel] = true
		out = append(out, d.Channel)
	}
	return out
}

// DeliveryState is the per-channel outcome of one Notify call.
type DeliveryState string

const (
	DeliveryDelivered        DeliveryState = "delivered"
	DeliveryTransientFailure DeliveryState = "transient_failure"
	DeliveryPermanentFailure DeliveryState = "permanent_failure"
)

// DeliveryStatus reports what happened on one channel.
type DeliveryStatus struct {
	Channel  ChannelKind   `json:"channel"`
	State    DeliveryState `json:"state"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
}

// Alert is surfaced to the business owner when a channel could not deliver.
type Alert struct {
	ID             uuid.UUID   `json:"id"`
	BusinessID     uuid.UUID   `json:"businessId"`
	RewardID       uuid.UUID   `json:"rewardId"`
	JobID          uuid.UUID   `json:"jobId"`
	Channel        ChannelKind `json:"channel"`
	Reason         string      `json:"reason"`
	Permanent      bool        `json:"permanent"`
	CreatedAt      time.Time   `json:"createdAt"`
	AcknowledgedAt *time.Time  `json:"acknowledgedAt,omitempty"`
}

// Message is the rendered content handed to a channel.
type Message struct {
	Kind          JobKind
	BusinessName  string
	CustomerEmail string
	Sequence      int
	RewardID      uuid.UUID
	OccurredAt    time.Time
}

// Subject returns a short headline for the message.
func (m Message) Subject() string {
	switch m.Kind {
	case JobRewardRedeemed:
		return fmt.Sprintf("%s: reward #%d redeemed", m.BusinessName, m.Sequence)
	default:
		return fmt.Sprintf("%s: new reward #%d earned", m.BusinessName, m.Sequence)
	}
}

// Text returns the plain-text body.
func (m Message) Text() string {
	switch m.Kind {
	case JobRewardRedeemed:
		return fmt.Sprintf("Reward #%d for %s was redeemed at %s (reward %s).",
			m.Sequence, m.CustomerEmail, m.OccurredAt.UTC().Format(time.RFC3339), m.RewardID)
	default:
		return fmt.Sprintf("%s just unlocked reward #%d at %s. Redeem it from the panel (reward %s).",
			m.CustomerEmail, m.Sequence, m.OccurredAt.UTC().Format(time.RFC3339), m.RewardID)
	}
}

// ErrPermanentDelivery marks failures that retrying cannot fix.
var ErrPermanentDelivery = errors.New("permanent delivery failure")

// PermanentError wraps a channel error that must not be retried.
type PermanentError struct {
	Channel ChannelKind
	Err     error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e *PermanentError) Unwrap() []error {
	return []error{ErrPermanentDelivery, e.Err}
}

// Permanent wraps err as a non-retryable delivery failure.
func Permanent(channel ChannelKind, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Channel: channel, Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentDelivery)
}
