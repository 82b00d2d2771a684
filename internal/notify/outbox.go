// internal/notify/outbox.go
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound   = errors.New("notification job not found")
	ErrAlertNotFound = errors.New("alert not found")
)

// Outbox is the durable job queue written alongside reward changes.
type Outbox interface {
	// ClaimJobs leases up to limit due jobs. A claimed job is hidden from
	// other claimers until the lease runs out.
	ClaimJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, at time.Time) error
	// RetryJob narrows the job to the channels still owed a delivery.
	RetryJob(ctx context.Context, id uuid.UUID, channels []ChannelKind, attempts int, notBefore time.Time) error
	FailJob(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	RecordAlert(ctx context.Context, alert Alert) error
}

// AlertStore serves the owner panel's view of delivery failures.
type AlertStore interface {
	ListAlerts(ctx context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, businessID, alertID uuid.UUID, at time.Time) error
}

// Recipient is who a business's alerts go to.
type Recipient struct {
	BusinessName string
	Destinations []Destination
}

// Address returns the configured destination for a channel.
func (r Recipient) Address(kind ChannelKind) (string, bool) {
	for _, d := range r.Destinations {
		if d.Channel == kind {
			return d.Address, true
		}
	}
	return "", false
}

// Resolver looks up the current notification preferences of a business.
type Resolver interface {
	Resolve(ctx context.Context, businessID uuid.UUID) (*Recipient, error)
}
