// internal/loyalty/service.go
package loyalty

import (
	"context"

	"github.com/google/uuid"

	"loyalnexus/internal/notify"
)

// Service defines the interface for the loyalty engine.
type Service interface {
	SubmitScan(ctx context.Context, req ScanRequest) (*AccrualResult, error)
	Redeem(ctx context.Context, businessID, rewardID, actorOwnerID uuid.UUID) (*RedemptionResult, error)
	CustomerStatus(ctx context.Context, businessID, customerID uuid.UUID) (*CustomerStatus, error)
	ListRewards(ctx context.Context, businessID uuid.UUID, state RewardState) ([]Reward, error)
	ListAlerts(ctx context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]notify.Alert, error)
	AcknowledgeAlert(ctx context.Context, businessID, alertID uuid.UUID) error
}
