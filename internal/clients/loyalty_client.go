// internal/clients/loyalty_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/notify"
)

// LoyaltyClient talks to the loyalty engine over HTTP. Failures carry the
// engine's error sentinels so callers can branch with errors.Is.
type LoyaltyClient struct {
	base
}

func NewLoyaltyClient(baseURL string, client *http.Client) *LoyaltyClient {
	return &LoyaltyClient{base: newBase(baseURL, client)}
}

func (c *LoyaltyClient) SubmitScan(ctx context.Context, req loyalty.ScanRequest) (*loyalty.AccrualResult, error) {
	var result loyalty.AccrualResult
	if err := c.do(ctx, http.MethodPost, "/scan", req, &result); err != nil {
		return nil, loyaltyError(err)
	}
	return &result, nil
}

func (c *LoyaltyClient) Redeem(ctx context.Context, businessID, rewardID, actorOwnerID uuid.UUID) (*loyalty.RedemptionResult, error) {
	body := map[string]uuid.UUID{
		"businessId":   businessID,
		"rewardId":     rewardID,
		"ownerActorId": actorOwnerID,
	}
	var result loyalty.RedemptionResult
	if err := c.do(ctx, http.MethodPost, "/redeem", body, &result); err != nil {
		return nil, loyaltyError(err)
	}
	return &result, nil
}

func (c *LoyaltyClient) CustomerStatus(ctx context.Context, businessID, customerID uuid.UUID) (*loyalty.CustomerStatus, error) {
	q := url.Values{}
	q.Set("businessId", businessID.String())
	q.Set("customerId", customerID.String())

	var status loyalty.CustomerStatus
	if err := c.do(ctx, http.MethodGet, "/customer-status?"+q.Encode(), nil, &status); err != nil {
		return nil, loyaltyError(err)
	}
	return &status, nil
}

func (c *LoyaltyClient) ListRewards(ctx context.Context, businessID uuid.UUID, state loyalty.RewardState) ([]loyalty.Reward, error) {
	path := fmt.Sprintf("/businesses/%s/rewards", businessID)
	if state != "" {
		path += "?state=" + url.QueryEscape(string(state))
	}
	var rewards []loyalty.Reward
	if err := c.do(ctx, http.MethodGet, path, nil, &rewards); err != nil {
		return nil, loyaltyError(err)
	}
	return rewards, nil
}

func (c *LoyaltyClient) ListAlerts(ctx context.Context, businessID uuid.UUID, includeAcknowledged bool) ([]notify.Alert, error) {
	path := fmt.Sprintf("/businesses/%s/alerts", businessID)
	if includeAcknowledged {
		path += "?all=true"
	}
	var alerts []notify.Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &alerts); err != nil {
		return nil, loyaltyError(err)
	}
	return alerts, nil
}

func (c *LoyaltyClient) AcknowledgeAlert(ctx context.Context, businessID, alertID uuid.UUID) error {
	path := fmt.Sprintf("/businesses/%s/alerts/%s/ack", businessID, alertID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return loyaltyError(err)
	}
	return nil
}

func loyaltyError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", loyalty.ErrTransientIO, err)
	}
	var sentinel error
	switch se.Code {
	case http.StatusBadRequest:
		sentinel = loyalty.ErrInvalidScan
	case http.StatusForbidden:
		sentinel = loyalty.ErrForbidden
	case http.StatusNotFound:
		sentinel = loyalty.ErrNotFound
	case http.StatusConflict:
		sentinel = loyalty.ErrInvalidState
	case http.StatusServiceUnavailable:
		sentinel = loyalty.ErrTransientIO
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, se.Message)
}

var _ loyalty.Service = (*LoyaltyClient)(nil)
