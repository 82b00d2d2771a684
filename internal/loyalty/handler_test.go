package loyalty_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalnexus/internal/loyalty"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	loyalty.NewHandler(f.svc).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleScanAndRedeem(t *testing.T) {
	f := newFixture(t, 2)
	h := newRouter(f)

	var last map[string]any
	for i := 1; i <= 2; i++ {
		rec := do(t, h, http.MethodPost, "/scan", map[string]string{
			"businessId":    f.business.ID.String(),
			"customerEmail": "Ada@Example.com",
			"scanToken":     fmt.Sprintf("t%d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = map[string]any{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &last))
	}
	assert.Equal(t, true, last["accepted"])
	assert.Equal(t, float64(2), last["totalCount"])
	earned, ok := last["rewardEarned"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), earned["sequence"])

	rec := do(t, h, http.MethodPost, "/redeem", map[string]string{
		"businessId":   f.business.ID.String(),
		"rewardId":     earned["rewardId"].(string),
		"ownerActorId": uuid.NewString(),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	redeem := map[string]string{
		"businessId":   f.business.ID.String(),
		"rewardId":     earned["rewardId"].(string),
		"ownerActorId": f.business.OwnerID.String(),
	}
	rec = do(t, h, http.MethodPost, "/redeem", redeem)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out loyalty.RedemptionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Redeemed)
	assert.Equal(t, loyalty.RewardRedeemed, out.Reward.State)

	rec = do(t, h, http.MethodPost, "/redeem", redeem)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleScanErrors(t *testing.T) {
	f := newFixture(t, 10)
	h := newRouter(f)

	rec := do(t, h, http.MethodPost, "/scan", map[string]string{"businessId": f.business.ID.String(), "customerEmail": "ada@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/scan", map[string]string{
		"businessId": f.business.ID.String(), "customerEmail": "ghost@example.com", "scanToken": "x",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCustomerStatusAndLists(t *testing.T) {
	f := newFixture(t, 1)
	h := newRouter(f)

	_, err := f.scan("t1")
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/customer-status?businessId=%s&customerId=%s", f.business.ID, f.customer.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status loyalty.CustomerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.TotalCount)
	assert.Len(t, status.PendingRewards, 1)

	rec = do(t, h, http.MethodGet, "/customer-status?businessId=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/businesses/%s/rewards?state=earned", f.business.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rewards []loyalty.Reward
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rewards))
	assert.Len(t, rewards, 1)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/businesses/%s/rewards?state=lost", f.business.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/businesses/%s/alerts", f.business.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/businesses/%s/alerts/%s/ack", f.business.ID, uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
