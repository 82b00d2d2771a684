package clients_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"loyalnexus/internal/clients"
	"loyalnexus/internal/loyalty"
	"loyalnexus/internal/registry"
	"loyalnexus/internal/store/memstore"
)

type stack struct {
	registry *clients.RegistryClient
	loyalty  *clients.LoyaltyClient
	business *registry.Business
	customer *registry.Customer
}

// newStack runs the registry and the engine as separate servers, with the
// engine reaching the registry over HTTP.
func newStack(t *testing.T, threshold int) *stack {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	reg := registry.NewService(store, registry.WithRateLimit(rate.Inf, 1))

	regRouter := chi.NewRouter()
	registry.NewHandler(reg).Routes(regRouter)
	regServer := httptest.NewServer(regRouter)
	t.Cleanup(regServer.Close)

	directory := clients.NewRegistryClient(regServer.URL, regServer.Client())
	loyaltyRouter := chi.NewRouter()
	loyalty.NewHandler(loyalty.NewService(store, directory)).Routes(loyaltyRouter)
	loyaltyServer := httptest.NewServer(loyaltyRouter)
	t.Cleanup(loyaltyServer.Close)

	business, err := reg.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name: "Corner Shop", Email: "owner@corner.test", Password: "secret-pass", Threshold: threshold,
	})
	require.NoError(t, err)
	customer, err := reg.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{
		Name: "Linus", Email: "Linus@Example.com",
	})
	require.NoError(t, err)

	return &stack{
		registry: directory,
		loyalty:  clients.NewLoyaltyClient(loyaltyServer.URL+"/", nil),
		business: business,
		customer: customer,
	}
}

func TestRegistryClientLookups(t *testing.T) {
	s := newStack(t, 10)
	ctx := context.Background()

	b, err := s.registry.GetBusiness(ctx, s.business.ID)
	require.NoError(t, err)
	assert.Equal(t, s.business.Name, b.Name)
	assert.Equal(t, 10, b.Threshold)

	c, err := s.registry.GetCustomerByEmail(ctx, s.business.ID, "linus@example.com")
	require.NoError(t, err)
	assert.Equal(t, s.customer.ID, c.ID)

	c, err = s.registry.GetCustomer(ctx, s.business.ID, s.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "linus@example.com", c.Email)

	_, err = s.registry.GetBusiness(ctx, uuid.New())
	assert.ErrorIs(t, err, registry.ErrBusinessNotFound)
	_, err = s.registry.GetCustomerByEmail(ctx, s.business.ID, "nobody@example.com")
	assert.ErrorIs(t, err, registry.ErrCustomerNotFound)
}

func TestRegistryClientUnreachableIsNotNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := clients.NewRegistryClient(url, nil).GetBusiness(context.Background(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, registry.ErrBusinessNotFound)
}

func TestLoyaltyClientScanAndRedeem(t *testing.T) {
	s := newStack(t, 2)
	ctx := context.Background()
	scan := func(token string) *loyalty.AccrualResult {
		res, err := s.loyalty.SubmitScan(ctx, loyalty.ScanRequest{
			BusinessID: s.business.ID, CustomerEmail: s.customer.Email, ScanToken: token,
		})
		require.NoError(t, err)
		return res
	}

	scan("a")
	res := scan("b")
	require.NotNil(t, res.RewardEarned)
	assert.True(t, scan("b").Duplicate)

	status, err := s.loyalty.CustomerStatus(ctx, s.business.ID, s.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.TotalCount)
	require.Len(t, status.PendingRewards, 1)

	_, err = s.loyalty.Redeem(ctx, s.business.ID, res.RewardEarned.RewardID, uuid.New())
	assert.ErrorIs(t, err, loyalty.ErrForbidden)

	redeemed, err := s.loyalty.Redeem(ctx, s.business.ID, res.RewardEarned.RewardID, s.business.OwnerID)
	require.NoError(t, err)
	assert.True(t, redeemed.Redeemed)

	_, err = s.loyalty.Redeem(ctx, s.business.ID, res.RewardEarned.RewardID, s.business.OwnerID)
	assert.ErrorIs(t, err, loyalty.ErrInvalidState)

	rewards, err := s.loyalty.ListRewards(ctx, s.business.ID, loyalty.RewardRedeemed)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)

	alerts, err := s.loyalty.ListAlerts(ctx, s.business.ID, true)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.ErrorIs(t, s.loyalty.AcknowledgeAlert(ctx, s.business.ID, uuid.New()), loyalty.ErrNotFound)
}

func TestLoyaltyClientErrors(t *testing.T) {
	s := newStack(t, 10)
	ctx := context.Background()

	_, err := s.loyalty.SubmitScan(ctx, loyalty.ScanRequest{BusinessID: s.business.ID, CustomerEmail: s.customer.Email})
	assert.ErrorIs(t, err, loyalty.ErrInvalidScan)

	_, err = s.loyalty.SubmitScan(ctx, loyalty.ScanRequest{
		BusinessID: s.business.ID, CustomerEmail: "stranger@example.com", ScanToken: "x",
	})
	assert.ErrorIs(t, err, loyalty.ErrNotFound)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "store down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err = clients.NewLoyaltyClient(srv.URL, nil).CustomerStatus(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, loyalty.ErrTransientIO)
}

func TestRegistryClientWrites(t *testing.T) {
	s := newStack(t, 10)
	ctx := context.Background()

	business, err := s.registry.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name: "Game Day Cafe", Email: "gameday@cafe.test", Password: "secret-pass", Threshold: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, business.Threshold)
	assert.NotEqual(t, uuid.Nil, business.OwnerID)

	_, err = s.registry.RegisterBusiness(ctx, registry.RegisterBusinessInput{
		Name: "Again", Email: "gameday@cafe.test", Password: "secret-pass",
	})
	assert.ErrorIs(t, err, registry.ErrEmailTaken)

	customer, err := s.registry.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{
		Name: "Ada", Email: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, business.ID, customer.BusinessID)

	_, err = s.registry.EnrollCustomer(ctx, uuid.New(), registry.EnrollCustomerInput{
		Name: "Ghost", Email: "ghost@example.com",
	})
	assert.ErrorIs(t, err, registry.ErrBusinessNotFound)

	_, err = s.registry.EnrollCustomer(ctx, business.ID, registry.EnrollCustomerInput{Name: "No Mail"})
	assert.ErrorIs(t, err, registry.ErrInvalidInput)

	public, err := s.registry.GetBusiness(ctx, business.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, public.OwnerID)

	owner, err := s.registry.IsOwner(ctx, business.ID, business.OwnerID)
	require.NoError(t, err)
	assert.True(t, owner)

	owner, err = s.registry.IsOwner(ctx, business.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, owner)

	_, err = s.registry.IsOwner(ctx, uuid.New(), business.OwnerID)
	assert.ErrorIs(t, err, registry.ErrBusinessNotFound)
}
