package registry_test

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

	"loyalnexus/internal/registry"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	registry.NewHandler(newService()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandlerOnboardingFlow(t *testing.T) {
	srv := newServer(t)

	resp := send(t, http.MethodPost, srv.URL+"/businesses", map[string]any{
		"name": "Bakery", "email": "owner@bakery.test", "password": "secret-pass", "threshold": 8,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b registry.OwnerView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	assert.Equal(t, 8, b.Threshold)
	require.NotEqual(t, uuid.Nil, b.OwnerID)

	resp = send(t, http.MethodPost, srv.URL+"/login", map[string]string{"email": "owner@bakery.test", "password": "secret-pass"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var session registry.OwnerView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, b.OwnerID, session.OwnerID)

	resp = send(t, http.MethodGet, fmt.Sprintf("%s/businesses/%s", srv.URL, b.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var public map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&public))
	assert.NotContains(t, public, "ownerId")

	resp = send(t, http.MethodPost, fmt.Sprintf("%s/businesses/%s/owner", srv.URL, b.ID), map[string]any{"actorId": b.OwnerID})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = send(t, http.MethodPost, fmt.Sprintf("%s/businesses/%s/customers", srv.URL, b.ID), map[string]string{
		"name": "Grace", "email": "grace@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var c registry.Customer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))

	resp = send(t, http.MethodGet, fmt.Sprintf("%s/businesses/%s/customers?email=grace@example.com", srv.URL, b.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found registry.Customer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	assert.Equal(t, c.ID, found.ID)

	resp = send(t, http.MethodPut, fmt.Sprintf("%s/businesses/%s/notifications", srv.URL, b.ID), map[string]any{
		"ownerId":       b.OwnerID,
		"notifications": []map[string]string{{"channel": "telegram", "address": "777"}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerErrorStatuses(t *testing.T) {
	srv := newServer(t)
	resp := send(t, http.MethodPost, srv.URL+"/businesses", map[string]any{
		"name": "Bakery", "email": "owner@bakery.test", "password": "secret-pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var b registry.OwnerView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed id", http.MethodGet, "/businesses/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown business", http.MethodGet, "/businesses/" + uuid.NewString(), nil, http.StatusNotFound},
		{"taken email", http.MethodPost, "/businesses", map[string]any{"name": "B", "email": "owner@bakery.test", "password": "secret-pass"}, http.StatusConflict},
		{"invalid input", http.MethodPost, "/businesses", map[string]any{"name": "", "email": "x@y.test", "password": "secret-pass"}, http.StatusBadRequest},
		{"bad password", http.MethodPost, "/login", map[string]string{"email": "owner@bakery.test", "password": "nope-nope"}, http.StatusUnauthorized},
		{"not owner", http.MethodPut, "/businesses/" + b.ID.String() + "/notifications", map[string]any{"ownerId": uuid.New()}, http.StatusForbidden},
		{"owner check with stranger", http.MethodPost, "/businesses/" + b.ID.String() + "/owner", map[string]any{"actorId": uuid.New()}, http.StatusForbidden},
		{"owner check unknown business", http.MethodPost, "/businesses/" + uuid.NewString() + "/owner", map[string]any{"actorId": b.OwnerID}, http.StatusNotFound},
		{"missing email query", http.MethodGet, "/businesses/" + b.ID.String() + "/customers", nil, http.StatusBadRequest},
		{"unknown customer", http.MethodGet, "/businesses/" + b.ID.String() + "/customers/" + uuid.NewString(), nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
