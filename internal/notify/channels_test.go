package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalnexus/internal/notify"
)

var message = notify.Message{
	Kind:          notify.JobRewardEarned,
	BusinessName:  "Cafe Uno",
	CustomerEmail: "ada@example.com",
	Sequence:      2,
	RewardID:      uuid.MustParse("7d6f8b7e-1f0a-4a55-9a8e-8f2f3b0c9d11"),
	OccurredAt:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
}

func TestEmailChannelSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	ch := notify.NewEmailChannel(notify.EmailConfig{BaseURL: srv.URL + "/", APIKey: "re_test", From: "alerts@loyalnexus.dev"})
	require.NoError(t, ch.Send(context.Background(), "owner@example.com", message))

	assert.Equal(t, "alerts@loyalnexus.dev", got["from"])
	assert.Equal(t, []any{"owner@example.com"}, got["to"])
	assert.Equal(t, "Cafe Uno: new reward #2 earned", got["subject"])
	assert.Contains(t, got["text"], "ada@example.com")
}

func TestEmailChannelErrorClasses(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnprocessableEntity, true},
		{http.StatusUnauthorized, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooEarly, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"name":"error"}`, tt.status)
			}))
			defer srv.Close()

			ch := notify.NewEmailChannel(notify.EmailConfig{BaseURL: srv.URL, APIKey: "re_test", From: "a@b.co"})
			err := ch.Send(context.Background(), "owner@example.com", message)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, notify.IsPermanent(err))
		})
	}
}

func TestEmailChannelRejectsInvalidDestination(t *testing.T) {
	ch := notify.NewEmailChannel(notify.EmailConfig{BaseURL: "http://127.0.0.1:1", From: "a@b.co"})
	err := ch.Send(context.Background(), "not an address", message)
	assert.True(t, notify.IsPermanent(err))
}

func TestEmailChannelNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	ch := notify.NewEmailChannel(notify.EmailConfig{BaseURL: url, From: "a@b.co", Timeout: time.Second})
	err := ch.Send(context.Background(), "owner@example.com", message)
	require.Error(t, err)
	assert.False(t, notify.IsPermanent(err))
}

func TestTelegramChannelSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	ch := notify.NewTelegramChannel(notify.TelegramConfig{BaseURL: srv.URL, BotToken: "TOKEN"})
	require.NoError(t, ch.Send(context.Background(), "42", message))
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "reward #2")
}

func TestTelegramChannelErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	ch := notify.NewTelegramChannel(notify.TelegramConfig{BaseURL: srv.URL, BotToken: "TOKEN"})
	err := ch.Send(context.Background(), "42", message)
	assert.True(t, notify.IsPermanent(err))
	assert.Contains(t, err.Error(), "chat not found")

	err = ch.Send(context.Background(), " ", message)
	assert.True(t, notify.IsPermanent(err))

	unconfigured := notify.NewTelegramChannel(notify.TelegramConfig{BaseURL: srv.URL})
	err = unconfigured.Send(context.Background(), "42", message)
	assert.True(t, notify.IsPermanent(err))
}

func TestTelegramChannelTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestTimeout)
	}))
	defer srv.Close()

	ch := notify.NewTelegramChannel(notify.TelegramConfig{BaseURL: srv.URL, BotToken: "TOKEN"})
	err := ch.Send(context.Background(), "42", message)
	require.Error(t, err)
	assert.False(t, notify.IsPermanent(err))
}

func TestMessageRendering(t *testing.T) {
	redeemed := message
	redeemed.Kind = notify.JobRewardRedeemed
	assert.Equal(t, "Cafe Uno: reward #2 redeemed", redeemed.Subject())
	assert.Contains(t, redeemed.Text(), "2024-06-01T10:00:00Z")
}
