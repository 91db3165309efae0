package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/RelayBox/internal/integrations/notify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestClient_Send_OK(t *testing.T) {
	userID := uuid.New()
	var got notify.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/notifications", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "secret")
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), notify.Notification{
		UserID: userID, Type: "payment.completed", Title: "Payment received", Message: "40.00 EUR",
	}))
	require.Equal(t, userID, got.UserID)
	require.Equal(t, "payment.completed", got.Type)
}

func TestClient_Send_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)
	err = c.Send(context.Background(), notify.Notification{UserID: uuid.New()})
	require.EqualError(t, err, "notification webhook http 502")
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("notifications.local", "")
	require.Error(t, err)
}
