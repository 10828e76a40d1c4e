package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSSender_PostsToGateway(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender, err := NewSMSSender(SMSConfig{GatewayURL: srv.URL, APIKey: "k1", SenderID: "Driveport"})
	require.NoError(t, err)
	require.Equal(t, "sms", sender.Channel())

	require.NoError(t, sender.Send(context.Background(), "+2348000000001", "Code", "482910"))

	assert.Equal(t, "Bearer k1", auth)
	assert.Equal(t, "+2348000000001", got.To)
	assert.Equal(t, "Driveport", got.From)
	assert.Equal(t, "Code\n482910", got.Message)
}

func TestSMSSender_GatewayErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid destination", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender, err := NewSMSSender(SMSConfig{GatewayURL: srv.URL})
	require.NoError(t, err)

	sendErr := sender.Send(context.Background(), "+2348000000001", "", "482910")
	require.Error(t, sendErr)
	assert.Contains(t, sendErr.Error(), "status 400")
	assert.Contains(t, sendErr.Error(), "invalid destination")
}

func TestSMSSender_Validation(t *testing.T) {
	_, err := NewSMSSender(SMSConfig{})
	require.Error(t, err)

	sender, err := NewSMSSender(SMSConfig{GatewayURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Error(t, sender.Send(context.Background(), "", "s", "b"))
}

func TestEmailSender_Validation(t *testing.T) {
	_, err := NewEmailSender(EmailConfig{})
	require.Error(t, err)

	_, err = NewEmailSender(EmailConfig{Host: "smtp.example.com"})
	require.Error(t, err)

	sender, err := NewEmailSender(EmailConfig{
		Host:        "smtp.example.com",
		Port:        587,
		FromAddress: "no-reply@driveport.example",
	})
	require.NoError(t, err)
	assert.Equal(t, "email", sender.Channel())
	assert.Error(t, sender.Send(context.Background(), "", "s", "b"))
}
