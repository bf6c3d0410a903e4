package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyEscalationPostsAdaptiveCard(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body = string(raw)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	history := []string{
		"User: Mein Vertrag <PERSON_abc12345>",
		"Assistant: Das kann ich nicht beantworten.",
	}
	require.NoError(t, n.NotifyEscalation(context.Background(), "sess_42", history))

	assert.Contains(t, body, "Eskalation erforderlich")
	assert.Contains(t, body, "Session ID: sess_42")
	// The JSON encoder escapes angle brackets; check the placeholder core.
	assert.Contains(t, body, "PERSON_abc12345")
	assert.Contains(t, body, "application/vnd.microsoft.card.adaptive")
}

func TestNotifyEscalationEmptyURLIsNoop(t *testing.T) {
	n := NewNotifier("")
	assert.NoError(t, n.NotifyEscalation(context.Background(), "sess_42", []string{"x"}))
}

func TestNotifyEscalationWebhookErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.NotifyEscalation(context.Background(), "sess_42", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
