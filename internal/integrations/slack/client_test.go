package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/integrations"
)

func TestClient_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := NewClient(&Config{WebhookURL: srv.URL, Enabled: true})
	err := c.Send(context.Background(), &integrations.Event{
		Type:    integrations.EventTicketCreated,
		Source:  "orchestrator",
		Message: "INC0012345 opened for payment-api",
		Data:    map[string]interface{}{"severity": "high"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Incident created", got["text"])
	assert.Len(t, got["blocks"], 5)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(&Config{WebhookURL: srv.URL, Enabled: true})
	err := c.Send(context.Background(), &integrations.Event{Type: integrations.EventSwarmFailed})
	assert.EqualError(t, err, "slack webhook returned status 404")
}

func TestHeaderText(t *testing.T) {
	c := NewClient(&Config{})
	assert.Equal(t, "AIOps swarm failed", c.getHeaderText(&integrations.Event{Type: integrations.EventSwarmFailed}))
	assert.Equal(t, "Custom", c.getHeaderText(&integrations.Event{Type: integrations.EventSwarmFailed, Title: "Custom"}))
	assert.Equal(t, "Event: other", c.getHeaderText(&integrations.Event{Type: "other"}))
}
