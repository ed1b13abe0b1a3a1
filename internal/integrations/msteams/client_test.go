package msteams

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
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(&Config{WebhookURL: srv.URL, Recipients: []string{"a@example.com", "b@example.com"}, Enabled: true})
	err := c.Send(context.Background(), &integrations.Event{
		Type:    integrations.EventWorkflowCompleted,
		Source:  "proactive-workflow",
		Message: "# Summary",
	})
	require.NoError(t, err)

	assert.Equal(t, "proactive-workflow", got.AgentID)
	assert.Equal(t, "# Summary", got.Message)
	assert.Equal(t, []SchemaField{
		{Field: "emailid_1", Type: "string", Label: "Email Id", Value: "a@example.com"},
		{Field: "emailid_2", Type: "string", Label: "Email Id", Value: "b@example.com"},
	}, got.Schema)
}

func TestClient_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flow disabled", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(&Config{WebhookURL: srv.URL, Enabled: true})
	err := c.Send(context.Background(), &integrations.Event{Type: integrations.EventSwarmFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient(&Config{WebhookURL: "http://127.0.0.1:1"})
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Send(context.Background(), &integrations.Event{}))
}
