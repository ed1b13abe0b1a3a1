package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/database"
	"github.com/MIK-RC/aws-aiops/internal/security"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = database.MemoryURL
	cfg.Storage.LocalDir = t.TempDir()
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.SessionEncryptionKey = "passphrase"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Runs)
	assert.NotNil(t, a.Sessions)
	assert.Nil(t, a.Tokens)
	assert.Len(t, a.LLM.ListProviders(), 2)
	assert.False(t, a.Notifier.Enabled())
}

func TestNewWithAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.AuthEnabled = true

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, security.ErrMissingSecret)

	cfg.Security.JWTSecret = "secret"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Tokens)
}

func TestIntegrations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantLogs bool
		wantTix  bool
		wantSink bool
		wantErr  bool
	}{
		{name: "nothing configured", mutate: func(*config.Config) {}, wantSink: true},
		{
			name: "all configured",
			mutate: func(c *config.Config) {
				c.Datadog.APIKey, c.Datadog.AppKey = "api", "app"
				c.ServiceNow.Instance = "dev0001"
			},
			wantLogs: true, wantTix: true, wantSink: true,
		},
		{name: "s3 without bucket", mutate: func(c *config.Config) { c.Storage.Backend = "s3" }},
		{name: "unknown backend", mutate: func(c *config.Config) { c.Storage.Backend = "ftp" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			deps, err := Integrations(context.Background(), cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, deps.Analyzer)
			assert.Equal(t, tt.wantLogs, deps.Logs != nil)
			assert.Equal(t, tt.wantTix, deps.Tickets != nil)
			assert.Equal(t, tt.wantSink, deps.Sink != nil)
		})
	}
}

func TestNewNotifier(t *testing.T) {
	assert.False(t, NewNotifier(config.NotificationsConfig{}).Enabled())
	assert.False(t, NewNotifier(config.NotificationsConfig{Enabled: true}).Enabled())
	assert.True(t, NewNotifier(config.NotificationsConfig{
		Enabled:         true,
		SlackWebhookURL: "https://hooks.slack.com/services/x",
	}).Enabled())
}
