// Package app wires configuration, storage, integrations and the reasoning
// backend into a workflow.Service shared by the HTTP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/agent"
	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/internal/database"
	"github.com/MIK-RC/aws-aiops/internal/database/repository"
	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/msteams"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/integrations/slack"
	"github.com/MIK-RC/aws-aiops/internal/integrations/storage"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/llm/anthropic"
	"github.com/MIK-RC/aws-aiops/internal/llm/ollama"
	"github.com/MIK-RC/aws-aiops/internal/security"
	"github.com/MIK-RC/aws-aiops/internal/workflow"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const subject = "bootstrap"

// Application holds everything a binary needs after bootstrap.
type Application struct {
	Config   *config.Config
	DB       *database.DB
	Runs     *repository.RunRepository
	Sessions *repository.SessionRepository
	Tokens   *security.TokenService // nil when authentication is disabled
	LLM      *llm.Manager
	Notifier *integrations.Manager
	Service  *workflow.Service
}

// New bootstraps the application. Missing integration credentials are not
// fatal: the affected capabilities report them at preflight.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, nil)

	if err := cfg.Validate(); err != nil {
		logging.Warn(subject, "incomplete configuration: %v", err)
	}

	a := &Application{Config: cfg}

	db, err := database.NewSQLite(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.DB = db

	var cipher *security.SessionCipher
	if cfg.Security.SessionEncryptionKey != "" {
		cipher, err = security.NewSessionCipher(cfg.Security.SessionEncryptionKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create session cipher: %w", err)
		}
	}
	a.Runs = repository.NewRunRepository(db.DB)
	a.Sessions = repository.NewSessionRepository(db.DB, cipher)

	if cfg.Security.AuthEnabled {
		a.Tokens, err = security.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenExpiry)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create token service: %w", err)
		}
	}

	a.LLM = NewLLMManager(cfg.LLM)
	a.Notifier = NewNotifier(cfg.Notifications)

	deps, err := Integrations(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	deps.Source = a.LLM.Source(cfg.LLM.Provider)
	if a.Notifier.Enabled() {
		deps.Notifier = a.Notifier
	}

	a.Service = workflow.NewService(cfg, deps,
		workflow.WithRuns(a.Runs),
		workflow.WithSessions(a.Sessions),
	)
	return a, nil
}

// Close releases the database.
func (a *Application) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// NewLLMManager registers the Anthropic and Ollama providers.
func NewLLMManager(cfg config.LLMConfig) *llm.Manager {
	m := llm.NewManager()
	m.RegisterProvider(anthropic.NewClient(cfg.AnthropicAPIKey, ""))
	m.RegisterProvider(ollama.NewClient(cfg.OllamaHost))
	logging.Debug(subject, "registered %d reasoning providers", len(m.ListProviders()))
	return m
}

// NewNotifier registers the Slack and Teams webhooks.
func NewNotifier(cfg config.NotificationsConfig) *integrations.Manager {
	m := integrations.NewManager()
	m.RegisterNotification(slack.NewClient(&slack.Config{
		WebhookURL: cfg.SlackWebhookURL,
		Enabled:    cfg.Enabled,
	}))
	m.RegisterNotification(msteams.NewClient(&msteams.Config{
		WebhookURL: cfg.MSTeamsWebhookURL,
		Recipients: cfg.MSTeamsRecipients,
		Enabled:    cfg.Enabled,
	}))
	return m
}

var errStorage = errors.New("failed to create report storage")

// Integrations builds the telemetry, ticketing and storage collaborators.
// Unconfigured ones stay nil.
func Integrations(ctx context.Context, cfg *config.Config) (agent.Dependencies, error) {
	deps := agent.Dependencies{
		Analyzer: analysis.New(cfg.Analysis.SeverityKeywords),
	}

	if cfg.Datadog.Configured() {
		deps.Logs = datadog.NewClient(cfg.Datadog)
	}
	if cfg.ServiceNow.Configured() {
		deps.Tickets = servicenow.NewClient(cfg.ServiceNow)
	}

	if cfg.Storage.Backend == "s3" && cfg.Storage.Bucket == "" {
		logging.Warn(subject, "s3 storage selected without a bucket, reports will not be uploaded")
		return deps, nil
	}
	sink, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return deps, fmt.Errorf("%w: %v", errStorage, err)
	}
	deps.Sink = sink
	return deps, nil
}
