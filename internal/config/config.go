package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Database      DatabaseConfig         `yaml:"database"`
	Security      SecurityConfig         `yaml:"security"`
	LLM           LLMConfig              `yaml:"llm"`
	RateLimits    RateLimitsConfig       `yaml:"rate_limits"`
	Datadog       DatadogConfig          `yaml:"datadog"`
	ServiceNow    ServiceNowConfig       `yaml:"servicenow"`
	Storage       StorageConfig          `yaml:"storage"`
	Workflow      WorkflowConfig         `yaml:"workflow"`
	Notifications NotificationsConfig    `yaml:"notifications"`
	Logging       LoggingConfig          `yaml:"logging"`
	Analysis      AnalysisConfig         `yaml:"analysis"`
	MCP           MCPConfig              `yaml:"mcp"`
	Agents        map[string]AgentConfig `yaml:"agents"`
}

type ServerConfig struct {
	Port                       string `yaml:"port"`
	Host                       string `yaml:"host"`
	Environment                string `yaml:"environment"`
	CORSAllowedOrigins         string `yaml:"cors_allowed_origins"`
	RateLimitRequestsPerMinute int    `yaml:"rate_limit_requests_per_minute"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type SecurityConfig struct {
	AuthEnabled          bool          `yaml:"auth_enabled"`
	JWTSecret            string        `yaml:"jwt_secret"`
	TokenExpiry          time.Duration `yaml:"token_expiry"`
	SessionEncryptionKey string        `yaml:"session_encryption_key"`
}

type LLMConfig struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OllamaHost      string  `yaml:"ollama_host"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	MaxToolRounds   int     `yaml:"max_tool_rounds"`
}

// RateLimitsConfig bounds a single swarm run.
type RateLimitsConfig struct {
	MaxIterations           int           `yaml:"max_agent_iterations"`
	MaxHandoffs             int           `yaml:"max_handoffs"`
	ExecutionTimeout        time.Duration `yaml:"execution_timeout"`
	NodeTimeout             time.Duration `yaml:"node_timeout"`
	AbortOnOperationFailure bool          `yaml:"abort_on_operation_failure"`
}

type DatadogConfig struct {
	APIKey            string        `yaml:"api_key"`
	AppKey            string        `yaml:"app_key"`
	Site              string        `yaml:"site"`
	DefaultQuery      string        `yaml:"default_query"`
	Limit             int           `yaml:"limit"`
	MaxLogsForContext int           `yaml:"max_logs_for_context"`
	MaxMessageLength  int           `yaml:"max_message_length"`
	Timeout           time.Duration `yaml:"timeout"`
}

type PriorityValues struct {
	Impact  string `yaml:"impact"`
	Urgency string `yaml:"urgency"`
}

type ServiceNowConfig struct {
	Instance        string                    `yaml:"instance"`
	Username        string                    `yaml:"username"`
	Password        string                    `yaml:"password"`
	Category        string                    `yaml:"category"`
	AssignmentGroup string                    `yaml:"assignment_group"`
	Timeout         time.Duration             `yaml:"timeout"`
	PriorityMapping map[string]PriorityValues `yaml:"priority_mapping"`
}

type StorageConfig struct {
	Backend  string `yaml:"backend"` // "s3" or "local"
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	LocalDir string `yaml:"local_dir"`
}

type WorkflowConfig struct {
	TimeFrom                string `yaml:"default_time_from"`
	TimeTo                  string `yaml:"default_time_to"`
	MaxWorkers              int    `yaml:"max_workers"`
	UseLightweightProcessor bool   `yaml:"use_lightweight_processor"`
	MinSeverity             string `yaml:"min_severity_for_ticket"`
	CreateTickets           bool   `yaml:"create_tickets"`
	DryRun                  bool   `yaml:"dry_run"`
}

type NotificationsConfig struct {
	Enabled           bool     `yaml:"enabled"`
	SlackWebhookURL   string   `yaml:"slack_webhook_url"`
	MSTeamsWebhookURL string   `yaml:"msteams_webhook_url"`
	MSTeamsRecipients []string `yaml:"msteams_recipients"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AnalysisConfig struct {
	SeverityKeywords map[string][]string `yaml:"severity_keywords"`
}

// MCPConfig controls which operations the MCP server exposes.
type MCPConfig struct {
	Name        string   `yaml:"name"`
	AllowWrites bool     `yaml:"allow_writes"`
	Trusted     []string `yaml:"trusted"`
}

// AgentConfig overrides the description or directive of a named capability.
type AgentConfig struct {
	Description string `yaml:"description"`
	Directive   string `yaml:"directive"`
}

// Default returns the built-in configuration before any file or env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                       "8080",
			Host:                       "0.0.0.0",
			Environment:                "development",
			CORSAllowedOrigins:         "*",
			RateLimitRequestsPerMinute: 60,
		},
		Database: DatabaseConfig{URL: "./data/aiops.db"},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:      "anthropic",
			Model:         "claude-3-5-sonnet-20241022",
			OllamaHost:    "http://localhost:11434",
			Temperature:   0.2,
			MaxTokens:     4096,
			MaxToolRounds: 8,
		},
		RateLimits: RateLimitsConfig{
			MaxIterations:    20,
			MaxHandoffs:      15,
			ExecutionTimeout: 900 * time.Second,
			NodeTimeout:      300 * time.Second,
		},
		Datadog: DatadogConfig{
			Site:              "us5",
			DefaultQuery:      "status:(error OR warn)",
			Limit:             50,
			MaxLogsForContext: 30,
			MaxMessageLength:  500,
			Timeout:           30 * time.Second,
		},
		ServiceNow: ServiceNowConfig{
			Category: "LLM-Assisted Resolution",
			Timeout:  30 * time.Second,
			PriorityMapping: map[string]PriorityValues{
				"critical": {Impact: "1", Urgency: "1"},
				"high":     {Impact: "1", Urgency: "2"},
				"medium":   {Impact: "2", Urgency: "2"},
				"low":      {Impact: "3", Urgency: "3"},
			},
		},
		Storage: StorageConfig{
			Backend:  "local",
			Region:   "us-east-1",
			LocalDir: "./data/reports",
		},
		Workflow: WorkflowConfig{
			TimeFrom:      "now-1d",
			TimeTo:        "now",
			MaxWorkers:    50,
			MinSeverity:   "medium",
			CreateTickets: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Analysis: AnalysisConfig{
			SeverityKeywords: map[string][]string{
				"critical": {"OutOfMemory", "Database"},
				"high":     {"ConnectionRefused", "Timeout", "Authentication"},
			},
		},
		MCP:    MCPConfig{Name: "aws-aiops"},
		Agents: map[string]AgentConfig{},
	}
}

// Load reads .env, the optional YAML file named by AIOPS_CONFIG, then env overrides.
func Load() (*Config, error) {
	return LoadPath("")
}

// LoadPath is Load with an explicit YAML path. An empty path falls back to AIOPS_CONFIG.
func LoadPath(path string) (*Config, error) {
	_ = godotenv.Load()
	if path == "" {
		path = os.Getenv("AIOPS_CONFIG")
	}
	return LoadFile(path)
}

// LoadFile is Load without the .env step. An empty path skips the YAML layer.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.mergeYAML(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) mergeYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentConfig{}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.Environment = getEnv("ENVIRONMENT", c.Server.Environment)
	c.Server.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.Server.CORSAllowedOrigins)
	c.Server.RateLimitRequestsPerMinute = getIntEnv("RATE_LIMIT_REQUESTS_PER_MINUTE", c.Server.RateLimitRequestsPerMinute)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)

	c.Security.AuthEnabled = getBoolEnv("AUTH_ENABLED", c.Security.AuthEnabled)
	c.Security.JWTSecret = getEnv("JWT_SECRET", c.Security.JWTSecret)
	c.Security.TokenExpiry = getDurationEnv("JWT_TOKEN_EXPIRY", c.Security.TokenExpiry)
	c.Security.SessionEncryptionKey = getEnv("SESSION_ENCRYPTION_KEY", c.Security.SessionEncryptionKey)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.OllamaHost = getEnv("OLLAMA_HOST", c.LLM.OllamaHost)
	c.LLM.Temperature = getFloatEnv("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.MaxTokens = getIntEnv("LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.MaxToolRounds = getIntEnv("LLM_MAX_TOOL_ROUNDS", c.LLM.MaxToolRounds)

	c.RateLimits.MaxIterations = getIntEnv("SWARM_MAX_ITERATIONS", c.RateLimits.MaxIterations)
	c.RateLimits.MaxHandoffs = getIntEnv("SWARM_MAX_HANDOFFS", c.RateLimits.MaxHandoffs)
	c.RateLimits.ExecutionTimeout = getDurationEnv("SWARM_EXECUTION_TIMEOUT", c.RateLimits.ExecutionTimeout)
	c.RateLimits.NodeTimeout = getDurationEnv("SWARM_NODE_TIMEOUT", c.RateLimits.NodeTimeout)
	c.RateLimits.AbortOnOperationFailure = getBoolEnv("SWARM_ABORT_ON_OPERATION_FAILURE", c.RateLimits.AbortOnOperationFailure)

	c.Datadog.APIKey = getEnv("DATADOG_API_KEY", c.Datadog.APIKey)
	c.Datadog.AppKey = getEnv("DATADOG_APP_KEY", c.Datadog.AppKey)
	c.Datadog.Site = getEnv("DATADOG_SITE", c.Datadog.Site)

	c.ServiceNow.Instance = getEnv("SERVICENOW_INSTANCE", c.ServiceNow.Instance)
	c.ServiceNow.Username = getEnv("SERVICENOW_USER", c.ServiceNow.Username)
	c.ServiceNow.Password = getEnv("SERVICENOW_PASS", c.ServiceNow.Password)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Bucket = getEnv("S3_BUCKET", c.Storage.Bucket)
	c.Storage.Region = getEnv("AWS_REGION", c.Storage.Region)
	c.Storage.LocalDir = getEnv("REPORTS_DIR", c.Storage.LocalDir)

	c.Workflow.MaxWorkers = getIntEnv("WORKFLOW_MAX_WORKERS", c.Workflow.MaxWorkers)
	c.Workflow.DryRun = getBoolEnv("DRY_RUN", c.Workflow.DryRun)
	c.Workflow.MinSeverity = getEnv("MIN_SEVERITY_FOR_TICKET", c.Workflow.MinSeverity)

	c.Notifications.Enabled = getBoolEnv("NOTIFICATIONS_ENABLED", c.Notifications.Enabled)
	c.Notifications.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", c.Notifications.SlackWebhookURL)
	c.Notifications.MSTeamsWebhookURL = getEnv("MSTEAMS_WEBHOOK_URL", c.Notifications.MSTeamsWebhookURL)
	if v := os.Getenv("MSTEAMS_RECIPIENTS"); v != "" {
		c.Notifications.MSTeamsRecipients = splitList(v)
	}

	c.MCP.AllowWrites = getBoolEnv("MCP_ALLOW_WRITES", c.MCP.AllowWrites)
	if v := os.Getenv("MCP_TRUSTED_TOOLS"); v != "" {
		c.MCP.Trusted = splitList(v)
	}

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

var (
	ErrMissingLLMKey     = errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
	ErrMissingDatadog    = errors.New("DATADOG_API_KEY and DATADOG_APP_KEY are required")
	ErrMissingServiceNow = errors.New("SERVICENOW_INSTANCE is required")
	ErrMissingBucket     = errors.New("S3_BUCKET is required for the s3 storage backend")
	ErrMissingJWTSecret  = errors.New("JWT_SECRET is required when AUTH_ENABLED is set")
)

// Validate reports every missing credential at once.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Provider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		errs = append(errs, ErrMissingLLMKey)
	}
	if !c.Datadog.Configured() {
		errs = append(errs, ErrMissingDatadog)
	}
	if !c.ServiceNow.Configured() {
		errs = append(errs, ErrMissingServiceNow)
	}
	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		errs = append(errs, ErrMissingBucket)
	}
	if c.Security.AuthEnabled && c.Security.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	return errors.Join(errs...)
}

func (d DatadogConfig) Configured() bool {
	return d.APIKey != "" && d.AppKey != ""
}

func (s ServiceNowConfig) Configured() bool {
	return s.Instance != ""
}

// Priority returns the impact/urgency pair for a severity, falling back to 3/3.
func (s ServiceNowConfig) Priority(severity string) PriorityValues {
	if p, ok := s.PriorityMapping[strings.ToLower(severity)]; ok {
		return p
	}
	return PriorityValues{Impact: "3", Urgency: "3"}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		if value == "false" || value == "0" || value == "no" {
			return false
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
