package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/stackship/internal/core/domain"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	GCP      GCPConfig      `mapstructure:"gcp"`
	Service  ServiceConfig  `mapstructure:"service"`
	Image    ImageConfig    `mapstructure:"image"`
	Build    BuildConfig    `mapstructure:"build"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Workload WorkloadConfig `mapstructure:"workload"`
	Database DatabaseConfig `mapstructure:"database"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// GCPConfig identifies the target project.
type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
}

// ServiceConfig describes the deployed service and its identity.
type ServiceConfig struct {
	Name           string   `mapstructure:"name"`
	AccountID      string   `mapstructure:"account_id"`
	Roles          []string `mapstructure:"roles"`
	Public         bool     `mapstructure:"public"`
	Memory         string   `mapstructure:"memory"`
	MinInstances   int      `mapstructure:"min_instances"`
	MaxInstances   int      `mapstructure:"max_instances"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ImageConfig describes the workload image.
type ImageConfig struct {
	Name         string `mapstructure:"name"`
	Local        string `mapstructure:"local"`
	RegistryHost string `mapstructure:"registry_host"`
	TagMode      string `mapstructure:"tag_mode"`
}

// BuildConfig names the command that produces the local image.
type BuildConfig struct {
	Command string `mapstructure:"command"`
}

// CleanupConfig holds the retention policy.
type CleanupConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Keep    int  `mapstructure:"keep"`
}

// WorkloadConfig holds the environment handed to the deployed service.
type WorkloadConfig struct {
	CredentialEnv   string            `mapstructure:"credential_env"`
	Credential      string            `mapstructure:"credential"`
	WebhookSecret   string            `mapstructure:"webhook_secret"`
	Profile         string            `mapstructure:"profile"`
	Database        WorkloadDatabase  `mapstructure:"database"`
	Certificate     string            `mapstructure:"certificate"`
	CertificateFile string            `mapstructure:"certificate_file"`
	Env             map[string]string `mapstructure:"env"`
}

// WorkloadDatabase holds the database parameters of the workload.
type WorkloadDatabase struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DatabaseConfig holds the run ledger location.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig selects and configures the artifact engine.
type DockerConfig struct {
	// Engine is "cli" (docker binary) or "sdk" (Docker engine API).
	Engine string `mapstructure:"engine"`
	Host   string `mapstructure:"host"`
}

// ServerConfig holds the ledger API server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Artifact engines.
const (
	EngineCLI = "cli"
	EngineSDK = "sdk"
)

// legacyEnv maps config keys to the variable names of the older .env layout.
var legacyEnv = map[string][]string{
	"gcp.project_id":             {"GCP_PROJECT_ID"},
	"gcp.region":                 {"GCP_REGION"},
	"service.name":               {"FUNCTION_NAME"},
	"workload.credential":        {"TELEGRAM_BOT_TOKEN"},
	"workload.webhook_secret":    {"TELEGRAM_WEBHOOK_SECRET"},
	"workload.profile":           {"SPRING_PROFILES_ACTIVE"},
	"workload.database.url":      {"DATABASE_URL"},
	"workload.database.username": {"DATABASE_USERNAME", "DB_USERNAME"},
	"workload.database.password": {"DATABASE_PASSWORD", "DB_PASSWORD"},
	"workload.certificate":       {"DATABASE_SSL_CERT"},
	"workload.certificate_file":  {"DATABASE_SSL_CERT_FILE"},
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
// A file ending in .env is read as KEY=value lines using the legacy names.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.region", "europe-west1")
	v.SetDefault("service.name", "tg-journals-function")
	v.SetDefault("service.account_id", "tg-journals-sa")
	v.SetDefault("service.roles", []string{"roles/logging.logWriter", "roles/monitoring.metricWriter"})
	v.SetDefault("service.public", true)
	v.SetDefault("service.memory", "1Gi")
	v.SetDefault("service.min_instances", 0)
	v.SetDefault("service.max_instances", 10)
	v.SetDefault("service.timeout_seconds", 300)
	v.SetDefault("image.name", "tg-journals")
	v.SetDefault("image.local", "tg-journals:latest")
	v.SetDefault("image.registry_host", "")
	v.SetDefault("image.tag_mode", string(domain.TagModeTimestamped))
	v.SetDefault("build.command", "make docker-build")
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.keep", 3)
	v.SetDefault("workload.credential_env", "TELEGRAM_BOT_TOKEN")
	v.SetDefault("workload.credential", "")
	v.SetDefault("workload.webhook_secret", "")
	v.SetDefault("workload.profile", "production")
	v.SetDefault("workload.database.url", "")
	v.SetDefault("workload.database.username", "")
	v.SetDefault("workload.database.password", "")
	v.SetDefault("workload.certificate", "")
	v.SetDefault("workload.certificate_file", "")
	v.SetDefault("database.dsn", "./data/stackship.db")
	v.SetDefault("docker.engine", EngineCLI)
	v.SetDefault("docker.host", "")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if isDotEnv(configPath) {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
		// Legacy names read from the file sit below the environment.
		for key, names := range legacyEnv {
			for _, name := range names {
				if lower := strings.ToLower(name); v.InConfig(lower) {
					v.SetDefault(key, v.Get(lower))
					break
				}
			}
		}
	}

	v.SetEnvPrefix("STACKSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func isDotEnv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || strings.HasSuffix(base, ".env")
}

// =============================================================================
// Run Configuration
// =============================================================================

// ToRunConfig builds the immutable run configuration. Validation happens in
// the orchestrator so every command reports configuration errors the same way.
func (c *Config) ToRunConfig() (domain.RunConfig, error) {
	certificate := c.Workload.Certificate
	if certificate == "" && c.Workload.CertificateFile != "" {
		data, err := os.ReadFile(c.Workload.CertificateFile)
		if err != nil {
			return domain.RunConfig{}, domain.ConfigError("certificate file", err.Error())
		}
		certificate = string(data)
	}

	// Config keys come back lowercased; variable names are upper case.
	env := make(map[string]string, len(c.Workload.Env))
	for k, v := range c.Workload.Env {
		env[strings.ToUpper(k)] = v
	}

	return domain.RunConfig{
		ProjectID:           c.GCP.ProjectID,
		Region:              c.GCP.Region,
		ServiceName:         c.Service.Name,
		ImageName:           c.Image.Name,
		LocalImage:          c.Image.Local,
		BuildCommand:        c.Build.Command,
		RegistryHost:        c.Image.RegistryHost,
		TagMode:             domain.TagMode(strings.ToLower(c.Image.TagMode)),
		KeepCount:           c.Cleanup.Keep,
		CleanupEnabled:      c.Cleanup.Enabled,
		ServiceAccountID:    c.Service.AccountID,
		ServiceAccountRoles: c.Service.Roles,
		Public:              c.Service.Public,
		Workload: domain.Workload{
			CredentialEnv: c.Workload.CredentialEnv,
			Credential:    c.Workload.Credential,
			WebhookSecret: c.Workload.WebhookSecret,
			Profile:       c.Workload.Profile,
			Database: domain.DatabaseParams{
				URL:      c.Workload.Database.URL,
				Username: c.Workload.Database.Username,
				Password: c.Workload.Database.Password,
			},
			CertificatePEM: certificate,
			Env:            env,
		},
		Sizing: domain.ServiceSizing{
			Memory:         c.Service.Memory,
			MinInstances:   c.Service.MinInstances,
			MaxInstances:   c.Service.MaxInstances,
			TimeoutSeconds: c.Service.TimeoutSeconds,
		},
	}, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to w so stdout stays free for command output.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
