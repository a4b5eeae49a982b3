package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration, loaded from LICENSED_* env vars.
type Config struct {
	Profile   string          `envconfig:"PROFILE" default:"dev" validate:"oneof=dev prod test"`
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	License   LicenseConfig   `envconfig:"LICENSE"`
	Sweep     SweepConfig     `envconfig:"SWEEP"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Discord   DiscordConfig   `envconfig:"DISCORD"`
	Telemetry TelemetryConfig `envconfig:"OTEL"`
	Logging   LoggingConfig   `envconfig:"LOG"`
}

type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	DrainTimeout    time.Duration `envconfig:"DRAIN_TIMEOUT" default:"5s"`
	RateLimitRPM    int           `envconfig:"RATE_LIMIT_RPM" default:"600" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver string `envconfig:"DRIVER" default:"sqlite" validate:"oneof=sqlite postgres"`
	DSN    string `envconfig:"DSN" default:"licenses.db" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-only-secret-change-me-in-prod!!"`
	Issuer    string `envconfig:"ISSUER" default:"license-bot"`
	Audience  string `envconfig:"AUDIENCE" default:"license-admin"`
	// Operators are the subject ids allowed to call the admin API.
	Operators []string `envconfig:"OPERATORS"`
	// APIKeyHashes are bcrypt hashes of static keys for non-JWT automation.
	APIKeyHashes []string `envconfig:"API_KEY_HASHES"`
}

type LicenseConfig struct {
	DefaultTTLDays  int           `envconfig:"DEFAULT_TTL_DAYS" default:"30" validate:"gt=0"`
	MaxResetsPerDay int           `envconfig:"MAX_RESETS_PER_DAY" default:"3" validate:"gt=0"`
	WarningWindow   time.Duration `envconfig:"WARNING_WINDOW" default:"72h" validate:"gt=0"`
}

type SweepConfig struct {
	Interval time.Duration `envconfig:"INTERVAL" default:"60s" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled     bool          `envconfig:"ENABLED" default:"false"`
	Addr        string        `envconfig:"ADDR" default:"localhost:6379"`
	NegativeTTL time.Duration `envconfig:"NEGATIVE_TTL" default:"30s"`
}

type DiscordConfig struct {
	Token     string   `envconfig:"TOKEN"`
	Prefix    string   `envconfig:"PREFIX" default:"!"`
	GuildID   string   `envconfig:"GUILD_ID"`
	VIPRoleID string   `envconfig:"VIP_ROLE_ID"`
	Operators []string `envconfig:"OPERATORS"`
}

type TelemetryConfig struct {
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"false"`
	TracesEnabled   bool          `envconfig:"TRACES_ENABLED" default:"false"`
	LogsEnabled     bool          `envconfig:"LOGS_ENABLED" default:"false"`
	Endpoint        string        `envconfig:"EXPORTER_ENDPOINT" default:"localhost:4317"`
	Insecure        bool          `envconfig:"EXPORTER_INSECURE" default:"true"`
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"license-bot"`
	Environment     string        `envconfig:"ENVIRONMENT" default:"dev"`
	MetricsInterval time.Duration `envconfig:"METRICS_EXPORT_INTERVAL" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"3s"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
}

// Load reads LICENSED_* environment variables and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LICENSED", &cfg); err != nil {
		err = fmt.Errorf("parse env config: %w", err)
		recordConfigValidationEvent(context.Background(), cfg.Profile, "error", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(context.Background(), cfg.Profile, "error", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Profile, "success", "none")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if normalizeConfigProfile(c.Profile) == "prod" {
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes in prod")
		}
		if len(c.Auth.Operators) == 0 && len(c.Auth.APIKeyHashes) == 0 {
			return fmt.Errorf("prod requires at least one operator or API key")
		}
	}
	if c.Discord.Token != "" {
		if c.Discord.GuildID == "" || c.Discord.VIPRoleID == "" {
			return fmt.Errorf("DISCORD_GUILD_ID and DISCORD_VIP_ROLE_ID are required when a bot token is set")
		}
	}
	return nil
}

// DefaultTTL is the issue duration used when an operator does not name one.
func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.License.DefaultTTLDays) * 24 * time.Hour
}
