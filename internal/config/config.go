package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxSeverityTier is the highest notification severity tier. Tiers beyond
// this are clamped, both when parsing email prefixes and when escalating.
const MaxSeverityTier = 3

// Config holds the complete application configuration.
type Config struct {
	Graph    GraphConfig    `mapstructure:"graph"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Report   ReportConfig   `mapstructure:"report"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// GraphConfig defines the presence provider endpoint and identity.
type GraphConfig struct {
	Authority     string `mapstructure:"authority"`
	ClientID      string `mapstructure:"client_id"`
	LoginUsername string `mapstructure:"login_username"`
	// Token is a pre-acquired bearer token. Token acquisition is an
	// external concern; the env override PRESENCED_GRAPH_TOKEN is the
	// usual way to supply it.
	Token    string `mapstructure:"token"`
	Endpoint string `mapstructure:"endpoint"`
}

// TrackingConfig defines the polling window and the tracked population.
type TrackingConfig struct {
	PingSeconds int `mapstructure:"ping_seconds"`
	StartHour   int `mapstructure:"start_hour"`
	EndHour     int `mapstructure:"end_hour"`
	// UserEmails may carry an escalation marker: 0-3 leading '+'
	// characters set the user's severity tier.
	UserEmails []string `mapstructure:"user_emails"`
	// KeepFlicker persists zero-duration intervals instead of dropping
	// them.
	KeepFlicker         bool   `mapstructure:"keep_flicker"`
	EscalationThreshold string `mapstructure:"escalation_threshold"`
}

// ReportConfig defines report aggregation settings.
type ReportConfig struct {
	Days      int    `mapstructure:"days"`
	OutputDir string `mapstructure:"output_dir"`
}

// TimelineConfig defines timeline layout output settings.
type TimelineConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// NotifyConfig defines the gotify-style notification transport.
type NotifyConfig struct {
	URL    string   `mapstructure:"url"`
	Tokens []string `mapstructure:"tokens"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis backend connection.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// TrackedUser is one entry of tracking.user_emails with its escalation
// marker resolved.
type TrackedUser struct {
	Mail string
	Tier int
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("PRESENCED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees env values for bound keys, and the token is the
	// one secret routinely supplied through the environment.
	_ = v.BindEnv("graph.token")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Graph defaults
	v.SetDefault("graph.authority", "https://login.microsoftonline.com")
	v.SetDefault("graph.endpoint", "https://graph.microsoft.com/v1.0")

	// Tracking defaults
	v.SetDefault("tracking.ping_seconds", 60)
	v.SetDefault("tracking.start_hour", 9)
	v.SetDefault("tracking.end_hour", 15)
	v.SetDefault("tracking.user_emails", []string{})
	v.SetDefault("tracking.keep_flicker", false)
	v.SetDefault("tracking.escalation_threshold", "60m")

	// Report and timeline defaults
	v.SetDefault("report.days", 30)
	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("timeline.output_dir", "timelines")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "presenced.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9465)
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Tracking.PingSeconds <= 0 {
		return fmt.Errorf("tracking.ping_seconds must be positive, got %d", cfg.Tracking.PingSeconds)
	}
	if cfg.Tracking.StartHour < 0 || cfg.Tracking.StartHour > 23 {
		return fmt.Errorf("tracking.start_hour out of range: %d", cfg.Tracking.StartHour)
	}
	if cfg.Tracking.EndHour < 0 || cfg.Tracking.EndHour > 23 {
		return fmt.Errorf("tracking.end_hour out of range: %d", cfg.Tracking.EndHour)
	}
	if cfg.Tracking.StartHour == cfg.Tracking.EndHour {
		return fmt.Errorf("tracking window is empty: start_hour and end_hour are both %d", cfg.Tracking.StartHour)
	}
	if _, err := time.ParseDuration(cfg.Tracking.EscalationThreshold); err != nil {
		return fmt.Errorf("invalid tracking.escalation_threshold: %w", err)
	}
	if cfg.Report.Days < 1 {
		return fmt.Errorf("report.days must be at least 1, got %d", cfg.Report.Days)
	}
	switch cfg.Storage.Type {
	case "bolt", "redis":
	default:
		return fmt.Errorf("unknown storage.type %q (must be bolt or redis)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the bolt backend")
	}
	for _, entry := range cfg.Tracking.UserEmails {
		if strings.TrimLeft(entry, "+") == "" {
			return fmt.Errorf("tracking.user_emails entry %q has no address", entry)
		}
	}
	return nil
}

// PingInterval returns the polling cadence as a duration.
func (c *TrackingConfig) PingInterval() time.Duration {
	return time.Duration(c.PingSeconds) * time.Second
}

// EscalationDuration returns the parsed escalation threshold. Validation
// guarantees the field parses.
func (c *TrackingConfig) EscalationDuration() time.Duration {
	d, _ := time.ParseDuration(c.EscalationThreshold)
	return d
}

// TrackedUsers resolves the configured email list into addresses and
// severity tiers. Leading '+' characters on an entry raise the tier, one
// level each, clamped to MaxSeverityTier. Addresses are lowercased.
func (c *TrackingConfig) TrackedUsers() []TrackedUser {
	users := make([]TrackedUser, 0, len(c.UserEmails))
	for _, entry := range c.UserEmails {
		mail := strings.TrimLeft(entry, "+")
		tier := len(entry) - len(mail)
		if tier > MaxSeverityTier {
			tier = MaxSeverityTier
		}
		users = append(users, TrackedUser{
			Mail: strings.ToLower(mail),
			Tier: tier,
		})
	}
	return users
}

// Mails returns just the tracked addresses, in configuration order.
func (c *TrackingConfig) Mails() []string {
	tracked := c.TrackedUsers()
	mails := make([]string, len(tracked))
	for i, user := range tracked {
		mails[i] = user.Mail
	}
	return mails
}
