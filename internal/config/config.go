package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	PostHog     PostHogConfig     `yaml:"posthog" mapstructure:"posthog"`
	Attribution AttributionConfig `yaml:"attribution" mapstructure:"attribution"`
	Capture     CaptureConfig     `yaml:"capture" mapstructure:"capture"`
	Widget      WidgetConfig      `yaml:"widget" mapstructure:"widget"`
	Flags       FlagsConfig       `yaml:"flags" mapstructure:"flags"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Maps        MapsConfig        `yaml:"maps" mapstructure:"maps"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	DevMode     bool     `yaml:"dev_mode" mapstructure:"dev_mode"`

	// ErrorTrackingRPS bounds the error-tracking endpoint; a broken page
	// can report the same error in a tight loop.
	ErrorTrackingRPS   float64 `yaml:"error_tracking_rps" mapstructure:"error_tracking_rps"`
	ErrorTrackingBurst int     `yaml:"error_tracking_burst" mapstructure:"error_tracking_burst"`
}

// PostHogConfig holds analytics forwarding settings. An empty APIKey disables
// forwarding; capture then degrades to a recorded no-op.
type PostHogConfig struct {
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	Host             string `yaml:"host" mapstructure:"host"`
	FlushTimeoutSecs int    `yaml:"flush_timeout_secs" mapstructure:"flush_timeout_secs"`
}

// AttributionConfig configures session attribution caching.
type AttributionConfig struct {
	SessionTTLHours int `yaml:"session_ttl_hours" mapstructure:"session_ttl_hours"`
}

// CaptureConfig configures the event capture facade.
type CaptureConfig struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`

	// Engagement flusher settings (session_quality event).
	EngagementIntervalSecs int     `yaml:"engagement_interval_secs" mapstructure:"engagement_interval_secs"`
	EngagementThreshold    float64 `yaml:"engagement_threshold" mapstructure:"engagement_threshold"`
}

// WidgetConfig configures the scheduling-embed lifecycle manager.
type WidgetConfig struct {
	PollIntervalMs  int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	PollMaxAttempts int    `yaml:"poll_max_attempts" mapstructure:"poll_max_attempts"`
	FallbackURL     string `yaml:"fallback_url" mapstructure:"fallback_url"`
	FallbackPhone   string `yaml:"fallback_phone" mapstructure:"fallback_phone"`
}

// FlagsConfig holds server-side feature flag defaults for the bootstrap
// payload.
type FlagsConfig struct {
	Defaults map[string]bool `yaml:"defaults" mapstructure:"defaults"`
}

// SalesforceConfig holds optional CRM hand-off credentials. All fields empty
// means the CRM sink is disabled.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// MapsConfig holds the optional Google Maps browser key exposed via bootstrap.
type MapsConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "campaign-tracker.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.error_tracking_rps", 5.0)
	v.SetDefault("server.error_tracking_burst", 10)
	v.SetDefault("posthog.host", "https://us.i.posthog.com")
	v.SetDefault("posthog.flush_timeout_secs", 5)
	v.SetDefault("attribution.session_ttl_hours", 4)
	v.SetDefault("capture.buffer_size", 100)
	v.SetDefault("capture.engagement_interval_secs", 15)
	v.SetDefault("capture.engagement_threshold", 30)
	v.SetDefault("widget.poll_interval_ms", 500)
	v.SetDefault("widget.poll_max_attempts", 10)
	v.SetDefault("widget.fallback_url", "https://calendly.com/meridian-keys/showroom")
	v.SetDefault("widget.fallback_phone", "(972) 555-0143")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
