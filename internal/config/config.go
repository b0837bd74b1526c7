package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// APIConfig holds project-management API credentials and tenant filters.
// Business unit and sales status GUIDs are tenant-specific and have no
// sensible defaults.
type APIConfig struct {
	ClientID         string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret     string   `yaml:"client_secret" mapstructure:"client_secret"`
	Scope            string   `yaml:"scope" mapstructure:"scope"`
	BaseURL          string   `yaml:"base_url" mapstructure:"base_url"`
	BusinessUnits    []string `yaml:"business_units" mapstructure:"business_units"`
	OfferStatuses    []string `yaml:"offer_statuses" mapstructure:"offer_statuses"`
	OrderStatus      string   `yaml:"order_status" mapstructure:"order_status"`
	FilteredKeywords []string `yaml:"filtered_keywords" mapstructure:"filtered_keywords"`
	RateLimit        float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxInFlight      int64    `yaml:"max_in_flight" mapstructure:"max_in_flight"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the background jobs run by serve.
type ScheduleConfig struct {
	SnapshotHour    int    `yaml:"snapshot_hour" mapstructure:"snapshot_hour"`
	SnapshotMinute  int    `yaml:"snapshot_minute" mapstructure:"snapshot_minute"`
	SummaryWeekday  string `yaml:"summary_weekday" mapstructure:"summary_weekday"`
	SummaryHour     int    `yaml:"summary_hour" mapstructure:"summary_hour"`
	SummarySpanDays int    `yaml:"summary_span_days" mapstructure:"summary_span_days"`
}

// NotifyConfig configures the weekly summary webhook.
type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AnthropicKey string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string `yaml:"model" mapstructure:"model"`
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
	v.SetEnvPrefix("KPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.path", "kpi.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("api.base_url", "https://api.severa.visma.com/rest-api/v1.0")
	v.SetDefault("api.scope",
		"customers:read,settings:read,invoices:read,"+
			"projects:read,users:read,resourceallocations:read,"+
			"hours:read")
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.max_in_flight", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.snapshot_hour", 2)
	v.SetDefault("schedule.snapshot_minute", 0)
	v.SetDefault("schedule.summary_weekday", "monday")
	v.SetDefault("schedule.summary_hour", 8)
	v.SetDefault("schedule.summary_span_days", 30)
	v.SetDefault("notify.model", "claude-haiku-4-5-20251001")
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

// Validate checks that required settings for the given mode are present.
// Modes: "sync", "report", "serve", "notify".
func (c *Config) Validate(mode string) error {
	var problems []string

	needStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		case "sqlite":
			if c.Store.Path == "" {
				problems = append(problems, "store.path is required")
			}
		default:
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}
	needAPI := func() {
		if c.API.ClientID == "" {
			problems = append(problems, "api.client_id is required")
		}
		if c.API.ClientSecret == "" {
			problems = append(problems, "api.client_secret is required")
		}
	}
	needNotify := func() {
		if c.Notify.WebhookURL == "" {
			problems = append(problems, "notify.webhook_url is required")
		}
	}

	switch mode {
	case "sync", "report":
		needStore()
		needAPI()
	case "notify":
		needStore()
		needAPI()
		needNotify()
	case "serve":
		needStore()
		needAPI()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Schedule.SnapshotHour < 0 || c.Schedule.SnapshotHour > 23 {
			problems = append(problems, "schedule.snapshot_hour must be between 0 and 23")
		}
		if _, err := ParseWeekday(c.Schedule.SummaryWeekday); err != nil {
			problems = append(problems, "schedule.summary_weekday is not a weekday name")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ParseWeekday maps an English weekday name to its time.Weekday value.
func ParseWeekday(name string) (time.Weekday, error) {
	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	d, ok := days[strings.ToLower(name)]
	if !ok {
		return 0, eris.Errorf("config: unknown weekday %q", name)
	}
	return d, nil
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
