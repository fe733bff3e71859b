package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application's configuration values.
type Config struct {
	DatabaseDriver string        `mapstructure:"database-driver" validate:"oneof=sqlite postgres memory"`
	DatabaseURL    string        `mapstructure:"database-url" validate:"required_unless=DatabaseDriver memory"`
	CheckInterval  time.Duration `mapstructure:"check-interval" validate:"gt=0"`
	MaxConcurrency int           `mapstructure:"max-concurrency" validate:"min=1"`
	HTTPTimeout    time.Duration `mapstructure:"http-timeout" validate:"gt=0"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown-grace" validate:"gte=0"`
	HTTPPort       string        `mapstructure:"http-port" validate:"required,numeric"`
	ServerURL      string        `mapstructure:"server-url"`
	TapInterval    time.Duration `mapstructure:"tap-interval" validate:"gte=0"`
	APIRateLimit   float64       `mapstructure:"api-rate-limit" validate:"gte=0"`
	APIBurst       int           `mapstructure:"api-burst" validate:"min=1"`
	LogLevel       string        `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	MonitorEnabled bool          `mapstructure:"monitor-enabled"`
	ConfigFile     string        `mapstructure:"config"`
}

// Load reads configuration from command-line flags, environment variables
// and an optional YAML file, with sane defaults. Precedence is flag, then
// environment, then file. Each flag maps to the upper-snake-case variable
// of the same name (--http-port is HTTP_PORT) and to the same key in the file.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("serverlink", pflag.ContinueOnError)
	fs.String("database-driver", "sqlite", "storage driver: sqlite, postgres or memory")
	fs.String("database-url", "serverlink.db", "database file (sqlite) or connection string (postgres)")
	fs.Duration("check-interval", 15*time.Second, "interval between monitor rounds")
	fs.Int("max-concurrency", 8, "monitor worker count")
	fs.Duration("http-timeout", 5*time.Second, "timeout for outbound HTTP requests")
	fs.Duration("shutdown-grace", 10*time.Second, "time allowed for graceful shutdown")
	fs.String("http-port", "8080", "port the API listens on")
	fs.String("server-url", "", "server to connect to on startup")
	fs.Duration("tap-interval", 750*time.Millisecond, "minimum interval between repeated user actions")
	fs.Float64("api-rate-limit", 0, "outbound REST requests per second, 0 for unlimited")
	fs.Int("api-burst", 10, "outbound REST request burst")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Bool("monitor-enabled", true, "run the background server monitor")
	configFile := fs.String("config", "", "optional YAML config file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel converts LogLevel for slog.HandlerOptions.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
