package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env              string        `mapstructure:"env"`
	HTTPPort         string        `mapstructure:"http_port"`
	LogLevel         string        `mapstructure:"log_level"`
	DatabaseURL      string        `mapstructure:"database_url"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	BidRetryLimit    int           `mapstructure:"bid_retry_limit"`
	CommissionRate   float64       `mapstructure:"commission_rate"`
	FanoutWorkers    int           `mapstructure:"fanout_workers"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	SeedDemoData     bool          `mapstructure:"seed_demo_data"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("sweep_interval", "60s")
	v.SetDefault("bid_retry_limit", 3)
	v.SetDefault("commission_rate", 0.05)
	v.SetDefault("fanout_workers", 4)
	v.SetDefault("subscriber_buffer", 64)
	v.SetDefault("seed_demo_data", false)
}

// Load reads defaults, then an optional config.yaml from the working directory
// or ./configs, then AUCTION_* environment variables.
func Load(paths ...string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("auction")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return Config{}, fmt.Errorf("config: read: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.HTTPPort == "":
		return errors.New("config: http_port is required")
	case c.SweepInterval <= 0:
		return fmt.Errorf("config: sweep_interval must be positive, got %s", c.SweepInterval)
	case c.BidRetryLimit < 0:
		return fmt.Errorf("config: bid_retry_limit must not be negative, got %d", c.BidRetryLimit)
	case c.CommissionRate < 0 || c.CommissionRate >= 1:
		return fmt.Errorf("config: commission_rate must be in [0, 1), got %v", c.CommissionRate)
	case c.FanoutWorkers <= 0:
		return fmt.Errorf("config: fanout_workers must be positive, got %d", c.FanoutWorkers)
	}
	return nil
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.HTTPPort, ":")
}

// Commission returns the seller commission rate as a decimal
func (c Config) Commission() decimal.Decimal {
	return decimal.NewFromFloat(c.CommissionRate)
}

// UsesPostgres reports whether a database URL was configured
func (c Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}
