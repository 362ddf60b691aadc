package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, read from the environment.
type Config struct {
	Port      string `env:"PORT" envDefault:"8010"`
	JWTSecret string `env:"JWT_SECRET,required"`

	DatabaseURL   string        `env:"DATABASE_URL"`
	NATSURL       string        `env:"NATS_URL"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	EtcdEndpoints []string      `env:"ETCD_ENDPOINTS" envSeparator:","`
	InfluxURL     string        `env:"INFLUX_URL"`
	InfluxToken   string        `env:"INFLUX_TOKEN"`
	InfluxOrg     string        `env:"INFLUX_ORG" envDefault:"timemarket"`
	InfluxBucket  string        `env:"INFLUX_BUCKET" envDefault:"operations"`
	SnapshotEvery time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"30s"`

	// Genesis economic parameters.
	Operator            string        `env:"OPERATOR_ACCOUNT,required"`
	Tariff              uint64        `env:"TARIFF" envDefault:"500"`
	AccountCeiling      uint64        `env:"ACCOUNT_CEILING" envDefault:"1000"`
	FeePercent          uint64        `env:"FEE_PERCENT" envDefault:"5"`
	CompensationPercent uint64        `env:"COMPENSATION_PERCENT" envDefault:"50"`
	GlobalCap           uint64        `env:"GLOBAL_CAP" envDefault:"100000"`
	SessionUnit         time.Duration `env:"SESSION_UNIT" envDefault:"1h"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.FeePercent > 20 {
		return nil, fmt.Errorf("FEE_PERCENT must be 0-20, got %d", cfg.FeePercent)
	}
	if cfg.CompensationPercent > 100 {
		return nil, fmt.Errorf("COMPENSATION_PERCENT must be 0-100, got %d", cfg.CompensationPercent)
	}
	return cfg, nil
}
