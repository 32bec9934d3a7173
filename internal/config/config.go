package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"live-quiz-service/internal/domain"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverNATS     = "nats"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Store struct {
		Driver string `yaml:"driver"`
	} `yaml:"store"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Notify struct {
		Driver string `yaml:"driver"`
	} `yaml:"notify"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Identity struct {
		TTL string `yaml:"ttl"`
	} `yaml:"identity"`
	RankCache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"rankCache"`
	Reveal struct {
		Interval string `yaml:"interval"`
	} `yaml:"reveal"`
	Scoring struct {
		Weights []int `yaml:"weights"`
	} `yaml:"scoring"`
}

// Load reads YAML config from path and fills defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default is the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Notify.Driver == "" {
		c.Notify.Driver = DriverMemory
	}
}

// Validate checks that every selected driver has what it needs.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return errors.New("postgres store requires postgres.url")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Notify.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.URL == "" {
			return errors.New("postgres notify requires postgres.url")
		}
		if c.Store.Driver != DriverPostgres {
			return errors.New("postgres notify requires the postgres store")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis notify requires redis.addr")
		}
	case DriverNATS:
		if c.NATS.URL == "" {
			return errors.New("nats notify requires nats.url")
		}
	default:
		return fmt.Errorf("unknown notify driver %q", c.Notify.Driver)
	}

	if _, err := c.Weights(); err != nil {
		return err
	}
	return nil
}

// Weights returns the configured award tiers or the defaults.
func (c Config) Weights() (domain.Weights, error) {
	raw := c.Scoring.Weights
	if len(raw) == 0 {
		return domain.DefaultWeights, nil
	}
	if len(raw) != 3 {
		return domain.Weights{}, fmt.Errorf("scoring.weights needs 3 values, got %d", len(raw))
	}
	w := domain.Weights{First: raw[0], Second: raw[1], Other: raw[2]}
	if err := w.Validate(); err != nil {
		return domain.Weights{}, err
	}
	return w, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
