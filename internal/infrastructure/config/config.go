package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Rules       RulesConfig       `koanf:"rules"`
	Attestation AttestationConfig `koanf:"attestation"`
	Decision    DecisionConfig    `koanf:"decision"`
	Audit       AuditConfig       `koanf:"audit"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	// Enabled turns on the distributed invalidation layer of the rule
	// cache. The process-local cache works without it.
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RulesConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type AttestationConfig struct {
	LabFreshness time.Duration `koanf:"lab_freshness"`
}

type DecisionConfig struct {
	AITimeout            time.Duration `koanf:"ai_timeout"`
	ProbabilityThreshold float64       `koanf:"probability_threshold"`
	MaxDiagnoses         int           `koanf:"max_diagnoses"`
	QualityWorkers       int           `koanf:"quality_workers"`
	QualityQueueSize     int           `koanf:"quality_queue_size"`
}

type AuditConfig struct {
	ServiceName string `koanf:"service_name"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		Rules: RulesConfig{
			CacheTTL: 60 * time.Second,
		},
		Attestation: AttestationConfig{
			LabFreshness: 72 * time.Hour,
		},
		Decision: DecisionConfig{
			AITimeout:            10 * time.Second,
			ProbabilityThreshold: 0.3,
			MaxDiagnoses:         3,
			QualityWorkers:       2,
			QualityQueueSize:     64,
		},
		Audit: AuditConfig{
			ServiceName: "governance-core",
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// Config file is optional; defaults plus environment cover dev setups.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("CGB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CGB_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
