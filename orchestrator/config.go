// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/cost"
	"github.com/lvruyi0102/nova-mind-router/orchestrator/selection"
)

// BackendConfig declares one backend in the config file. Kind selects
// the invoker wiring; http backends are the only remote kind and
// require an endpoint.
type BackendConfig struct {
	ID          string  `yaml:"id"`
	DisplayName string  `yaml:"display_name"`
	Kind        string  `yaml:"kind"`
	Endpoint    string  `yaml:"endpoint"`
	CostPerCall float64 `yaml:"cost_per_call"`

	// CredentialEnv names the environment variable holding the API
	// credential. Credentials never live in the config file itself.
	CredentialEnv string `yaml:"credential_env"`
}

// Validate checks one backend declaration.
func (b BackendConfig) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("backend missing id")
	}
	switch backend.Kind(b.Kind) {
	case backend.KindPremium, backend.KindLocalEconomy, backend.KindLocalZeroCost, backend.KindCustom:
	default:
		return fmt.Errorf("backend %s: unknown kind %q", b.ID, b.Kind)
	}
	if b.Endpoint == "" {
		return fmt.Errorf("backend %s: missing endpoint", b.ID)
	}
	if b.CostPerCall < 0 {
		return fmt.Errorf("backend %s: negative cost per call", b.ID)
	}
	return nil
}

// Descriptor converts the declaration into a registry descriptor.
func (b BackendConfig) Descriptor() backend.Descriptor {
	credential := ""
	if b.CredentialEnv != "" {
		credential = os.Getenv(b.CredentialEnv)
	}
	return backend.Descriptor{
		ID:          b.ID,
		DisplayName: b.DisplayName,
		Kind:        backend.Kind(b.Kind),
		Endpoint:    b.Endpoint,
		Credential:  credential,
		CostPerCall: b.CostPerCall,
	}
}

// Config is the router's full configuration.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisAddr   string `yaml:"redis_addr"`

	GuardrailPolicyPath string `yaml:"guardrail_policy_path"`
	InitialObjective    string `yaml:"initial_objective"`

	CacheTTL            time.Duration `yaml:"cache_ttl"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`
	ProbeInterval       time.Duration `yaml:"probe_interval"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	BudgetCheckInterval time.Duration `yaml:"budget_check_interval"`
	RetentionHorizon    time.Duration `yaml:"retention_horizon"`

	Budget   cost.BudgetConfig `yaml:"budget"`
	Backends []BackendConfig   `yaml:"backends"`
}

// DefaultConfig returns the baseline configuration before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Port:                "8081",
		InitialObjective:    string(selection.ObjectiveBalanced),
		CacheTTL:            15 * time.Minute,
		AttemptTimeout:      30 * time.Second,
		ProbeInterval:       5 * time.Minute,
		SweepInterval:       5 * time.Minute,
		BudgetCheckInterval: time.Hour,
		RetentionHorizon:    cost.DefaultRetentionHorizon,
		Budget:              cost.DefaultBudgetConfig(100),
	}
}

// LoadConfig reads the YAML config file at path, then applies
// environment overrides. An empty path skips the file and uses defaults
// plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.GuardrailPolicyPath = getEnv("GUARDRAIL_POLICY_PATH", cfg.GuardrailPolicyPath)
	cfg.InitialObjective = getEnv("INITIAL_OBJECTIVE", cfg.InitialObjective)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
	if !selection.IsValidObjective(c.InitialObjective) {
		return fmt.Errorf("invalid initial objective %q", c.InitialObjective)
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	premiums := 0
	for _, b := range c.Backends {
		if err := b.Validate(); err != nil {
			return err
		}
		if backend.Kind(b.Kind) == backend.KindPremium {
			premiums++
		}
	}
	if premiums > 1 {
		return fmt.Errorf("at most one premium backend may be configured, got %d", premiums)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
