package genrouter

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level router configuration.
type Config struct {
	// Selection names the account selection strategy
	// (round_robin, least_used, priority, random, cost_optimized).
	Selection string `yaml:"selection" validate:"omitempty,oneof=round_robin least_used priority random cost_optimized"`

	// Strategy is the routing strategy used when Generate is called without one.
	Strategy string `yaml:"strategy"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval" validate:"gte=0"`

	Providers []ProviderSpec  `yaml:"providers" validate:"required,min=1,dive"`
	Accounts  []AccountConfig `yaml:"accounts" validate:"required,min=1,dive"`
	Routing   RoutingConfig   `yaml:"routing"`
}

var validate = validator.New()

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("genrouter: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("genrouter: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("genrouter: config: %s: failed %q validation", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("genrouter: config: %w", err)
	}

	providers := make(map[string]ProviderSpec, len(c.Providers))
	for i, p := range c.Providers {
		if _, dup := providers[p.Name]; dup {
			return fmt.Errorf("genrouter: config: duplicate provider %q", p.Name)
		}
		providers[p.Name] = p
		for j, d := range p.Retry.Delays {
			if d < 0 {
				return fmt.Errorf("genrouter: config: providers[%d] (%s): retry.delays[%d] is negative", i, p.Name, j)
			}
		}
	}

	ids := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if ids[acc.ID] {
			return fmt.Errorf("genrouter: config: duplicate account id %q", acc.ID)
		}
		ids[acc.ID] = true

		if _, ok := providers[acc.Provider]; !ok {
			return fmt.Errorf("genrouter: config: account[%d] (%s): unknown provider %q", i, acc.ID, acc.Provider)
		}
		for _, fc := range acc.FreeCapabilities {
			if !slices.Contains(acc.Capabilities, fc) {
				return fmt.Errorf("genrouter: config: account[%d] (%s): free capability %q is not declared", i, acc.ID, fc)
			}
		}
	}

	if c.Routing.Primary.IsZero() {
		return fmt.Errorf("genrouter: config: routing.primary is required")
	}
	refs := []struct {
		name string
		ref  ModelRef
	}{
		{"primary", c.Routing.Primary},
		{"alternate", c.Routing.Alternate},
		{"free", c.Routing.Free},
		{"premium", c.Routing.Premium},
	}
	for _, r := range refs {
		name, ref := r.name, r.ref
		if ref.IsZero() {
			continue
		}
		if ref.Model == "" {
			return fmt.Errorf("genrouter: config: routing.%s: model is required", name)
		}
		if _, ok := providers[ref.Provider]; !ok {
			return fmt.Errorf("genrouter: config: routing.%s: unknown provider %q", name, ref.Provider)
		}
	}

	switch c.Strategy {
	case "", StrategyBalanced, StrategyCostOptimized, StrategyPrimaryFailover, StrategyAdaptive:
	default:
		return fmt.Errorf("genrouter: config: %w %q", ErrUnknownStrategy, c.Strategy)
	}

	return nil
}

