package genrouter

import "fmt"

// Built-in routing strategy names.
const (
	StrategyBalanced        = "balanced"
	StrategyCostOptimized   = "cost_optimized"
	StrategyPrimaryFailover = "primary_failover"
	StrategyAdaptive        = "adaptive"
)

// RoutingStrategy maps a request and the current provider health onto the
// (provider, model) pair that should serve it.
type RoutingStrategy interface {
	Name() string
	Route(req GenerationRequest, health HealthView) (Route, error)
}

// RoutingConfig names the models the built-in strategies choose between.
type RoutingConfig struct {
	// Primary serves standard traffic.
	Primary ModelRef `yaml:"primary" json:"primary"`

	// Alternate takes over from Primary while Primary is unhealthy.
	Alternate ModelRef `yaml:"alternate" json:"alternate"`

	// Free is the guaranteed zero-cost provider used for volume traffic and
	// as the last resort.
	Free ModelRef `yaml:"free" json:"free"`

	// Premium serves premium-tier traffic.
	Premium ModelRef `yaml:"premium" json:"premium"`
}

func (c RoutingConfig) route(m ModelRef) Route {
	return Route{Provider: m.Provider, Model: m.Model}
}

func (c RoutingConfig) failover() Route {
	return Route{Provider: c.Alternate.Provider, Model: c.Alternate.Model, FailoverFrom: c.Primary.Provider}
}

// requestTier returns the tier of req, defaulting to standard.
func requestTier(req GenerationRequest) (Tier, error) {
	if req.Tier == "" {
		return TierStandard, nil
	}
	if !req.Tier.Valid() {
		return "", fmt.Errorf("%w: unknown tier %q", ErrPermanent, req.Tier)
	}
	return req.Tier, nil
}

// BalancedStrategy sends each tier to its dedicated model: premium to
// Premium, standard to Primary, volume to Free. Missing Premium or Free
// models fall back to Primary.
type BalancedStrategy struct {
	Config RoutingConfig
}

func (s *BalancedStrategy) Name() string { return StrategyBalanced }

func (s *BalancedStrategy) Route(req GenerationRequest, _ HealthView) (Route, error) {
	tier, err := requestTier(req)
	if err != nil {
		return Route{}, err
	}
	c := s.Config
	switch {
	case tier == TierPremium && !c.Premium.IsZero():
		return c.route(c.Premium), nil
	case tier == TierVolume && !c.Free.IsZero():
		return c.route(c.Free), nil
	default:
		return c.route(c.Primary), nil
	}
}

// CostOptimizedStrategy sends everything but premium traffic to Free.
type CostOptimizedStrategy struct {
	Config RoutingConfig
}

func (s *CostOptimizedStrategy) Name() string { return StrategyCostOptimized }

func (s *CostOptimizedStrategy) Route(req GenerationRequest, health HealthView) (Route, error) {
	tier, err := requestTier(req)
	if err != nil {
		return Route{}, err
	}
	c := s.Config
	if tier == TierPremium || c.Free.IsZero() {
		return (&BalancedStrategy{Config: c}).Route(GenerationRequest{Tier: tier}, health)
	}
	return c.route(c.Free), nil
}

// PrimaryFailoverStrategy moves every tier to Alternate while Primary is
// unhealthy and behaves like BalancedStrategy otherwise.
type PrimaryFailoverStrategy struct {
	Config RoutingConfig
}

func (s *PrimaryFailoverStrategy) Name() string { return StrategyPrimaryFailover }

func (s *PrimaryFailoverStrategy) Route(req GenerationRequest, health HealthView) (Route, error) {
	tier, err := requestTier(req)
	if err != nil {
		return Route{}, err
	}
	c := s.Config
	if !health.Healthy(c.Primary.Provider) && !c.Alternate.IsZero() {
		r := c.failover()
		if !health.Healthy(c.Alternate.Provider) {
			r.FailoverFrom = ""
		}
		return r, nil
	}
	return (&BalancedStrategy{Config: c}).Route(GenerationRequest{Tier: tier}, health)
}

// AdaptiveStrategy degrades step by step as providers become unhealthy:
// balanced routing while Primary is healthy, Alternate for paid tiers while
// Alternate is healthy, and Free once both paid providers are down. Volume
// traffic stays on Free as long as Free is healthy.
type AdaptiveStrategy struct {
	Config RoutingConfig
}

func (s *AdaptiveStrategy) Name() string { return StrategyAdaptive }

func (s *AdaptiveStrategy) Route(req GenerationRequest, health HealthView) (Route, error) {
	tier, err := requestTier(req)
	if err != nil {
		return Route{}, err
	}
	c := s.Config
	balanced := &BalancedStrategy{Config: c}
	if health.Healthy(c.Primary.Provider) {
		return balanced.Route(GenerationRequest{Tier: tier}, health)
	}

	freeUp := !c.Free.IsZero() && health.Healthy(c.Free.Provider)
	if !c.Alternate.IsZero() && health.Healthy(c.Alternate.Provider) {
		if tier == TierVolume && freeUp {
			return c.route(c.Free), nil
		}
		return c.failover(), nil
	}
	if !c.Free.IsZero() {
		return c.route(c.Free), nil
	}
	return balanced.Route(GenerationRequest{Tier: tier}, health)
}

// builtinStrategies returns the built-in strategies keyed by name.
func builtinStrategies(cfg RoutingConfig) map[string]RoutingStrategy {
	all := []RoutingStrategy{
		&BalancedStrategy{Config: cfg},
		&CostOptimizedStrategy{Config: cfg},
		&PrimaryFailoverStrategy{Config: cfg},
		&AdaptiveStrategy{Config: cfg},
	}
	m := make(map[string]RoutingStrategy, len(all))
	for _, s := range all {
		m[s.Name()] = s
	}
	return m
}
