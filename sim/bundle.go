package sim

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/utils/clock"
)

// FarmConfig holds the full farm configuration, loadable from a YAML file.
// Zero-valued fields mean "not set in YAML"; ApplyDefaults fills them.
// Knobs for which zero is a meaningful setting are pointers, so nil means
// unset and an explicit zero is kept.
type FarmConfig struct {
	Routing    string         `yaml:"routing"`
	Servers    []ServerSpec   `yaml:"servers"`
	Autoscaler AutoscalerSpec `yaml:"autoscaler"`
	Traffic    TrafficSpec    `yaml:"traffic"`
}

// ServerSpec describes one server registered at startup.
type ServerSpec struct {
	ID           string        `yaml:"id"`
	Capacity     int           `yaml:"capacity"`
	ResponseTime time.Duration `yaml:"response_time"`
	Weight       *int          `yaml:"weight"` // nil = capacity
}

// AutoscalerSpec mirrors AutoscalerConfig in YAML form.
type AutoscalerSpec struct {
	Enabled               *bool          `yaml:"enabled"`
	MinServers            int            `yaml:"min_servers"`
	MaxServers            int            `yaml:"max_servers"`
	Interval              time.Duration  `yaml:"interval"`
	Cooldown              *time.Duration `yaml:"cooldown"`
	ScaleUpThreshold      float64        `yaml:"scale_up_threshold"`
	ScaleDownThreshold    *float64       `yaml:"scale_down_threshold"`
	NewServerCapacity     int            `yaml:"new_server_capacity"`
	NewServerResponseTime time.Duration  `yaml:"new_server_response_time"`
	NamePrefix            string         `yaml:"name_prefix"`
}

// TrafficSpec configures the synthetic traffic source.
type TrafficSpec struct {
	Pattern  string        `yaml:"pattern"`
	Rate     *float64      `yaml:"rate"` // base requests per second
	Tick     time.Duration `yaml:"tick"`
	RampStep *float64      `yaml:"ramp_step"`
	Seed     *int64        `yaml:"seed"`
}

// Traffic defaults shared by ApplyDefaults and the CLI flags.
const (
	DefaultTrafficPattern  = "burst"
	DefaultTrafficRate     = 4.0
	DefaultTrafficTick     = time.Second
	DefaultTrafficRampStep = 0.5
	DefaultTrafficSeed     = int64(42)
)

// DefaultFarmConfig returns the stock farm: two primaries behind a rotating
// router, the default autoscaler, and bursty traffic.
func DefaultFarmConfig() *FarmConfig {
	cfg := &FarmConfig{
		Routing: string(AlgoRotating),
		Servers: []ServerSpec{
			{ID: "primary-1", Capacity: 3, ResponseTime: 400 * time.Millisecond},
			{ID: "primary-2", Capacity: 4, ResponseTime: 500 * time.Millisecond},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFarmConfig reads and parses a YAML farm configuration file.
// Unknown keys are rejected so that typos surface as errors.
func LoadFarmConfig(path string) (*FarmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading farm config: %w", err)
	}
	var cfg FarmConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing farm config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields from DefaultAutoscalerConfig and the
// traffic defaults.
func (c *FarmConfig) ApplyDefaults() {
	if c.Routing == "" {
		c.Routing = string(AlgoRotating)
	}
	d := DefaultAutoscalerConfig()
	a := &c.Autoscaler
	if a.Enabled == nil {
		enabled := true
		a.Enabled = &enabled
	}
	if a.MinServers == 0 {
		a.MinServers = d.MinServers
	}
	if a.MaxServers == 0 {
		a.MaxServers = d.MaxServers
	}
	if a.Interval == 0 {
		a.Interval = d.Interval
	}
	if a.Cooldown == nil {
		a.Cooldown = &d.Cooldown
	}
	if a.ScaleUpThreshold == 0 {
		a.ScaleUpThreshold = d.ScaleUpThreshold
	}
	if a.ScaleDownThreshold == nil {
		a.ScaleDownThreshold = &d.ScaleDownThreshold
	}
	if a.NewServerCapacity == 0 {
		a.NewServerCapacity = d.NewServerCapacity
	}
	if a.NewServerResponseTime == 0 {
		a.NewServerResponseTime = d.NewServerResponseTime
	}
	if a.NamePrefix == "" {
		a.NamePrefix = d.NamePrefix
	}
	t := &c.Traffic
	if t.Pattern == "" {
		t.Pattern = DefaultTrafficPattern
	}
	if t.Rate == nil {
		rate := DefaultTrafficRate
		t.Rate = &rate
	}
	if t.Tick == 0 {
		t.Tick = DefaultTrafficTick
	}
	if t.RampStep == nil {
		step := DefaultTrafficRampStep
		t.RampStep = &step
	}
	if t.Seed == nil {
		seed := DefaultTrafficSeed
		t.Seed = &seed
	}
}

// AutoscalerConfig converts the YAML autoscaler section. Unset pointer
// knobs fall back to DefaultAutoscalerConfig.
func (c *FarmConfig) AutoscalerConfig() AutoscalerConfig {
	a := c.Autoscaler
	d := DefaultAutoscalerConfig()
	return AutoscalerConfig{
		MinServers:            a.MinServers,
		MaxServers:            a.MaxServers,
		Interval:              a.Interval,
		Cooldown:              valueOr(a.Cooldown, d.Cooldown),
		ScaleUpThreshold:      a.ScaleUpThreshold,
		ScaleDownThreshold:    valueOr(a.ScaleDownThreshold, d.ScaleDownThreshold),
		NewServerCapacity:     a.NewServerCapacity,
		NewServerResponseTime: a.NewServerResponseTime,
		NamePrefix:            a.NamePrefix,
	}
}

// TrafficRate returns the configured base rate, or the default when unset.
func (c *FarmConfig) TrafficRate() float64 {
	return valueOr(c.Traffic.Rate, DefaultTrafficRate)
}

// TrafficRampStep returns the configured gradual ramp step, or the default.
func (c *FarmConfig) TrafficRampStep() float64 {
	return valueOr(c.Traffic.RampStep, DefaultTrafficRampStep)
}

// TrafficSeed returns the configured seed, or the default.
func (c *FarmConfig) TrafficSeed() int64 {
	return valueOr(c.Traffic.Seed, DefaultTrafficSeed)
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// AutoscalerEnabled reports whether the autoscaler should run.
func (c *FarmConfig) AutoscalerEnabled() bool {
	return c.Autoscaler.Enabled == nil || *c.Autoscaler.Enabled
}

// Validate checks the routing policy, every server spec and the autoscaler
// section. Server IDs must be unique: the router itself does not enforce it.
func (c *FarmConfig) Validate() error {
	if _, err := ParseRoutingAlgo(c.Routing); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d]: id must not be empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if s.Capacity <= 0 {
			return fmt.Errorf("server %q: capacity must be > 0, got %d", s.ID, s.Capacity)
		}
		if s.ResponseTime <= 0 {
			return fmt.Errorf("server %q: response_time must be > 0, got %v", s.ID, s.ResponseTime)
		}
		if s.Weight != nil && *s.Weight < 0 {
			return fmt.Errorf("server %q: weight must be >= 0, got %d", s.ID, *s.Weight)
		}
	}
	if c.AutoscalerEnabled() {
		if err := c.AutoscalerConfig().Validate(); err != nil {
			return fmt.Errorf("autoscaler: %w", err)
		}
	}
	if c.TrafficRate() < 0 {
		return errors.New("traffic rate must be non-negative")
	}
	return nil
}

// BuildServers constructs the configured servers in file order.
func (c *FarmConfig) BuildServers(clk clock.Clock) []*Server {
	servers := make([]*Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		opts := []ServerOption{WithClock(clk)}
		if s.Weight != nil {
			opts = append(opts, WithWeight(*s.Weight))
		}
		servers = append(servers, NewServer(s.ID, s.Capacity, s.ResponseTime, opts...))
	}
	return servers
}
