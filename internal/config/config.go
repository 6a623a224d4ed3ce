package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// Environment overrides, applied after the file.
const (
	EnvDatabase  = "SIMCERT_DB"
	EnvHTTPAddr  = "SIMCERT_HTTP_ADDR"
	EnvGRPCAddr  = "SIMCERT_GRPC_ADDR"
	EnvGateRules = "SIMCERT_GATE_RULES"
)

// #region config
// Config is the on-disk configuration. Each section mirrors one domain
// config and converts to it with a To* method.
type Config struct {
	Database      string `yaml:"database"`
	HTTPAddr      string `yaml:"http_addr"`
	GRPCAddr      string `yaml:"grpc_addr"`
	GateRulesPath string `yaml:"gate_rules_path"`
	GateRules     string `yaml:"gate_rules"`

	Tenant   string `yaml:"tenant"`
	Service  string `yaml:"service"`
	BaseAxes []Axis `yaml:"base_axes"`

	Trust      TrustSection      `yaml:"trust"`
	Governance GovernanceSection `yaml:"governance"`
	Omega      OmegaSection      `yaml:"omega"`
}

// Axis is a baseline certification axis.
type Axis struct {
	Name   string  `yaml:"name"`
	Value  float64 `yaml:"value"`
	Weight float64 `yaml:"weight"`
}

type TrustSection struct {
	MuMinGood     float64 `yaml:"mu_min_good"`
	FaizalMaxGood float64 `yaml:"faizal_max_good"`
}

type GovernanceSection struct {
	MuWeight         float64            `yaml:"mu_weight"`
	FaizalWeight     float64            `yaml:"faizal_weight"`
	BaseWeight       float64            `yaml:"base_weight"`
	QualityWeight    float64            `yaml:"quality_weight"`
	TierPenalties    map[string]float64 `yaml:"tier_penalties"`
	FailureThreshold int                `yaml:"failure_threshold"`
	LowTrustTag      string             `yaml:"low_trust_tag"`
}

type OmegaSection struct {
	SimWeight   float64            `yaml:"sim_weight"`
	Consistency ConsistencySection `yaml:"consistency"`
	Levels      []LevelSection     `yaml:"levels"`
	FloorLevel  string             `yaml:"floor_level"`
}

type ConsistencySection struct {
	MuWeight                       float64 `yaml:"mu_weight"`
	FaizalComplementWeight         float64 `yaml:"faizal_complement_weight"`
	UndecidabilityComplementWeight float64 `yaml:"undecidability_complement_weight"`
	EnergyWeight                   float64 `yaml:"energy_weight"`
	EnergyCeilingBelow             float64 `yaml:"energy_ceiling_below"`
}

type LevelSection struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
}

// #endregion config

// #region defaults
// Default returns the configuration used when no file is given.
func Default() Config {
	tc := trust.DefaultConfig()
	gc := governance.DefaultConfig()
	oc := omega.DefaultConfig()

	penalties := make(map[string]float64, len(gc.TierPenalties))
	for tier, p := range gc.TierPenalties {
		penalties[string(tier)] = p
	}
	levels := make([]LevelSection, len(oc.Levels))
	for i, l := range oc.Levels {
		levels[i] = LevelSection{Name: l.Name, Min: l.Min}
	}

	return Config{
		Database: "simcert.db",
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Tenant:   "asdp",
		Service:  "simuniverse",
		Trust:    TrustSection{MuMinGood: tc.MuMinGood, FaizalMaxGood: tc.FaizalMaxGood},
		Governance: GovernanceSection{
			MuWeight:         gc.MuWeight,
			FaizalWeight:     gc.FaizalWeight,
			BaseWeight:       gc.BaseWeight,
			QualityWeight:    gc.QualityWeight,
			TierPenalties:    penalties,
			FailureThreshold: gc.FailureThreshold,
			LowTrustTag:      gc.LowTrustTag,
		},
		Omega: OmegaSection{
			SimWeight: oc.SimWeight,
			Consistency: ConsistencySection{
				MuWeight:                       oc.Consistency.MuWeight,
				FaizalComplementWeight:         oc.Consistency.FaizalComplementWeight,
				UndecidabilityComplementWeight: oc.Consistency.UndecidabilityComplementWeight,
				EnergyWeight:                   oc.Consistency.EnergyWeight,
				EnergyCeilingBelow:             oc.Consistency.EnergyCeilingBelow,
			},
			Levels:     levels,
			FloorLevel: oc.FloorLevel,
		},
	}
}

// #endregion defaults

// #region load
// Load reads the YAML file at path over the defaults, then applies the
// environment overrides and validates. An empty path means defaults + env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, &ValidationError{Field: path, Err: err}
		}
		if cfg.GateRulesPath != "" && !filepath.IsAbs(cfg.GateRulesPath) {
			cfg.GateRulesPath = filepath.Join(filepath.Dir(path), cfg.GateRulesPath)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabase); v != "" {
		c.Database = v
	}
	if v := getenv(EnvHTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv(EnvGRPCAddr); v != "" {
		c.GRPCAddr = v
	}
	if v := getenv(EnvGateRules); v != "" {
		c.GateRulesPath = v
	}
}

// #endregion load

// #region validate
// ValidationError reports an inconsistent configuration.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks every section against its domain rules and compiles the
// gate rules, so a GateSyntaxError surfaces at load time.
func (c Config) Validate() error {
	tc := c.ToTrustConfig()
	for name, v := range map[string]float64{"trust.mu_min_good": tc.MuMinGood, "trust.faizal_max_good": tc.FaizalMaxGood} {
		if v < 0 || v > 1 {
			return &ValidationError{Field: name, Err: fmt.Errorf("must be in [0,1], got %g", v)}
		}
	}
	for tier := range c.Governance.TierPenalties {
		if governance.ParseTier(tier) != governance.Tier(tier) {
			return &ValidationError{Field: "governance.tier_penalties", Err: fmt.Errorf("unknown tier %q", tier)}
		}
	}
	if err := c.ToGovernanceConfig().Validate(); err != nil {
		return &ValidationError{Field: "governance", Err: err}
	}
	if err := c.ToOmegaConfig().Validate(); err != nil {
		return &ValidationError{Field: "omega", Err: err}
	}
	seen := map[string]bool{}
	for i, a := range c.BaseAxes {
		switch {
		case a.Name == "":
			return &ValidationError{Field: fmt.Sprintf("base_axes[%d]", i), Err: fmt.Errorf("name is required")}
		case seen[a.Name]:
			return &ValidationError{Field: "base_axes", Err: fmt.Errorf("axis %q repeated", a.Name)}
		case a.Weight < 0:
			return &ValidationError{Field: "base_axes." + a.Name, Err: fmt.Errorf("weight must be non-negative, got %g", a.Weight)}
		case a.Value < 0 || a.Value > 1:
			return &ValidationError{Field: "base_axes." + a.Name, Err: fmt.Errorf("value must be in [0,1], got %g", a.Value)}
		}
		seen[a.Name] = true
	}
	if _, err := c.Gate(); err != nil {
		return &ValidationError{Field: "gate_rules", Err: err}
	}
	return nil
}

// #endregion validate

// #region conversions
func (c Config) ToTrustConfig() trust.Config {
	return trust.Config{MuMinGood: c.Trust.MuMinGood, FaizalMaxGood: c.Trust.FaizalMaxGood}
}

func (c Config) ToGovernanceConfig() governance.Config {
	g := c.Governance
	penalties := make(map[governance.Tier]float64, len(g.TierPenalties))
	for tier, p := range g.TierPenalties {
		penalties[governance.Tier(tier)] = p
	}
	return governance.Config{
		MuWeight:         g.MuWeight,
		FaizalWeight:     g.FaizalWeight,
		BaseWeight:       g.BaseWeight,
		QualityWeight:    g.QualityWeight,
		TierPenalties:    penalties,
		FailureThreshold: g.FailureThreshold,
		LowTrustTag:      g.LowTrustTag,
	}
}

func (c Config) ToOmegaConfig() omega.Config {
	o := c.Omega
	levels := make([]omega.Level, len(o.Levels))
	for i, l := range o.Levels {
		levels[i] = omega.Level{Name: l.Name, Min: l.Min}
	}
	return omega.Config{
		SimWeight: o.SimWeight,
		Consistency: omega.ConsistencyConfig{
			MuWeight:                       o.Consistency.MuWeight,
			FaizalComplementWeight:         o.Consistency.FaizalComplementWeight,
			UndecidabilityComplementWeight: o.Consistency.UndecidabilityComplementWeight,
			EnergyWeight:                   o.Consistency.EnergyWeight,
			EnergyCeilingBelow:             o.Consistency.EnergyCeilingBelow,
		},
		Levels:     levels,
		FloorLevel: o.FloorLevel,
	}
}

// Axes returns the baseline axes in file order.
func (c Config) Axes() []omega.Axis {
	out := make([]omega.Axis, len(c.BaseAxes))
	for i, a := range c.BaseAxes {
		out[i] = omega.Axis{Name: a.Name, Value: a.Value, Weight: a.Weight}
	}
	return out
}

// DefaultBase is the base report used when a run supplies none.
func (c Config) DefaultBase() omega.Base {
	return omega.Base{Tenant: c.Tenant, Service: c.Service, Axes: c.Axes()}
}

// ToPipelineConfig bundles every domain section for the certifier.
func (c Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Trust:      c.ToTrustConfig(),
		Governance: c.ToGovernanceConfig(),
		Omega:      c.ToOmegaConfig(),
		Tenant:     c.Tenant,
		Service:    c.Service,
	}
}

// Gate compiles the configured rules: the rule file first, then any inline
// rules appended after it. No rules yields a gate that always passes.
func (c Config) Gate() (*gate.Gate, error) {
	var rules []gate.Rule
	if c.GateRulesPath != "" {
		fromFile, err := gate.CompileFile(c.GateRulesPath)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fromFile...)
	}
	if strings.TrimSpace(c.GateRules) != "" {
		inline, err := gate.Compile(c.GateRules)
		if err != nil {
			return nil, err
		}
		rules = append(rules, inline...)
	}
	return gate.NewGate(rules), nil
}

// #endregion conversions
