package omega

import (
	"fmt"
	"time"
)

// SimUniverseAxis is the axis derived from SimUniverse trust evidence.
const SimUniverseAxis = "simuniverse_consistency"

// #region axis
// Axis is one named certification dimension.
type Axis struct {
	Name    string         `json:"name"`
	Value   float64        `json:"value"`
	Weight  float64        `json:"weight"`
	Details map[string]any `json:"details,omitempty"`
}

// #endregion axis

// #region report
// Report is the multi-axis certification result for a service run.
type Report struct {
	Tenant      string            `json:"tenant"`
	Service     string            `json:"service"`
	RunID       string            `json:"run_id"`
	Axes        []Axis            `json:"axes"`
	OmegaTotal  float64           `json:"omega_total"`
	OmegaLevel  string            `json:"omega_level"`
	Attachments map[string]string `json:"attachments,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Axis returns the named axis, if present.
func (r Report) Axis(name string) (Axis, bool) {
	for _, a := range r.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

// #endregion report

// #region omega-config
// ConsistencyConfig weights the four trust averages when deriving the
// simuniverse_consistency axis. The combination is normalized by the weight sum.
type ConsistencyConfig struct {
	MuWeight                       float64
	FaizalComplementWeight         float64
	UndecidabilityComplementWeight float64
	EnergyWeight                   float64
	// EnergyCeilingBelow caps consistency at energy_feasibility_avg whenever
	// the energy average falls below it.
	EnergyCeilingBelow float64
}

// Level is a lower bound on omega_total for a named band.
type Level struct {
	Name string
	Min  float64
}

// Config controls axis insertion and level banding.
type Config struct {
	SimWeight   float64
	Consistency ConsistencyConfig
	Levels      []Level // strictly descending Min
	FloorLevel  string  // band for totals below every Level
}

// DefaultConfig returns the reference merge configuration.
func DefaultConfig() Config {
	return Config{
		SimWeight: 0.15,
		Consistency: ConsistencyConfig{
			MuWeight:               0.5,
			FaizalComplementWeight: 0.5,
			EnergyCeilingBelow:     0.1,
		},
		Levels: []Level{
			{Name: "Ω-3", Min: 0.90},
			{Name: "Ω-2", Min: 0.82},
			{Name: "Ω-1", Min: 0.70},
		},
		FloorLevel: "Ω-0",
	}
}

// Validate checks that the bands are totally ordered and gapless.
func (c Config) Validate() error {
	if c.SimWeight < 0 {
		return &InvalidAxisWeightsError{Axis: SimUniverseAxis, Weight: c.SimWeight, Reason: "negative weight"}
	}
	cc := c.Consistency
	for name, w := range map[string]float64{
		"mu":                        cc.MuWeight,
		"faizal_complement":         cc.FaizalComplementWeight,
		"undecidability_complement": cc.UndecidabilityComplementWeight,
		"energy":                    cc.EnergyWeight,
	} {
		if w < 0 {
			return fmt.Errorf("consistency weight %s must be non-negative, got %g", name, w)
		}
	}
	if cc.MuWeight+cc.FaizalComplementWeight+cc.UndecidabilityComplementWeight+cc.EnergyWeight == 0 {
		return fmt.Errorf("consistency weights must not all be zero")
	}
	if c.FloorLevel == "" {
		return fmt.Errorf("floor level name is required")
	}
	prev := 1.0
	seen := map[string]bool{c.FloorLevel: true}
	for i, l := range c.Levels {
		if l.Name == "" {
			return fmt.Errorf("level %d has no name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("level name %q repeated", l.Name)
		}
		seen[l.Name] = true
		if l.Min <= 0 || l.Min > 1 {
			return fmt.Errorf("level %q threshold must be in (0,1], got %g", l.Name, l.Min)
		}
		if i > 0 && l.Min >= prev {
			return fmt.Errorf("level %q threshold %g must be below the previous level's %g", l.Name, l.Min, prev)
		}
		prev = l.Min
	}
	return nil
}

// #endregion omega-config

// #region errors
// InvalidAxisWeightsError reports an inconsistent certification configuration.
type InvalidAxisWeightsError struct {
	Axis   string
	Weight float64
	Reason string
}

func (e *InvalidAxisWeightsError) Error() string {
	if e.Axis == "" {
		return fmt.Sprintf("invalid axis weights: %s", e.Reason)
	}
	return fmt.Sprintf("invalid axis weights: %s (weight %g): %s", e.Axis, e.Weight, e.Reason)
}

// #endregion errors
