package omega

import (
	"math"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region merger
// Merger folds SimUniverse trust evidence into certification reports.
type Merger struct {
	config Config
	now    func() time.Time
}

// NewMerger creates a merger with the given configuration.
func NewMerger(config Config) *Merger {
	return &Merger{config: config, now: func() time.Time { return time.Now().UTC() }}
}

// Input is everything a single merge needs.
type Input struct {
	Tenant      string
	Service     string
	RunID       string
	BaseAxes    []Axis
	Summary     trust.Summary
	Tiers       map[string]string // candidate id -> tier, attached as axis details
	Attachments map[string]string
}

// Merge inserts or replaces the simuniverse_consistency axis, renormalizes all
// weights to sum to one, and recomputes omega_total and omega_level.
// The base axes are not modified.
func (m *Merger) Merge(in Input) (Report, error) {
	axes := make([]Axis, 0, len(in.BaseAxes)+1)
	seen := make(map[string]bool, len(in.BaseAxes))
	simAxis := Axis{
		Name:    SimUniverseAxis,
		Value:   m.Consistency(in.Summary),
		Weight:  m.config.SimWeight,
		Details: simDetails(in.Summary, in.Tiers),
	}

	replaced := false
	for _, a := range in.BaseAxes {
		if seen[a.Name] {
			return Report{}, &InvalidAxisWeightsError{Axis: a.Name, Weight: a.Weight, Reason: "duplicate axis"}
		}
		seen[a.Name] = true
		if a.Name == SimUniverseAxis {
			axes = append(axes, simAxis)
			replaced = true
			continue
		}
		if err := checkAxis(a); err != nil {
			return Report{}, err
		}
		axes = append(axes, copyAxis(a))
	}
	if !replaced {
		axes = append(axes, simAxis)
	}
	if simAxis.Weight < 0 || math.IsNaN(simAxis.Weight) {
		return Report{}, &InvalidAxisWeightsError{Axis: SimUniverseAxis, Weight: simAxis.Weight, Reason: "negative weight"}
	}

	if err := renormalize(axes); err != nil {
		return Report{}, err
	}

	var total float64
	for _, a := range axes {
		total += a.Value * a.Weight
	}
	total = clamp01(total)

	return Report{
		Tenant:      in.Tenant,
		Service:     in.Service,
		RunID:       in.RunID,
		Axes:        axes,
		OmegaTotal:  total,
		OmegaLevel:  m.Level(total),
		Attachments: copyAttachments(in.Attachments),
		CreatedAt:   m.now(),
	}, nil
}

// #endregion merger

// #region consistency
// Consistency derives the simuniverse_consistency axis value from a summary:
// a normalized weighted combination of mu, 1-faizal, 1-undecidability and
// energy, capped at the energy average when energy is very low.
func (m *Merger) Consistency(s trust.Summary) float64 {
	c := m.config.Consistency
	wsum := c.MuWeight + c.FaizalComplementWeight + c.UndecidabilityComplementWeight + c.EnergyWeight
	if wsum <= 0 {
		return 0
	}
	v := (c.MuWeight*s.MuScoreAvg +
		c.FaizalComplementWeight*(1-s.FaizalScoreAvg) +
		c.UndecidabilityComplementWeight*(1-s.UndecidabilityAvg) +
		c.EnergyWeight*s.EnergyFeasibilityAvg) / wsum
	if s.EnergyFeasibilityAvg < c.EnergyCeilingBelow && v > s.EnergyFeasibilityAvg {
		v = s.EnergyFeasibilityAvg
	}
	return clamp01(v)
}

// #endregion consistency

// #region level
// Level maps a total onto its band. Every value lands in exactly one band
// because thresholds are strictly descending and the floor catches the rest.
func (m *Merger) Level(total float64) string {
	for _, l := range m.config.Levels {
		if total >= l.Min {
			return l.Name
		}
	}
	return m.config.FloorLevel
}

// #endregion level

// #region helpers
func checkAxis(a Axis) error {
	if a.Weight < 0 || math.IsNaN(a.Weight) {
		return &InvalidAxisWeightsError{Axis: a.Name, Weight: a.Weight, Reason: "negative weight"}
	}
	if a.Value < 0 || a.Value > 1 || math.IsNaN(a.Value) {
		return &InvalidAxisWeightsError{Axis: a.Name, Weight: a.Weight, Reason: "axis value outside [0,1]"}
	}
	return nil
}

// renormalize divides every weight by the pre-renormalization total.
func renormalize(axes []Axis) error {
	var total float64
	for _, a := range axes {
		total += a.Weight
	}
	if total <= 0 {
		return &InvalidAxisWeightsError{Reason: "total axis weight is zero"}
	}
	for i := range axes {
		axes[i].Weight /= total
	}
	return nil
}

func simDetails(s trust.Summary, tiers map[string]string) map[string]any {
	details := map[string]any{
		"mu_score_avg_global":           s.MuScoreAvg,
		"faizal_score_avg_global":       s.FaizalScoreAvg,
		"undecidability_avg_global":     s.UndecidabilityAvg,
		"energy_feasibility_avg_global": s.EnergyFeasibilityAvg,
		"sample_count":                  s.SampleCount,
	}
	if len(tiers) > 0 {
		t := make(map[string]any, len(tiers))
		for k, v := range tiers {
			t[k] = v
		}
		details["toe_trust_tiers"] = t
	}
	return details
}

func copyAxis(a Axis) Axis {
	out := a
	if a.Details != nil {
		out.Details = make(map[string]any, len(a.Details))
		for k, v := range a.Details {
			out.Details[k] = v
		}
	}
	return out
}

func copyAttachments(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// #endregion helpers
