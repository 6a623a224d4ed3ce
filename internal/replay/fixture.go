package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	StartTiers      map[string]string       `json:"start_tiers"`
	Base            json.RawMessage         `json:"omega_base"`
	Config          FixtureConfig           `json:"config"`
	Runs            []FixtureRun            `json:"runs"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureRun mirrors replay.Run with JSON tags. Evidence is the raw payload.
type FixtureRun struct {
	RunID    string          `json:"run_id"`
	Evidence json.RawMessage `json:"evidence"`
	Failures map[string]int  `json:"failures,omitempty"`
}

// FixtureExpectedResult captures what one run must produce. Empty fields are
// not checked; Error names the expected error kind substring.
type FixtureExpectedResult struct {
	RunID       string            `json:"run_id"`
	LowTrust    []string          `json:"low_trust"`
	OmegaLevel  string            `json:"omega_level,omitempty"`
	GateOutcome string            `json:"gate_outcome,omitempty"`
	Tiers       map[string]string `json:"tiers,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// FixtureConfig overrides pipeline defaults. Unset fields keep the default.
type FixtureConfig struct {
	MuMinGood     *float64 `json:"mu_min_good,omitempty"`
	FaizalMaxGood *float64 `json:"faizal_max_good,omitempty"`
	SimWeight     *float64 `json:"sim_weight,omitempty"`
	GateRules     string   `json:"gate_rules,omitempty"`
}

// Mismatch is one difference between a replayed run and its expectation.
type Mismatch struct {
	RunID string
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s: want %q, got %q", m.RunID, m.Field, m.Want, m.Got)
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToReplayConfig applies the overrides to the defaults and compiles the rules.
func (fc *FixtureConfig) ToReplayConfig() (ReplayConfig, error) {
	config := DefaultReplayConfig()
	if fc.MuMinGood != nil {
		config.Pipeline.Trust.MuMinGood = *fc.MuMinGood
	}
	if fc.FaizalMaxGood != nil {
		config.Pipeline.Trust.FaizalMaxGood = *fc.FaizalMaxGood
	}
	if fc.SimWeight != nil {
		config.Pipeline.Omega.SimWeight = *fc.SimWeight
	}
	if fc.GateRules != "" {
		g, err := gate.NewGateFromText(fc.GateRules)
		if err != nil {
			return ReplayConfig{}, fmt.Errorf("compile fixture gate rules: %w", err)
		}
		config.Gate = g
	}
	return config, nil
}

// ToBase decodes the fixture's base omega report; none means no base axes.
func (f *Fixture) ToBase() (omega.Base, error) {
	if len(f.Base) == 0 {
		return omega.Base{}, nil
	}
	return omega.ParseBase(f.Base)
}

// ToStartTiers converts the fixture's start tiers to domain tiers.
func (f *Fixture) ToStartTiers() map[string]governance.Tier {
	out := make(map[string]governance.Tier, len(f.StartTiers))
	for id, t := range f.StartTiers {
		out[id] = governance.ParseTier(t)
	}
	return out
}

// ToRun converts a FixtureRun to a domain Run.
func (fr *FixtureRun) ToRun() Run {
	return Run{RunID: fr.RunID, Evidence: fr.Evidence, Failures: fr.Failures}
}

// Execute replays every run of the fixture.
func (f *Fixture) Execute() ([]ReplayResult, error) {
	config, err := f.Config.ToReplayConfig()
	if err != nil {
		return nil, err
	}
	base, err := f.ToBase()
	if err != nil {
		return nil, fmt.Errorf("fixture omega base: %w", err)
	}
	runs := make([]Run, len(f.Runs))
	for i := range f.Runs {
		runs[i] = f.Runs[i].ToRun()
	}
	return Replay(f.ToStartTiers(), base, runs, config), nil
}

// #endregion fixture-loader

// #region compare

// Compare checks results against the fixture's expectations in order.
func (f *Fixture) Compare(results []ReplayResult) []Mismatch {
	var out []Mismatch
	if len(results) != len(f.ExpectedResults) {
		out = append(out, Mismatch{
			Field: "runs",
			Want:  fmt.Sprint(len(f.ExpectedResults)),
			Got:   fmt.Sprint(len(results)),
		})
	}
	for i, want := range f.ExpectedResults {
		if i >= len(results) {
			break
		}
		out = append(out, compareOne(want, results[i])...)
	}
	return out
}

func compareOne(want FixtureExpectedResult, got ReplayResult) []Mismatch {
	var out []Mismatch
	add := func(field, w, g string) {
		if w != g {
			out = append(out, Mismatch{RunID: want.RunID, Field: field, Want: w, Got: g})
		}
	}
	add("run_id", want.RunID, got.RunID)
	ids := make([]string, 0, len(want.Tiers))
	for id := range want.Tiers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		add("tier "+id, want.Tiers[id], string(got.Tiers[id]))
	}

	if got.Err != nil || want.Error != "" {
		errText := ""
		if got.Err != nil {
			errText = got.Err.Error()
		}
		if want.Error == "" || !strings.Contains(errText, want.Error) {
			out = append(out, Mismatch{RunID: want.RunID, Field: "error", Want: want.Error, Got: errText})
		}
		return out
	}

	if want.LowTrust != nil {
		add("low_trust", joinSorted(want.LowTrust), joinSorted(got.Outcome.LowTrust()))
	}
	if want.OmegaLevel != "" {
		add("omega_level", want.OmegaLevel, got.Outcome.Report.OmegaLevel)
	}
	if want.GateOutcome != "" {
		add("gate_outcome", want.GateOutcome, string(got.Outcome.Decision.Outcome))
	}
	return out
}

// Record turns replay results into expectations, for regenerating a fixture
// after an intended behavior change. Errors are recorded by their full text.
func Record(results []ReplayResult) []FixtureExpectedResult {
	out := make([]FixtureExpectedResult, len(results))
	for i, r := range results {
		exp := FixtureExpectedResult{RunID: r.RunID, Tiers: make(map[string]string, len(r.Tiers))}
		for id, tier := range r.Tiers {
			exp.Tiers[id] = string(tier)
		}
		if r.Err != nil {
			exp.Error = r.Err.Error()
		} else {
			exp.LowTrust = append([]string{}, r.Outcome.LowTrust()...)
			exp.OmegaLevel = r.Outcome.Report.OmegaLevel
			exp.GateOutcome = string(r.Outcome.Decision.Outcome)
		}
		out[i] = exp
	}
	return out
}

func joinSorted(ids []string) string {
	s := append([]string(nil), ids...)
	sort.Strings(s)
	return strings.Join(s, ",")
}

// #endregion compare
