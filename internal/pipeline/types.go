package pipeline

import (
	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region config
// Config bundles the domain configs the pipeline runs with.
type Config struct {
	Trust      trust.Config
	Governance governance.Config
	Omega      omega.Config
	Tenant     string // used when the base report names none
	Service    string
}

// DefaultConfig returns every domain default.
func DefaultConfig() Config {
	return Config{
		Trust:      trust.DefaultConfig(),
		Governance: governance.DefaultConfig(),
		Omega:      omega.DefaultConfig(),
		Tenant:     "asdp",
		Service:    "simuniverse",
	}
}

// #endregion config

// #region input-output
// Input is one certification request.
type Input struct {
	RunID      string
	Evidence   []byte // raw solver-layer payload
	Base       omega.Base
	PriorTiers map[string]governance.Tier // current registry tiers, may be nil
	Failures   map[string]int             // gate failure counters, may be nil
}

// Outcome is the full result of the pure pipeline stages.
type Outcome struct {
	RunID       string
	Warnings    []evidence.Warning
	Summaries   []trust.Summary // first-appearance order
	Pooled      trust.Summary
	Consistency float64
	Report      omega.Report
	Scores      []governance.CandidateScore
	Decision    gate.Decision
}

// WarningStrings renders the evidence warnings for storage.
func (o Outcome) WarningStrings() []string {
	if len(o.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(o.Warnings))
	for i, w := range o.Warnings {
		out[i] = w.String()
	}
	return out
}

// LowTrust returns the ids of low-trust candidates in summary order.
func (o Outcome) LowTrust() []string {
	var ids []string
	for _, s := range o.Summaries {
		if s.LowTrustFlag {
			ids = append(ids, s.CandidateID)
		}
	}
	return ids
}

// #endregion input-output
