package replay

import (
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
)

// #region types
// Run is one recorded evidence payload to certify. Failures are gate failure
// increments observed before this run and accumulate across the replay.
type Run struct {
	RunID    string
	Evidence []byte
	Failures map[string]int
}

// ReplayConfig bundles the pipeline configuration and the gate rules.
type ReplayConfig struct {
	Pipeline pipeline.Config
	Gate     *gate.Gate
}

// DefaultReplayConfig returns pipeline defaults and no gate rules.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Pipeline: pipeline.DefaultConfig(),
		Gate:     gate.NewGate(nil),
	}
}

// ReplayResult captures the outcome of certifying one recorded run.
type ReplayResult struct {
	RunID   string
	Outcome pipeline.Outcome // zero when Err is set
	Err     error

	// Tiers after this run; unchanged from the previous run on error.
	Tiers map[string]governance.Tier
}

// ReplaySummary provides aggregate stats from a replay.
type ReplaySummary struct {
	TotalRuns  int
	Passed     int
	Warned     int
	Failed     int
	Errors     int
	FinalTiers map[string]governance.Tier
}

// #endregion types

// #region replay
// Replay certifies runs in order, entirely in memory. The tiers each run
// produces become the prior tiers of the next, so the failure ratchet and
// tier promotion play out across the sequence.
func Replay(startTiers map[string]governance.Tier, base omega.Base, runs []Run, config ReplayConfig) []ReplayResult {
	cert := pipeline.New(config.Pipeline, pipeline.Deps{Gate: config.Gate})
	tiers := copyTiers(startTiers)
	failures := map[string]int{}
	results := make([]ReplayResult, 0, len(runs))

	for _, run := range runs {
		for id, n := range run.Failures {
			failures[id] += n
		}
		out, err := cert.Certify(pipeline.Input{
			RunID:      run.RunID,
			Evidence:   run.Evidence,
			Base:       base,
			PriorTiers: copyTiers(tiers),
			Failures:   copyCounts(failures),
		})
		if err != nil {
			results = append(results, ReplayResult{RunID: run.RunID, Err: err, Tiers: copyTiers(tiers)})
			continue
		}
		for _, s := range out.Scores {
			tiers[s.CandidateID] = s.Tier
		}
		results = append(results, ReplayResult{RunID: run.RunID, Outcome: out, Tiers: copyTiers(tiers)})
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalRuns: len(results), FinalTiers: map[string]governance.Tier{}}
	for _, r := range results {
		if r.Err != nil {
			s.Errors++
			continue
		}
		switch r.Outcome.Decision.Outcome {
		case gate.VerdictPass:
			s.Passed++
		case gate.VerdictWarn:
			s.Warned++
		case gate.VerdictFail:
			s.Failed++
		}
	}
	if len(results) > 0 {
		s.FinalTiers = copyTiers(results[len(results)-1].Tiers)
	}
	return s
}

// #endregion replay

// #region helpers
func copyTiers(in map[string]governance.Tier) map[string]governance.Tier {
	out := make(map[string]governance.Tier, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// #endregion helpers
