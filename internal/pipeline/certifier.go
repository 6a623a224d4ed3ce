package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region certifier
// Deps are the shared collaborators of a Certifier. Store and Exporter may be
// nil for offline use (Certify only); Gate nil means no rules.
type Deps struct {
	Store    *registry.Store
	Gate     *gate.Gate
	Exporter *metrics.Exporter
	Logger   *logging.Logger
}

// Certifier runs evidence through normalization, aggregation, scoring, the
// omega merge and the gates, and records the outcome on the run.
type Certifier struct {
	config     Config
	aggregator *trust.Aggregator
	scorer     *governance.Scorer
	merger     *omega.Merger
	gate       *gate.Gate
	store      *registry.Store
	exporter   *metrics.Exporter
	log        *logging.Logger
	retry      *RetryEngine
}

// New creates a certifier.
func New(config Config, deps Deps) *Certifier {
	g := deps.Gate
	if g == nil {
		g = gate.NewGate(nil)
	}
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Certifier{
		config:     config,
		aggregator: trust.NewAggregator(config.Trust),
		scorer:     governance.NewScorer(config.Governance),
		merger:     omega.NewMerger(config.Omega),
		gate:       g,
		store:      deps.Store,
		exporter:   deps.Exporter,
		log:        log,
		retry:      NewRetryEngine(),
	}
}

// Scorer exposes the governance scorer, e.g. for registry document sync.
func (c *Certifier) Scorer() *governance.Scorer {
	return c.scorer
}

// #endregion certifier

// #region certify
// Certify runs the pure stages in memory. It touches neither the registry
// nor the shared exporter.
func (c *Certifier) Certify(in Input) (Outcome, error) {
	payload, err := evidence.Normalize(in.Evidence)
	if err != nil {
		return Outcome{}, err
	}
	summaryRunID := in.RunID
	if payload.HasRunID() {
		summaryRunID = payload.RunID
	}

	summaries := c.aggregator.Aggregate(payload.Scores, summaryRunID)
	pooled, ok := c.aggregator.Pool(summaries)
	if !ok {
		return Outcome{}, &evidence.MalformedEvidenceError{Index: -1, Reason: "no candidate could be aggregated"}
	}

	tiers := make(map[string]string, len(summaries))
	for _, s := range summaries {
		prev, known := in.PriorTiers[s.CandidateID]
		if !known {
			prev = governance.TierUnknown
		}
		tiers[s.CandidateID] = string(c.scorer.TierFromSummary(prev, s, in.Failures[s.CandidateID]))
	}

	tenant, service := in.Base.Tenant, in.Base.Service
	if tenant == "" {
		tenant = c.config.Tenant
	}
	if service == "" {
		service = c.config.Service
	}
	report, err := c.merger.Merge(omega.Input{
		Tenant:      tenant,
		Service:     service,
		RunID:       in.RunID,
		BaseAxes:    in.Base.Axes,
		Summary:     pooled,
		Tiers:       tiers,
		Attachments: in.Base.Attachments,
	})
	if err != nil {
		return Outcome{}, err
	}
	simAxis, _ := report.Axis(omega.SimUniverseAxis)

	baseOmega, ok := baselineOmega(in.Base.Axes)
	if !ok {
		baseOmega = report.OmegaTotal
	}
	scores := c.scorer.ScoreCandidates(summaries, baseOmega, in.PriorTiers, in.Failures)

	decision, err := c.evaluateGates(summaries, scores, report)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		RunID:       in.RunID,
		Warnings:    payload.Warnings,
		Summaries:   summaries,
		Pooled:      pooled,
		Consistency: simAxis.Value,
		Report:      report,
		Scores:      scores,
		Decision:    decision,
	}, nil
}

// evaluateGates checks the rules against this run's metrics only, exported
// through a private exporter so concurrent runs never see each other.
func (c *Certifier) evaluateGates(summaries []trust.Summary, scores []governance.CandidateScore, report omega.Report) (gate.Decision, error) {
	run := metrics.NewExporter()
	run.ObserveRun(summaries, scores, report)
	snap, err := run.Snapshot()
	if err != nil {
		return gate.Decision{}, fmt.Errorf("evaluate gates: %w", err)
	}
	return c.gate.Evaluate(snap), nil
}

// baselineOmega is the weighted mean of the externally supplied axes,
// excluding any stale simuniverse axis.
func baselineOmega(axes []omega.Axis) (float64, bool) {
	var num, den float64
	for _, a := range axes {
		if a.Name == omega.SimUniverseAxis {
			continue
		}
		num += a.Value * a.Weight
		den += a.Weight
	}
	if den <= 0 {
		return 0, false
	}
	return num / den, true
}

// #endregion certify

// #region run
// Run moves a pending run through the pipeline: running, then succeeded
// with every result attached in one write, or failed with the error as the
// reason. A failing gate does not fail the run; the decision is stored for
// the deployment gate downstream.
func (c *Certifier) Run(ctx context.Context, in Input) (registry.RunRecord, Outcome, error) {
	if c.store == nil {
		return registry.RunRecord{}, Outcome{}, errors.New("run pipeline: no registry store configured")
	}
	if _, err := c.store.Start(ctx, in.RunID); err != nil {
		return registry.RunRecord{}, Outcome{}, fmt.Errorf("start run: %w", err)
	}
	c.log.Infof("run %s started", in.RunID)

	out, err := c.Certify(in)
	if err != nil {
		c.log.Warnf("run %s failed: %v", in.RunID, err)
		failed, ferr := c.fail(ctx, in.RunID, err)
		if ferr != nil {
			return registry.RunRecord{}, Outcome{}, errors.Join(err, ferr)
		}
		return failed, Outcome{}, err
	}
	for _, w := range out.Warnings {
		c.log.Warnf("run %s: %s", in.RunID, w)
	}

	report := out.Report
	consistency := out.Consistency
	decision := out.Decision
	completion := registry.Completion{
		TrustSummaries:  trust.ByCandidate(out.Summaries),
		OmegaReport:     &report,
		Consistency:     &consistency,
		GateReport:      &decision,
		CandidateScores: out.Scores,
		Warnings:        out.WarningStrings(),
	}

	var done registry.RunRecord
	err = c.retry.Do(func() error {
		var cerr error
		done, cerr = c.store.Complete(ctx, in.RunID, completion)
		return cerr
	})
	if err != nil {
		c.log.Errorf("run %s: record results: %v", in.RunID, err)
		failed, ferr := c.fail(ctx, in.RunID, fmt.Errorf("record results: %w", err))
		if ferr != nil {
			return registry.RunRecord{}, Outcome{}, errors.Join(err, ferr)
		}
		return failed, Outcome{}, err
	}

	if c.exporter != nil {
		c.exporter.ObserveRun(out.Summaries, out.Scores, out.Report)
	}
	c.log.Infof("run %s succeeded: omega_total=%.4f level=%s gates=%s low_trust=%v",
		in.RunID, out.Report.OmegaTotal, out.Report.OmegaLevel, out.Decision.Outcome, out.LowTrust())
	return done, out, nil
}

func (c *Certifier) fail(ctx context.Context, runID string, cause error) (registry.RunRecord, error) {
	var failed registry.RunRecord
	err := c.retry.Do(func() error {
		var ferr error
		failed, ferr = c.store.Fail(ctx, runID, cause.Error())
		return ferr
	})
	if err != nil {
		return registry.RunRecord{}, fmt.Errorf("mark run failed: %w", err)
	}
	return failed, nil
}

// #endregion run
