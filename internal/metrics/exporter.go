package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// Label keys are part of the exposition contract.
const (
	CandidateLabel = "toe_candidate"
	AxisLabel      = "axis"
)

// #region exporter
// Exporter publishes the latest certification results as gauges. Each
// Observe call replaces the series of its family, so a candidate or axis that
// disappears from a newer run stops being exported.
type Exporter struct {
	mu       sync.Mutex
	registry *prometheus.Registry

	muScore        *prometheus.GaugeVec
	faizalScore    *prometheus.GaugeVec
	undecidability *prometheus.GaugeVec
	energy         *prometheus.GaugeVec
	lowTrust       *prometheus.GaugeVec
	sampleCount    *prometheus.GaugeVec
	quality        *prometheus.GaugeVec
	omegaAxis      *prometheus.GaugeVec
	omegaTotal     prometheus.Gauge
}

// NewExporter creates an exporter with its own registry.
func NewExporter() *Exporter {
	candidate := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{CandidateLabel})
	}
	e := &Exporter{
		registry:       prometheus.NewRegistry(),
		muScore:        candidate("simuniverse_mu_score_avg", "Average MUH score per TOE candidate."),
		faizalScore:    candidate("simuniverse_faizal_score_avg", "Average Faizal score per TOE candidate."),
		undecidability: candidate("simuniverse_undecidability_avg", "Average undecidability index per TOE candidate."),
		energy:         candidate("simuniverse_energy_feasibility_avg", "Average energy feasibility per TOE candidate."),
		lowTrust:       candidate("simuniverse_low_trust_flag", "1 when the TOE candidate is flagged low trust."),
		sampleCount:    candidate("simuniverse_sample_count", "Scenarios aggregated per TOE candidate."),
		quality:        candidate("simuniverse_quality", "Routing quality per TOE candidate."),
		omegaAxis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asdpi_omega_axis", Help: "Omega axis values.",
		}, []string{AxisLabel}),
		omegaTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "asdpi_omega_total", Help: "Omega total value.",
		}),
	}
	e.registry.MustRegister(
		e.muScore, e.faizalScore, e.undecidability, e.energy,
		e.lowTrust, e.sampleCount, e.quality, e.omegaAxis, e.omegaTotal,
	)
	return e
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the text exposition format. Scrapes take the same lock as
// the Observe calls, so a scrape never sees half of a run.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.GathererFunc(e.gather), promhttp.HandlerOpts{})
}

func (e *Exporter) gather() ([]*dto.MetricFamily, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Gather()
}

// #endregion exporter

// #region observe
// ObserveRun replaces every family with one run's results under a single
// lock. Readers see either the previous run or this one, never a mix.
func (e *Exporter) ObserveRun(summaries []trust.Summary, scores []governance.CandidateScore, report omega.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setSummaries(summaries)
	e.setScores(scores)
	e.setReport(report)
}

// ObserveSummaries replaces the per-candidate trust gauges.
func (e *Exporter) ObserveSummaries(summaries []trust.Summary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setSummaries(summaries)
}

// ObserveScores replaces the per-candidate quality gauge.
func (e *Exporter) ObserveScores(scores []governance.CandidateScore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setScores(scores)
}

// ObserveReport replaces the omega gauges.
func (e *Exporter) ObserveReport(r omega.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setReport(r)
}

func (e *Exporter) setSummaries(summaries []trust.Summary) {
	for _, v := range []*prometheus.GaugeVec{e.muScore, e.faizalScore, e.undecidability, e.energy, e.lowTrust, e.sampleCount} {
		v.Reset()
	}
	for _, s := range summaries {
		id := s.CandidateID
		e.muScore.WithLabelValues(id).Set(s.MuScoreAvg)
		e.faizalScore.WithLabelValues(id).Set(s.FaizalScoreAvg)
		e.undecidability.WithLabelValues(id).Set(s.UndecidabilityAvg)
		e.energy.WithLabelValues(id).Set(s.EnergyFeasibilityAvg)
		e.sampleCount.WithLabelValues(id).Set(float64(s.SampleCount))
		flag := 0.0
		if s.LowTrustFlag {
			flag = 1
		}
		e.lowTrust.WithLabelValues(id).Set(flag)
	}
}

func (e *Exporter) setScores(scores []governance.CandidateScore) {
	e.quality.Reset()
	for _, s := range scores {
		e.quality.WithLabelValues(s.CandidateID).Set(s.Quality)
	}
}

func (e *Exporter) setReport(r omega.Report) {
	e.omegaAxis.Reset()
	for _, a := range r.Axes {
		e.omegaAxis.WithLabelValues(a.Name).Set(a.Value)
	}
	e.omegaTotal.Set(r.OmegaTotal)
}

// #endregion observe

// #region snapshot
// Snapshot gathers every registered gauge into a gate snapshot, so gate
// rules see exactly what /metrics exposes.
func (e *Exporter) Snapshot() (*gate.Snapshot, error) {
	families, err := e.gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	return SnapshotFromFamilies(families), nil
}

// SnapshotFromFamilies converts gathered metric families. Gauges, counters
// and untyped values are kept; histograms and summaries are skipped.
func SnapshotFromFamilies(families []*dto.MetricFamily) *gate.Snapshot {
	snap := gate.NewSnapshot()
	for _, mf := range families {
		name := mf.GetName()
		for _, m := range mf.GetMetric() {
			var value float64
			switch mf.GetType() {
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_UNTYPED:
				value = m.GetUntyped().GetValue()
			default:
				continue
			}
			var labels gate.Labels
			if len(m.GetLabel()) > 0 {
				labels = make(gate.Labels, len(m.GetLabel()))
				for _, lp := range m.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
			}
			snap.Set(name, labels, value)
		}
	}
	return snap
}

// #endregion snapshot
