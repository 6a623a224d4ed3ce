package controlplane

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/danielpatrickdp/simuniverse-cert/internal/asdp"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"github.com/google/uuid"
)

// #region service
// Deps wires a Service. Exporter and Gate may be nil; Logger nil discards.
type Deps struct {
	Store       *registry.Store
	Certifier   *pipeline.Certifier
	Exporter    *metrics.Exporter
	Gate        *gate.Gate
	Logger      *logging.Logger
	DefaultBase omega.Base // used when a request carries no base report
}

// Service is the semantic control plane: create, fetch and list runs. It
// owns no transport; the HTTP router and the gRPC server both call it.
type Service struct {
	store       *registry.Store
	certifier   *pipeline.Certifier
	exporter    *metrics.Exporter
	gate        *gate.Gate
	log         *logging.Logger
	defaultBase omega.Base
	newRunID    func(env, gitSHA string) string
}

// NewService creates a control-plane service.
func NewService(deps Deps) *Service {
	g := deps.Gate
	if g == nil {
		g = gate.NewGate(nil)
	}
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Service{
		store:       deps.Store,
		certifier:   deps.Certifier,
		exporter:    deps.Exporter,
		gate:        g,
		log:         log,
		defaultBase: deps.DefaultBase,
		newRunID:    NewRunID,
	}
}

// NewRunID builds <env>-<git_sha[:7]>-<8 hex chars of a random uuid>.
func NewRunID(env, gitSHA string) string {
	sha := gitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	u := uuid.New()
	return fmt.Sprintf("%s-%s-%s", env, sha, hex.EncodeToString(u[:4]))
}

// #endregion service

// #region create
// CreateRun registers a run and certifies it synchronously. Request problems
// found before registration create nothing; inputs that fail to load after
// registration mark the run failed. The returned record reflects the final
// state even when err is non-nil, unless registration itself failed.
func (s *Service) CreateRun(ctx context.Context, req CreateRunRequest) (registry.RunRecord, error) {
	if err := req.validate(); err != nil {
		return registry.RunRecord{}, err
	}
	runID := req.RunID
	if runID == "" {
		runID = s.newRunID(req.Environment, req.GitSHA)
	}

	_, created, err := s.store.Create(ctx, registry.CreateRequest{
		RunID:       runID,
		Environment: req.Environment,
		GitSHA:      req.GitSHA,
		ConfigPath:  req.ConfigPath,
		CorpusPath:  req.CorpusPath,
	})
	if err != nil {
		return registry.RunRecord{}, err
	}
	if !created {
		s.log.Infof("run %s already pending, resuming", runID)
	}

	in, err := s.input(runID, req)
	if err != nil {
		s.log.Warnf("run %s inputs: %v", runID, err)
		failed, ferr := s.store.Fail(ctx, runID, err.Error())
		if ferr != nil {
			return registry.RunRecord{}, errors.Join(err, ferr)
		}
		return failed, err
	}

	rec, _, err := s.certifier.Run(ctx, in)
	return rec, err
}

func (s *Service) input(runID string, req CreateRunRequest) (pipeline.Input, error) {
	in := pipeline.Input{RunID: runID, Evidence: req.Evidence, Base: s.defaultBase}

	if req.EvidencePath != "" {
		data, err := os.ReadFile(req.EvidencePath)
		if err != nil {
			return pipeline.Input{}, &InvalidRequestError{Field: "evidence_path", Err: err}
		}
		in.Evidence = data
	}

	switch {
	case len(req.OmegaBase) > 0:
		base, err := omega.ParseBase(req.OmegaBase)
		if err != nil {
			return pipeline.Input{}, &InvalidRequestError{Field: "omega_base", Err: err}
		}
		in.Base = base
	case req.OmegaPath != "":
		base, err := omega.LoadBase(req.OmegaPath)
		if err != nil {
			return pipeline.Input{}, &InvalidRequestError{Field: "omega_base_path", Err: err}
		}
		in.Base = base
	}

	if req.RegistryPath != "" {
		doc, err := asdp.Load(req.RegistryPath)
		if err != nil {
			return pipeline.Input{}, &InvalidRequestError{Field: "registry_path", Err: err}
		}
		in.PriorTiers = doc.Tiers()
	}
	failures, err := asdp.LoadFailureCounts(req.FailuresPath)
	if err != nil {
		return pipeline.Input{}, &InvalidRequestError{Field: "failures_path", Err: err}
	}
	in.Failures = failures
	return in, nil
}

// #endregion create

// #region read
// GetRun returns a run or an error wrapping registry.ErrRunNotFound.
func (s *Service) GetRun(ctx context.Context, runID string) (registry.RunRecord, error) {
	return s.store.Get(ctx, runID)
}

// ListRuns returns runs newest first.
func (s *Service) ListRuns(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error) {
	return s.store.List(ctx, opts)
}

// RunEvents returns the lifecycle log of an existing run.
func (s *Service) RunEvents(ctx context.Context, runID string) ([]logging.RunEvent, error) {
	if _, err := s.store.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.Events(runID)
}

// EvaluateGates checks the configured rules against the live metrics of the
// most recent successful runs.
func (s *Service) EvaluateGates() (gate.Decision, error) {
	if s.exporter == nil {
		return s.gate.Evaluate(nil), nil
	}
	snap, err := s.exporter.Snapshot()
	if err != nil {
		return gate.Decision{}, err
	}
	return s.gate.Evaluate(snap), nil
}

// #endregion read
