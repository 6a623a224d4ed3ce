package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/governance"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/trust"
)

// #region status
// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// #endregion status

// #region run-record
// RunRecord is one certification run. Version increments on every write and
// backs the optimistic check in Store.Update.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	GitSHA      string    `json:"git_sha"`
	ConfigPath  string    `json:"config_path,omitempty"`
	CorpusPath  string    `json:"corpus_path,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`

	ErrorMessage string   `json:"error_message,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`

	TrustSummaries         map[string]trust.Summary            `json:"trust_summaries,omitempty"`
	OmegaReport            *omega.Report                       `json:"omega_report,omitempty"`
	SimUniverseConsistency *float64                            `json:"simuniverse_consistency,omitempty"`
	GateReport             *gate.Decision                      `json:"gate_report,omitempty"`
	CandidateScores        []governance.CandidateScore         `json:"candidate_scores,omitempty"`
	RegistryTrust          map[string]governance.RegistryEntry `json:"registry_trust,omitempty"`
}

// payload is the JSON column holding every optional result field. Writing it
// as one value keeps a record whole: readers see all summaries or none.
type payload struct {
	Warnings               []string                            `json:"warnings,omitempty"`
	TrustSummaries         map[string]trust.Summary            `json:"trust_summaries,omitempty"`
	OmegaReport            *omega.Report                       `json:"omega_report,omitempty"`
	SimUniverseConsistency *float64                            `json:"simuniverse_consistency,omitempty"`
	GateReport             *gate.Decision                      `json:"gate_report,omitempty"`
	CandidateScores        []governance.CandidateScore         `json:"candidate_scores,omitempty"`
	RegistryTrust          map[string]governance.RegistryEntry `json:"registry_trust,omitempty"`
}

// #endregion run-record

// #region requests
// CreateRequest carries the solver-layer inputs of a new run.
type CreateRequest struct {
	RunID       string `json:"run_id"`
	Environment string `json:"environment"`
	GitSHA      string `json:"git_sha"`
	ConfigPath  string `json:"config_path,omitempty"`
	CorpusPath  string `json:"corpus_path,omitempty"`
}

// Completion is everything a finished pipeline attaches to its run.
type Completion struct {
	TrustSummaries  map[string]trust.Summary
	OmegaReport     *omega.Report
	Consistency     *float64
	GateReport      *gate.Decision
	CandidateScores []governance.CandidateScore
	Warnings        []string
}

// ListOptions filters List. An empty Environment matches every run; a
// non-positive Limit means DefaultListLimit.
type ListOptions struct {
	Environment string
	Limit       int
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// #endregion requests

// #region errors
// ErrRunNotFound is returned when no record exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// DuplicateRunError is returned when a run id is registered twice and the
// existing record is no longer pending.
type DuplicateRunError struct {
	RunID  string
	Status Status
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %s already exists with status %s", e.RunID, e.Status)
}

// RegistryConflictError is returned when a write raced another write to the
// same run. The caller re-reads and retries.
type RegistryConflictError struct {
	RunID    string
	Expected int
	Actual   int
}

func (e *RegistryConflictError) Error() string {
	return fmt.Sprintf("run %s changed concurrently (expected version %d, found %d)", e.RunID, e.Expected, e.Actual)
}

// InvalidTransitionError is returned for a lifecycle move the state machine
// does not allow.
type InvalidTransitionError struct {
	RunID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s cannot move from %s to %s", e.RunID, e.From, e.To)
}

// #endregion errors
