package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielpatrickdp/simuniverse-cert/internal/config"
	"github.com/danielpatrickdp/simuniverse-cert/internal/evidence"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/omega"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
)

// #region request
// DefaultEnvironment is used when a create request names none.
const DefaultEnvironment = "staging"

// CreateRunRequest carries the solver-layer inputs of a new run. Evidence is
// given inline or as a path, never both; the same holds for the base omega
// report. With no base report the service's configured axes are used.
type CreateRunRequest struct {
	RunID        string          `json:"run_id,omitempty"`
	Environment  string          `json:"env"`
	GitSHA       string          `json:"git_sha"`
	ConfigPath   string          `json:"config_path,omitempty"`
	CorpusPath   string          `json:"corpus_path,omitempty"`
	Evidence     json.RawMessage `json:"evidence,omitempty"`
	EvidencePath string          `json:"evidence_path,omitempty"`
	OmegaBase    json.RawMessage `json:"omega_base,omitempty"`
	OmegaPath    string          `json:"omega_base_path,omitempty"`
	RegistryPath string          `json:"registry_path,omitempty"` // ASDP document holding the current tiers
	FailuresPath string          `json:"failures_path,omitempty"` // candidate id -> gate failure count
}

func (r *CreateRunRequest) validate() error {
	if r.Environment == "" {
		r.Environment = DefaultEnvironment
	}
	switch {
	case r.GitSHA == "":
		return &InvalidRequestError{Field: "git_sha", Err: errors.New("required")}
	case len(r.Evidence) == 0 && r.EvidencePath == "":
		return &InvalidRequestError{Field: "evidence", Err: errors.New("one of evidence or evidence_path is required")}
	case len(r.Evidence) > 0 && r.EvidencePath != "":
		return &InvalidRequestError{Field: "evidence", Err: errors.New("evidence and evidence_path are exclusive")}
	case len(r.OmegaBase) > 0 && r.OmegaPath != "":
		return &InvalidRequestError{Field: "omega_base", Err: errors.New("omega_base and omega_base_path are exclusive")}
	}
	return nil
}

// #endregion request

// #region errors
// InvalidRequestError reports a create request the caller must fix.
type InvalidRequestError struct {
	Field string
	Err   error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %v", e.Field, e.Err)
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Kind is the transport-neutral class of an error.
type Kind string

const (
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindConfig       Kind = "config"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// Classify maps an error from any layer onto its Kind.
func Classify(err error) Kind {
	var (
		malformed  *evidence.MalformedEvidenceError
		badRequest *InvalidRequestError
		duplicate  *registry.DuplicateRunError
		conflict   *registry.RegistryConflictError
		transition *registry.InvalidTransitionError
		weights    *omega.InvalidAxisWeightsError
		syntax     *gate.GateSyntaxError
		invalidCfg *config.ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &malformed), errors.As(err, &badRequest):
		return KindInvalidInput
	case errors.As(err, &duplicate), errors.As(err, &conflict), errors.As(err, &transition):
		return KindConflict
	case errors.As(err, &weights), errors.As(err, &syntax), errors.As(err, &invalidCfg):
		return KindConfig
	case errors.Is(err, registry.ErrRunNotFound):
		return KindNotFound
	}
	return KindInternal
}

// HTTPStatus returns the response status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindConfig:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// #endregion errors
