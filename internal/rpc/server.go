package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/simuniverse-cert/internal/controlplane"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server
// Server serves the control-plane service over gRPC.
type Server struct {
	svc *controlplane.Service
	log *logging.Logger
}

// NewServer creates a gRPC adapter over svc.
func NewServer(svc *controlplane.Service, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{svc: svc, log: logger}
}

// CreateRun implements ControlPlaneServer.
func (s *Server) CreateRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req controlplane.CreateRunRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, toStatus(&controlplane.InvalidRequestError{Field: "body", Err: err})
	}
	rec, err := s.svc.CreateRun(ctx, req)
	if err != nil {
		s.log.Warnf("create run: %v", err)
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// GetRun implements ControlPlaneServer. The request carries run_id.
func (s *Server) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID := in.GetFields()["run_id"].GetStringValue()
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, err := s.svc.GetRun(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(rec)
}

// ListRuns implements ControlPlaneServer. The request may carry env and
// limit; the response holds them under runs.
func (s *Server) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	opts := registry.ListOptions{
		Environment: fields["env"].GetStringValue(),
		Limit:       int(fields["limit"].GetNumberValue()),
	}
	runs, err := s.svc.ListRuns(ctx, opts)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"runs": runs})
}

// #endregion server

// #region status-mapping
// toStatus maps an error onto a gRPC status through controlplane.Classify.
func toStatus(err error) error {
	code := codes.Internal
	switch controlplane.Classify(err) {
	case controlplane.KindInvalidInput:
		code = codes.InvalidArgument
	case controlplane.KindConflict:
		code = codes.Aborted
		var dup *registry.DuplicateRunError
		if errors.As(err, &dup) {
			code = codes.AlreadyExists
		}
	case controlplane.KindConfig:
		code = codes.FailedPrecondition
	case controlplane.KindNotFound:
		code = codes.NotFound
	}
	return status.Error(code, err.Error())
}

// #endregion status-mapping

// #region struct-codec
// toStruct converts a JSON-encodable value to a Struct via its JSON form so
// field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

// fromStruct decodes a Struct into v, rejecting unknown fields.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode struct: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// #endregion struct-codec
