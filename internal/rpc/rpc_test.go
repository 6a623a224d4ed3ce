package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/simuniverse-cert/internal/controlplane"
	"github.com/danielpatrickdp/simuniverse-cert/internal/gate"
	"github.com/danielpatrickdp/simuniverse-cert/internal/logging"
	"github.com/danielpatrickdp/simuniverse-cert/internal/metrics"
	"github.com/danielpatrickdp/simuniverse-cert/internal/pipeline"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const sampleEvidence = `[
  {"candidate_id": "toe_candidate_muh_cuh", "mu_score": 0.82, "faizal_score": 0.28, "mean_undecidability_index": 0.32, "energy_feasibility": 0.91},
  {"candidate_id": "toe_candidate_faizal_mtoe", "mu_score": 0.24, "faizal_score": 0.86, "mean_undecidability_index": 0.81, "energy_feasibility": 0.18}
]`

// #region harness
// startServer serves a real control plane over an in-memory listener and
// returns a client connected to it.
func startServer(t *testing.T) *Client {
	t.Helper()
	store, err := registry.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	g, err := gate.NewGateFromText(`IF metric(asdpi_omega_total) < 0.5 THEN warn(low omega)`)
	if err != nil {
		t.Fatal(err)
	}
	exporter := metrics.NewExporter()
	cert := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{Store: store, Gate: g, Exporter: exporter})
	svc := controlplane.NewService(controlplane.Deps{Store: store, Certifier: cert, Exporter: exporter, Gate: g})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterControlPlaneServer(srv, NewServer(svc, logging.Discard()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	c := &Client{conn: conn, client: NewControlPlaneClient(conn)}
	t.Cleanup(func() { c.Close() })
	return c
}

// #endregion harness

// #region rpc-tests
func TestRPC_CreateGetList(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	rec, err := c.CreateRun(ctx, controlplane.CreateRunRequest{
		RunID:       "rpc-1",
		Environment: "prod",
		GitSHA:      "abcdef0",
		Evidence:    json.RawMessage(sampleEvidence),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if rec.Status != registry.StatusSucceeded || rec.Version != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.TrustSummaries) != 2 || !rec.TrustSummaries["toe_candidate_faizal_mtoe"].LowTrustFlag {
		t.Errorf("summaries lost in transit: %+v", rec.TrustSummaries)
	}

	got, err := c.GetRun(ctx, "rpc-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.OmegaReport == nil || got.OmegaReport.OmegaTotal != rec.OmegaReport.OmegaTotal {
		t.Errorf("GetRun differs from CreateRun: %+v", got.OmegaReport)
	}

	if _, err := c.CreateRun(ctx, controlplane.CreateRunRequest{RunID: "rpc-2", Environment: "dev", GitSHA: "abc", Evidence: json.RawMessage(sampleEvidence)}); err != nil {
		t.Fatal(err)
	}
	runs, err := c.ListRuns(ctx, registry.ListOptions{Environment: "prod"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "rpc-1" {
		t.Errorf("expected only rpc-1, got %+v", runs)
	}
	all, err := c.ListRuns(ctx, registry.ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("expected limit 1, got %d", len(all))
	}
}

func TestRPC_StatusCodes(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "missing")
	if status.Code(err) != codes.NotFound || !errors.Is(err, registry.ErrRunNotFound) {
		t.Errorf("expected NotFound wrapping ErrRunNotFound, got %v", err)
	}

	_, err = c.CreateRun(ctx, controlplane.CreateRunRequest{RunID: "bad", Evidence: json.RawMessage(sampleEvidence)})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for missing git_sha, got %v", err)
	}

	_, err = c.CreateRun(ctx, controlplane.CreateRunRequest{RunID: "bad-ev", GitSHA: "abc", Evidence: json.RawMessage(`[{"candidate_id": "a"}]`)})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for malformed evidence, got %v", err)
	}
	failed, err := c.GetRun(ctx, "bad-ev")
	if err != nil || failed.Status != registry.StatusFailed {
		t.Errorf("expected failed run bad-ev, got %+v %v", failed, err)
	}

	_, err = c.CreateRun(ctx, controlplane.CreateRunRequest{RunID: "bad-ev", GitSHA: "abc", Evidence: json.RawMessage(sampleEvidence)})
	if status.Code(err) != codes.AlreadyExists {
		t.Errorf("expected AlreadyExists for duplicate, got %v", err)
	}

	_, err = c.CreateRun(ctx, controlplane.CreateRunRequest{
		RunID:     "bad-w",
		GitSHA:    "abc",
		Evidence:  json.RawMessage(sampleEvidence),
		OmegaBase: json.RawMessage(`{"axes": [{"name": "safety", "value": 0.5, "weight": 0}]}`),
	})
	if status.Code(err) != codes.OK {
		t.Errorf("zero-weight base axis should still merge, got %v", err)
	}

	_, err = c.CreateRun(ctx, controlplane.CreateRunRequest{
		RunID:     "bad-neg",
		GitSHA:    "abc",
		Evidence:  json.RawMessage(sampleEvidence),
		OmegaBase: json.RawMessage(`{"axes": [{"name": "safety", "value": 0.5, "weight": -1}]}`),
	})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition for negative weight, got %v", err)
	}
}

func TestRPC_UnknownRequestFieldRejected(t *testing.T) {
	c := startServer(t)
	in, err := structpb.NewStruct(map[string]any{"git_sha": "abc", "surprise": true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.client.CreateRun(context.Background(), in)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}

	empty, err := structpb.NewStruct(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.client.GetRun(context.Background(), empty)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for missing run_id, got %v", err)
	}
}

// #endregion rpc-tests

// #region mock
type mockControlPlane struct {
	ControlPlaneClient

	getResp *structpb.Struct
	getErr  error
}

func (m *mockControlPlane) GetRun(_ context.Context, _ *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return m.getResp, m.getErr
}

// #endregion mock

// #region client-tests
func TestNewClient(t *testing.T) {
	c, err := NewClient("localhost:0")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer c.Close()
}

func TestClientGetRun_DecodeError(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]any{"run_id": "r1", "unexpected": 1})
	if err != nil {
		t.Fatal(err)
	}
	c := NewClientWithService(&mockControlPlane{getResp: resp})
	if _, err := c.GetRun(context.Background(), "r1"); err == nil {
		t.Fatal("expected decode error for unknown response field")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close without a connection should be a no-op, got %v", err)
	}
}

func TestClientGetRun_PassesThroughErrors(t *testing.T) {
	c := NewClientWithService(&mockControlPlane{getErr: status.Error(codes.Unavailable, "down")})
	_, err := c.GetRun(context.Background(), "r1")
	if status.Code(err) != codes.Unavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}

// #endregion client-tests
