package rpc

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/simuniverse-cert/internal/controlplane"
	"github.com/danielpatrickdp/simuniverse-cert/internal/registry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client wraps the gRPC connection to a control-plane server.
type Client struct {
	conn   *grpc.ClientConn
	client ControlPlaneClient
}

// #endregion client-struct

// #region constructor
// NewClient connects to a control-plane gRPC server.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, client: NewControlPlaneClient(conn)}, nil
}

// NewClientWithService creates a Client over an injected stub.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc ControlPlaneClient) *Client {
	return &Client{client: svc}
}

// Close shuts down the gRPC connection. It is safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region calls
// CreateRun registers and certifies a run remotely.
func (c *Client) CreateRun(ctx context.Context, req controlplane.CreateRunRequest) (registry.RunRecord, error) {
	in, err := toStruct(req)
	if err != nil {
		return registry.RunRecord{}, fmt.Errorf("create run rpc: %w", err)
	}
	resp, err := c.client.CreateRun(ctx, in)
	if err != nil {
		return registry.RunRecord{}, fmt.Errorf("create run rpc: %w", fromStatus(err))
	}
	var rec registry.RunRecord
	if err := fromStruct(resp, &rec); err != nil {
		return registry.RunRecord{}, fmt.Errorf("create run rpc: %w", err)
	}
	return rec, nil
}

// GetRun fetches one run. A missing run wraps registry.ErrRunNotFound.
func (c *Client) GetRun(ctx context.Context, runID string) (registry.RunRecord, error) {
	in, err := structpb.NewStruct(map[string]any{"run_id": runID})
	if err != nil {
		return registry.RunRecord{}, fmt.Errorf("get run rpc: %w", err)
	}
	resp, err := c.client.GetRun(ctx, in)
	if err != nil {
		return registry.RunRecord{}, fmt.Errorf("get run rpc: %w", fromStatus(err))
	}
	var rec registry.RunRecord
	if err := fromStruct(resp, &rec); err != nil {
		return registry.RunRecord{}, fmt.Errorf("get run rpc: %w", err)
	}
	return rec, nil
}

// ListRuns lists runs newest first.
func (c *Client) ListRuns(ctx context.Context, opts registry.ListOptions) ([]registry.RunRecord, error) {
	in, err := structpb.NewStruct(map[string]any{"env": opts.Environment, "limit": opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("list runs rpc: %w", err)
	}
	resp, err := c.client.ListRuns(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("list runs rpc: %w", fromStatus(err))
	}
	var out struct {
		Runs []registry.RunRecord `json:"runs"`
	}
	if err := fromStruct(resp, &out); err != nil {
		return nil, fmt.Errorf("list runs rpc: %w", err)
	}
	return out.Runs, nil
}

// #endregion calls

// fromStatus restores the not-found sentinel and keeps the status reachable.
func fromStatus(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %w", registry.ErrRunNotFound, err)
	}
	return err
}
