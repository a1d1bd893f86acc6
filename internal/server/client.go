package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/coresched/pkg/types"
)

// Averages is the Averages RPC result.
type Averages struct {
	Completed  int
	Waiting    float64
	Turnaround float64
	Response   float64
}

// Client is a typed wrapper over the Scheduler service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn // nil when built from NewClient
}

// Dial connects to addr. Without options the connection is plaintext.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func intResult(out *structpb.Struct, name string) int {
	return int(out.GetFields()[name].GetNumberValue())
}

// JobArrived returns the core the job runs on, or types.None.
func (c *Client) JobArrived(ctx context.Context, jobID, time, runTime, priority int) (int, error) {
	out, err := c.call(ctx, MethodJobArrived, map[string]any{
		"job_id":   jobID,
		"time":     time,
		"run_time": runTime,
		"priority": priority,
	})
	if err != nil {
		return types.None, err
	}
	return intResult(out, "core"), nil
}

// JobFinished returns the job now on core, or types.None.
func (c *Client) JobFinished(ctx context.Context, core, jobID, time int) (int, error) {
	out, err := c.call(ctx, MethodJobFinished, map[string]any{
		"core":   core,
		"job_id": jobID,
		"time":   time,
	})
	if err != nil {
		return types.None, err
	}
	return intResult(out, "job_id"), nil
}

// QuantumExpired returns the job now on core.
func (c *Client) QuantumExpired(ctx context.Context, core, time int) (int, error) {
	out, err := c.call(ctx, MethodQuantumExpired, map[string]any{
		"core": core,
		"time": time,
	})
	if err != nil {
		return types.None, err
	}
	return intResult(out, "job_id"), nil
}

// Averages returns the running averages.
func (c *Client) Averages(ctx context.Context) (Averages, error) {
	out, err := c.call(ctx, MethodAverages, map[string]any{})
	if err != nil {
		return Averages{}, err
	}
	f := out.GetFields()
	return Averages{
		Completed:  intResult(out, "completed"),
		Waiting:    f["waiting"].GetNumberValue(),
		Turnaround: f["turnaround"].GetNumberValue(),
		Response:   f["response"].GetNumberValue(),
	}, nil
}

// ShowQueue returns the "id(core)" rendering.
func (c *Client) ShowQueue(ctx context.Context) (string, error) {
	out, err := c.call(ctx, MethodShowQueue, map[string]any{})
	if err != nil {
		return "", err
	}
	return out.GetFields()["queue"].GetStringValue(), nil
}

// Completed returns the completion records in completion order.
func (c *Client) Completed(ctx context.Context) ([]types.JobRecord, error) {
	var out struct {
		Jobs []types.JobRecord `json:"jobs"`
	}
	if err := c.decode(ctx, MethodCompleted, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// State returns the engine snapshot.
func (c *Client) State(ctx context.Context) (types.EngineState, error) {
	var state types.EngineState
	err := c.decode(ctx, MethodState, &state)
	return state, err
}

// decode calls a no-argument method and decodes the Struct into v.
func (c *Client) decode(ctx context.Context, method string, v any) error {
	out, err := c.call(ctx, method, map[string]any{})
	if err != nil {
		return err
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", method, err)
	}
	return nil
}

// Reset replaces the remote engine.
func (c *Client) Reset(ctx context.Context, cores int, scheme types.Scheme, strict bool) error {
	_, err := c.call(ctx, MethodReset, map[string]any{
		"cores":  cores,
		"scheme": scheme.String(),
		"strict": strict,
	})
	return err
}

// Remote binds a Client to one context so it can be driven like a local
// engine (see simulator.Backend).
type Remote struct {
	ctx    context.Context
	client *Client
}

// Bind returns a Remote whose calls all use ctx.
func (c *Client) Bind(ctx context.Context) *Remote {
	return &Remote{ctx: ctx, client: c}
}

func (r *Remote) JobArrived(jobID, time, runTime, priority int) (int, error) {
	return r.client.JobArrived(r.ctx, jobID, time, runTime, priority)
}

func (r *Remote) JobFinished(core, jobID, time int) (int, error) {
	return r.client.JobFinished(r.ctx, core, jobID, time)
}

func (r *Remote) QuantumExpired(core, time int) (int, error) {
	return r.client.QuantumExpired(r.ctx, core, time)
}
