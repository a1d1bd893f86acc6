package server

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/coresched/internal/logging"
	"github.com/ChuLiYu/coresched/internal/metrics"
	"github.com/ChuLiYu/coresched/internal/simulator"
	"github.com/ChuLiYu/coresched/internal/workload"
	"github.com/ChuLiYu/coresched/pkg/types"
)

// startServer serves s over an in-memory listener and returns a client.
func startServer(t *testing.T, s *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := s.NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() {
		gs.Stop()
		s.Close()
	})

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newTestServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(cfg, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	_, err := NewServer(Config{Cores: 0, Scheme: types.FCFS}, WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestRemoteFCFS(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.FCFS, Strict: true}))

	core, err := client.JobArrived(ctx, 0, 0, 4, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, core)

	core, err = client.JobArrived(ctx, 1, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, types.None, core)

	queue, err := client.ShowQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0(0) 1(-1)", queue)

	_, err = client.Averages(ctx)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err), "no completions yet")

	next, err := client.JobFinished(ctx, 0, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	next, err = client.JobFinished(ctx, 0, 1, 6)
	require.NoError(t, err)
	assert.Equal(t, types.None, next)

	avg, err := client.Averages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, avg.Completed)
	assert.InDelta(t, 1.5, avg.Waiting, 1e-9)
	assert.InDelta(t, 4.5, avg.Turnaround, 1e-9)
	assert.InDelta(t, 1.5, avg.Response, 1e-9)
}

func TestRemotePreemptionAndState(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.PSJF}))

	_, err := client.JobArrived(ctx, 1, 0, 10, 0)
	require.NoError(t, err)
	core, err := client.JobArrived(ctx, 2, 2, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, core, "shorter job preempts")

	state, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PSJF, state.Scheme)
	require.Len(t, state.Cores, 1)
	assert.Equal(t, types.CoreState{Core: 0, Idle: false, JobID: 2}, state.Cores[0])
	require.Len(t, state.Waiting, 1)
	assert.Equal(t, 1, state.Waiting[0].ID)
	assert.Equal(t, 8, state.Waiting[0].RemainingTime)
}

func TestRemoteRoundRobin(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.RR}))

	_, err := client.JobArrived(ctx, 1, 0, 5, 0)
	require.NoError(t, err)
	_, err = client.JobArrived(ctx, 2, 1, 5, 0)
	require.NoError(t, err)

	next, err := client.QuantumExpired(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	queue, err := client.ShowQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2(0) 1(-1)", queue)
}

func TestRemoteErrorCodes(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 2, Scheme: types.FCFS, Strict: true}))

	_, err := client.JobArrived(ctx, 1, 5, 3, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"duplicate job", func() error { _, err := client.JobArrived(ctx, 1, 6, 3, 0); return err }, codes.AlreadyExists},
		{"time regression", func() error { _, err := client.JobArrived(ctx, 2, 1, 3, 0); return err }, codes.FailedPrecondition},
		{"idle core", func() error { _, err := client.JobFinished(ctx, 1, 1, 7); return err }, codes.FailedPrecondition},
		{"bad core", func() error { _, err := client.JobFinished(ctx, 9, 1, 7); return err }, codes.InvalidArgument},
		{"wrong job", func() error { _, err := client.JobFinished(ctx, 0, 4, 7); return err }, codes.InvalidArgument},
		{"quantum outside rr", func() error { _, err := client.QuantumExpired(ctx, 0, 7); return err }, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestRemoteMalformedRequest(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.FCFS}))

	_, err := client.call(ctx, MethodJobArrived, map[string]any{"job_id": 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "missing fields")

	_, err = client.call(ctx, MethodJobArrived, map[string]any{"job_id": 1.5, "time": 0, "run_time": 1, "priority": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "fractional id")

	_, err = client.call(ctx, MethodJobArrived, map[string]any{"job_id": "one", "time": 0, "run_time": 1, "priority": 0})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "string id")
}

func TestRemoteReset(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.FCFS}))

	_, err := client.JobArrived(ctx, 1, 0, 3, 0)
	require.NoError(t, err)

	require.NoError(t, client.Reset(ctx, 3, types.PPRI, false))
	state, err := client.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PPRI, state.Scheme)
	assert.Len(t, state.Cores, 3)
	assert.Empty(t, state.Waiting)

	// the old job is gone, so its id is free again
	core, err := client.JobArrived(ctx, 1, 0, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, core)

	err = client.Reset(ctx, 0, types.FCFS, false)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.call(ctx, MethodReset, map[string]any{"scheme": "lottery"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRemoteMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith(reg)
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.SJF}, WithMetrics(collector)))

	_, err := client.JobArrived(ctx, 1, 0, 3, 0)
	require.NoError(t, err)
	_, err = client.JobArrived(ctx, 1, 1, 3, 0)
	require.Error(t, err)

	arrived, err := testutil.GatherAndCount(reg, "coresched_jobs_arrived_total")
	require.NoError(t, err)
	assert.Equal(t, 1, arrived)

	rpcs, err := testutil.GatherAndCount(reg, "coresched_rpc_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, rpcs, "one OK series and one AlreadyExists series")
}

func TestServerDirectCall(t *testing.T) {
	s := newTestServer(t, Config{Cores: 1, Scheme: types.FCFS})
	defer s.Close()

	req, err := structpb.NewStruct(map[string]any{"job_id": 3, "time": 0, "run_time": 2, "priority": 1})
	require.NoError(t, err)
	out, err := s.JobArrived(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.GetFields()["core"].GetNumberValue())
}

func TestRemoteDrivenSimulationMatchesLocal(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 2, Scheme: types.RR, Strict: true}))

	w := &workload.Workload{Name: "remote", Jobs: []types.WorkloadJob{
		{ID: 0, Arrival: 0, RunTime: 5, Priority: 2},
		{ID: 1, Arrival: 1, RunTime: 3, Priority: 1},
		{ID: 2, Arrival: 2, RunTime: 6, Priority: 0},
		{ID: 3, Arrival: 4, RunTime: 2, Priority: 3},
	}}
	sim, err := simulator.New(simulator.Config{Cores: 2, Scheme: types.RR, Quantum: 2, Logger: logging.Discard()})
	require.NoError(t, err)

	require.NoError(t, sim.Drive(ctx, w, client.Bind(ctx)))
	remote, err := client.Completed(ctx)
	require.NoError(t, err)

	local, err := sim.Run(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, local.Jobs, remote)
}

func TestRemoteCompletedEmpty(t *testing.T) {
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.FCFS}))

	jobs, err := client.Completed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestServerAveragesChecksEveryAverage(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, Config{Cores: 1, Scheme: types.FCFS})

	req, err := structpb.NewStruct(map[string]any{"job_id": 1, "time": 0, "run_time": 3, "priority": 0})
	require.NoError(t, err)
	_, err = s.JobArrived(ctx, req)
	require.NoError(t, err)
	req, err = structpb.NewStruct(map[string]any{"core": 0, "job_id": 1, "time": 5})
	require.NoError(t, err)
	_, err = s.JobFinished(ctx, req)
	require.NoError(t, err)

	out, err := s.Averages(ctx, &structpb.Struct{})
	require.NoError(t, err)
	fields := out.GetFields()
	assert.Equal(t, 2.0, fields["waiting"].GetNumberValue())
	assert.Equal(t, 5.0, fields["turnaround"].GetNumberValue())
	assert.Equal(t, 0.0, fields["response"].GetNumberValue())

	// 引擎關閉後不回傳部分結果
	s.Close()
	out, err = s.Averages(ctx, &structpb.Struct{})
	assert.Nil(t, out)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRemoteOverrunIsFailedPrecondition(t *testing.T) {
	ctx := context.Background()
	client := startServer(t, newTestServer(t, Config{Cores: 1, Scheme: types.PSJF, Strict: true}))

	_, err := client.JobArrived(ctx, 0, 0, 2, 0)
	require.NoError(t, err)

	// job 0 should have finished at t=2
	_, err = client.JobArrived(ctx, 1, 5, 1, 0)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
