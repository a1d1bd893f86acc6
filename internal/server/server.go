package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/coresched/internal/metrics"
	"github.com/ChuLiYu/coresched/internal/scheduler"
	"github.com/ChuLiYu/coresched/pkg/types"
)

// Config describes the engine the server drives.
type Config struct {
	Cores    int
	Scheme   types.Scheme
	Strict   bool
	Observer scheduler.Observer // optional, kept across Reset
}

// Server implements the Scheduler service over one engine. The engine is
// single-threaded; every call is serialised behind mu.
type Server struct {
	mu       sync.Mutex
	engine   *scheduler.Engine
	config   Config
	observer scheduler.Observer

	collector *metrics.Collector // optional
	log       *slog.Logger
}

var _ SchedulerServer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMetrics records every RPC and engine transition on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Server) { s.collector = collector }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// NewServer creates a server with a fresh engine.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.reset(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// NewGRPCServer returns a grpc.Server with the Scheduler service and the
// logging/metrics interceptor registered.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.intercept))
	gs := grpc.NewServer(opts...)
	RegisterSchedulerServer(gs, s)
	return gs
}

// Close releases the engine.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		s.engine.CleanUp()
	}
}

// reset replaces the engine. Caller holds mu or is the constructor.
func (s *Server) reset(cfg Config) error {
	observer := cfg.Observer
	if s.collector != nil {
		observer = scheduler.MultiObserver(observer, s.collector.Observer(cfg.Scheme))
	}
	engine, err := scheduler.New(scheduler.Config{
		Cores:    cfg.Cores,
		Scheme:   cfg.Scheme,
		Strict:   cfg.Strict,
		Observer: observer,
		Logger:   s.log,
	})
	if err != nil {
		return err
	}
	if s.engine != nil {
		s.engine.CleanUp()
	}
	s.engine = engine
	s.config = cfg
	s.observer = observer
	s.log.Info("Engine ready", "scheme", cfg.Scheme.String(), "cores", cfg.Cores, "strict", cfg.Strict)
	return nil
}

// ============================================================================
// RPC handlers
// ============================================================================

// JobArrived handles {job_id, time, run_time, priority}.
func (s *Server) JobArrived(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req: req}
	jobID, t, runTime, priority := f.num("job_id"), f.num("time"), f.num("run_time"), f.num("priority")
	if f.err != nil {
		return nil, f.err
	}

	s.mu.Lock()
	core, err := s.engine.JobArrived(jobID, t, runTime, priority)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"core": core})
}

// JobFinished handles {core, job_id, time}.
func (s *Server) JobFinished(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req: req}
	core, jobID, t := f.num("core"), f.num("job_id"), f.num("time")
	if f.err != nil {
		return nil, f.err
	}

	s.mu.Lock()
	next, err := s.engine.JobFinished(core, jobID, t)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"job_id": next})
}

// QuantumExpired handles {core, time}.
func (s *Server) QuantumExpired(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := fields{req: req}
	core, t := f.num("core"), f.num("time")
	if f.err != nil {
		return nil, f.err
	}

	s.mu.Lock()
	next, err := s.engine.QuantumExpired(core, t)
	s.mu.Unlock()
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{"job_id": next})
}

// Averages returns the three averages and the completion count.
func (s *Server) Averages(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	avgWaiting, err := s.engine.AverageWaitingTime()
	if err != nil {
		return nil, toStatus(err)
	}
	avgTurnaround, err := s.engine.AverageTurnaroundTime()
	if err != nil {
		return nil, toStatus(err)
	}
	avgResponse, err := s.engine.AverageResponseTime()
	if err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{
		"completed":  s.engine.Stats().Completed,
		"waiting":    avgWaiting,
		"turnaround": avgTurnaround,
		"response":   avgResponse,
	})
}

// ShowQueue returns the engine's debug rendering.
func (s *Server) ShowQueue(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	queue := s.engine.ShowQueue()
	s.mu.Unlock()
	return response(map[string]any{"queue": queue})
}

// Completed returns the completion records in completion order.
func (s *Server) Completed(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	jobs := s.engine.Completed()
	s.mu.Unlock()
	return jsonResponse(map[string]any{"jobs": jobs})
}

// State returns types.EngineState as a JSON object.
func (s *Server) State(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	state := s.engine.State()
	s.mu.Unlock()
	return jsonResponse(state)
}

// Reset handles {cores, scheme, strict}. Missing fields keep their
// current values.
func (s *Server) Reset(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.config
	f := fields{req: req}
	if f.has("cores") {
		cfg.Cores = f.num("cores")
	}
	if f.has("scheme") {
		scheme, err := types.ParseScheme(f.str("scheme"))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		cfg.Scheme = scheme
	}
	if f.has("strict") {
		cfg.Strict = req.Fields["strict"].GetBoolValue()
	}
	if f.err != nil {
		return nil, f.err
	}

	if err := s.reset(cfg); err != nil {
		return nil, toStatus(err)
	}
	return response(map[string]any{})
}

// intercept logs and counts every call.
func (s *Server) intercept(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	if s.collector != nil {
		s.collector.RecordRPC(info.FullMethod, code.String())
	}
	if err != nil {
		s.log.Warn("RPC failed", "method", info.FullMethod, "code", code.String(), "error", err)
	} else {
		s.log.Debug("RPC handled", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// ============================================================================
// helpers
// ============================================================================

// fields reads typed values out of a Struct, keeping the first error.
type fields struct {
	req *structpb.Struct
	err error
}

func (f *fields) has(name string) bool {
	_, ok := f.req.GetFields()[name]
	return ok
}

func (f *fields) num(name string) int {
	if f.err != nil {
		return 0
	}
	v, ok := f.req.GetFields()[name]
	if !ok {
		f.err = status.Errorf(codes.InvalidArgument, "missing field %q", name)
		return 0
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) {
		f.err = status.Errorf(codes.InvalidArgument, "field %q must be an integer", name)
		return 0
	}
	return int(n.NumberValue)
}

func (f *fields) str(name string) string {
	if f.err != nil {
		return ""
	}
	v, ok := f.req.GetFields()[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		f.err = status.Errorf(codes.InvalidArgument, "field %q must be a string", name)
		return ""
	}
	return v.StringValue
}

// jsonResponse converts v to a Struct through its JSON encoding.
func jsonResponse(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "unmarshal response: %v", err)
	}
	return response(m)
}

func response(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return out, nil
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, scheduler.ErrEngineClosed):
		code = codes.Unavailable
	case errors.Is(err, scheduler.ErrCoreIdle),
		errors.Is(err, scheduler.ErrQuantumNotApplicable),
		errors.Is(err, scheduler.ErrNoCompletedJobs),
		errors.Is(err, scheduler.ErrTimeRegression),
		errors.Is(err, scheduler.ErrOverrun):
		code = codes.FailedPrecondition
	case errors.Is(err, scheduler.ErrDuplicateJob),
		errors.Is(err, scheduler.ErrDuplicateArrival):
		code = codes.AlreadyExists
	case errors.Is(err, scheduler.ErrInvalidCore),
		errors.Is(err, scheduler.ErrJobMismatch),
		errors.Is(err, scheduler.ErrInvalidRunTime),
		errors.Is(err, scheduler.ErrInvalidCoreCount),
		errors.Is(err, scheduler.ErrUnknownScheme):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
