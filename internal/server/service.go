// ============================================================================
// coresched gRPC Service Descriptor
// ============================================================================
//
// Package: internal/server
// File: service.go
// Purpose: Service "coresched.v1.Scheduler", laid out the way
//          protoc-gen-go-grpc lays out generated code. Every request and
//          response is a google.protobuf.Struct (see api/scheduler.proto).
//
// Methods:
//   JobArrived     {job_id, time, run_time, priority} -> {core}
//   JobFinished    {core, job_id, time}               -> {job_id}
//   QuantumExpired {core, time}                       -> {job_id}
//   Averages       {}                                 -> {completed, waiting, turnaround, response}
//   ShowQueue      {}                                 -> {queue}
//   Completed      {}                                 -> {jobs: [JobRecord...]}
//   State          {}                                 -> EngineState as JSON object
//   Reset          {cores, scheme, strict}            -> {}
//
// ============================================================================

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "coresched.v1.Scheduler"

const (
	MethodJobArrived     = "JobArrived"
	MethodJobFinished    = "JobFinished"
	MethodQuantumExpired = "QuantumExpired"
	MethodAverages       = "Averages"
	MethodShowQueue      = "ShowQueue"
	MethodCompleted      = "Completed"
	MethodState          = "State"
	MethodReset          = "Reset"
)

// SchedulerServer is the server API for the Scheduler service.
type SchedulerServer interface {
	JobArrived(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JobFinished(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QuantumExpired(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Averages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ShowQueue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Completed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSchedulerServer registers srv on s.
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&SchedulerServiceDesc, srv)
}

type unaryCall func(SchedulerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SchedulerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SchedulerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SchedulerServiceDesc is the grpc.ServiceDesc for the Scheduler service.
var SchedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodJobArrived, SchedulerServer.JobArrived),
		unary(MethodJobFinished, SchedulerServer.JobFinished),
		unary(MethodQuantumExpired, SchedulerServer.QuantumExpired),
		unary(MethodAverages, SchedulerServer.Averages),
		unary(MethodShowQueue, SchedulerServer.ShowQueue),
		unary(MethodCompleted, SchedulerServer.Completed),
		unary(MethodState, SchedulerServer.State),
		unary(MethodReset, SchedulerServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/scheduler.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}
