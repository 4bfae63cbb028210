// Package opsapi defines the letterflow.ops.v1.Operations gRPC service:
// its messages, JSON codec, service descriptor and client.
package opsapi

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "letterflow.ops.v1.Operations"

// Full method names.
const (
	RunEscalationSweepMethod = "/" + ServiceName + "/RunEscalationSweep"
	RunExpirySweepMethod     = "/" + ServiceName + "/RunExpirySweep"
	GetLetterStateMethod     = "/" + ServiceName + "/GetLetterState"
)

type OperationsServer interface {
	RunEscalationSweep(context.Context, *EscalationSweepRequest) (*EscalationSweepResponse, error)
	RunExpirySweep(context.Context, *ExpirySweepRequest) (*ExpirySweepResponse, error)
	GetLetterState(context.Context, *LetterStateRequest) (*LetterStateResponse, error)
}

func RegisterOperationsServer(s grpc.ServiceRegistrar, srv OperationsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(OperationsServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OperationsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OperationsServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OperationsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunEscalationSweep",
			Handler:    unaryHandler(RunEscalationSweepMethod, OperationsServer.RunEscalationSweep),
		},
		{
			MethodName: "RunExpirySweep",
			Handler:    unaryHandler(RunExpirySweepMethod, OperationsServer.RunExpirySweep),
		},
		{
			MethodName: "GetLetterState",
			Handler:    unaryHandler(GetLetterStateMethod, OperationsServer.GetLetterState),
		},
	},
	Metadata: "letterflow/ops/v1/operations",
}
