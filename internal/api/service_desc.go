package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ais.contacts.v1.ContactService"

// Full method names.
const (
	MethodReportPosition        = "/" + ServiceName + "/ReportPosition"
	MethodGetFleet              = "/" + ServiceName + "/GetFleet"
	MethodGetPredictedFleet     = "/" + ServiceName + "/GetPredictedFleet"
	MethodGetPredictedPositions = "/" + ServiceName + "/GetPredictedPositions"
	MethodGetLatest             = "/" + ServiceName + "/GetLatest"
	MethodExportSnapshots       = "/" + ServiceName + "/ExportSnapshots"
	MethodImportSnapshots       = "/" + ServiceName + "/ImportSnapshots"
)

// ContactServiceServer is the server side of ais.contacts.v1.ContactService.
// Messages are protobuf well-known types; see convert.go for their shapes.
type ContactServiceServer interface {
	ReportPosition(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	GetFleet(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetPredictedFleet(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	GetPredictedPositions(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetLatest(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	ExportSnapshots(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ImportSnapshots(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// ContactServiceDesc describes the service for grpc.Server registration.
var ContactServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ContactServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReportPosition", Handler: unary(MethodReportPosition, ContactServiceServer.ReportPosition)},
		{MethodName: "GetFleet", Handler: unary(MethodGetFleet, ContactServiceServer.GetFleet)},
		{MethodName: "GetPredictedFleet", Handler: unary(MethodGetPredictedFleet, ContactServiceServer.GetPredictedFleet)},
		{MethodName: "GetPredictedPositions", Handler: unary(MethodGetPredictedPositions, ContactServiceServer.GetPredictedPositions)},
		{MethodName: "GetLatest", Handler: unary(MethodGetLatest, ContactServiceServer.GetLatest)},
		{MethodName: "ExportSnapshots", Handler: unary(MethodExportSnapshots, ContactServiceServer.ExportSnapshots)},
		{MethodName: "ImportSnapshots", Handler: unary(MethodImportSnapshots, ContactServiceServer.ImportSnapshots)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterContactServiceServer registers srv on s.
func RegisterContactServiceServer(s grpc.ServiceRegistrar, srv ContactServiceServer) {
	s.RegisterService(&ContactServiceDesc, srv)
}

// unary adapts a typed method expression to grpc's untyped handler,
// running the server's interceptor chain when one is installed.
func unary[Req any, Resp any](
	fullMethod string,
	call func(ContactServiceServer, context.Context, *Req) (Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ContactServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ContactServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
