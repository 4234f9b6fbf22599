// Package admissionv1 defines the chatgate.v1.Admission gRPC service.
package admissionv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName      = "chatgate.v1.Admission"
	DecideFullMethod = "/chatgate.v1.Admission/Decide"
	LookupFullMethod = "/chatgate.v1.Admission/Lookup"
)

// AdmissionServer is the server API for the Admission service.
type AdmissionServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lookup(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAdmissionServer registers srv on s.
func RegisterAdmissionServer(s grpc.ServiceRegistrar, srv AdmissionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DecideFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdmissionServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func lookupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdmissionServer).Lookup(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LookupFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdmissionServer).Lookup(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for the Admission service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdmissionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
		{MethodName: "Lookup", Handler: lookupHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/admission/v1/admission.proto",
}

// AdmissionClient is the client API for the Admission service.
type AdmissionClient interface {
	Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Lookup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type admissionClient struct {
	cc grpc.ClientConnInterface
}

// NewAdmissionClient wraps cc.
func NewAdmissionClient(cc grpc.ClientConnInterface) AdmissionClient {
	return &admissionClient{cc: cc}
}

func (c *admissionClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, DecideFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *admissionClient) Lookup(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, LookupFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
