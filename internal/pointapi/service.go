package pointapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "normalgw.bacnet.v1.Configuration"

const (
	methodGetLocalObjects   = "GetLocalObjects"
	methodCreateLocalObject = "CreateLocalObject"
	methodDeleteLocalObject = "DeleteLocalObject"
	methodUpdateLocalObject = "UpdateLocalObject"
)

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// ConfigurationClient is the client API of the Configuration service.
type ConfigurationClient interface {
	GetLocalObjects(ctx context.Context, in *GetLocalObjectsRequest) (*GetLocalObjectsReply, error)
	CreateLocalObject(ctx context.Context, in *CreateLocalObjectRequest) (*Empty, error)
	DeleteLocalObject(ctx context.Context, in *DeleteLocalObjectRequest) (*Empty, error)
	UpdateLocalObject(ctx context.Context, in *UpdateLocalObjectRequest) (*Empty, error)
}

// ConfigurationServer is the server API of the Configuration service.
type ConfigurationServer interface {
	GetLocalObjects(context.Context, *GetLocalObjectsRequest) (*GetLocalObjectsReply, error)
	CreateLocalObject(context.Context, *CreateLocalObjectRequest) (*Empty, error)
	DeleteLocalObject(context.Context, *DeleteLocalObjectRequest) (*Empty, error)
	UpdateLocalObject(context.Context, *UpdateLocalObjectRequest) (*Empty, error)
}

// UnimplementedConfigurationServer answers every method with Unimplemented.
type UnimplementedConfigurationServer struct{}

func (UnimplementedConfigurationServer) GetLocalObjects(context.Context, *GetLocalObjectsRequest) (*GetLocalObjectsReply, error) {
	return nil, status.Error(codes.Unimplemented, "method GetLocalObjects not implemented")
}

func (UnimplementedConfigurationServer) CreateLocalObject(context.Context, *CreateLocalObjectRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateLocalObject not implemented")
}

func (UnimplementedConfigurationServer) DeleteLocalObject(context.Context, *DeleteLocalObjectRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method DeleteLocalObject not implemented")
}

func (UnimplementedConfigurationServer) UpdateLocalObject(context.Context, *UpdateLocalObjectRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateLocalObject not implemented")
}

// RegisterConfigurationServer registers srv on s. The server must be created
// with ServerOption so requests are decoded by Codec.
func RegisterConfigurationServer(s grpc.ServiceRegistrar, srv ConfigurationServer) {
	s.RegisterService(&configurationServiceDesc, srv)
}

// unaryHandler adapts one typed server method to a grpc.MethodHandler.
func unaryHandler[Req any, Resp any](method string, call func(ConfigurationServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConfigurationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ConfigurationServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var configurationServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ConfigurationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodGetLocalObjects,
			Handler:    unaryHandler(methodGetLocalObjects, ConfigurationServer.GetLocalObjects),
		},
		{
			MethodName: methodCreateLocalObject,
			Handler:    unaryHandler(methodCreateLocalObject, ConfigurationServer.CreateLocalObject),
		},
		{
			MethodName: methodDeleteLocalObject,
			Handler:    unaryHandler(methodDeleteLocalObject, ConfigurationServer.DeleteLocalObject),
		},
		{
			MethodName: methodUpdateLocalObject,
			Handler:    unaryHandler(methodUpdateLocalObject, ConfigurationServer.UpdateLocalObject),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "normalgw/bacnet/v1/bacnet.proto",
}
