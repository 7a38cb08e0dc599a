// Package grpc serves the document API over gRPC. Messages are
// google.protobuf.Struct values, so no generated code is needed.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "docrune.v1.DocumentService"

const (
	methodQuery  = "/" + ServiceName + "/Query"
	methodUpsert = "/" + ServiceName + "/Upsert"
	methodRead   = "/" + ServiceName + "/Read"
	methodDelete = "/" + ServiceName + "/Delete"
)

// DocumentServiceServer is the server API for DocumentService.
type DocumentServiceServer interface {
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upsert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Read(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// DocumentServiceDesc describes DocumentService for grpc.Server.RegisterService.
var DocumentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler(methodQuery, DocumentServiceServer.Query)},
		{MethodName: "Upsert", Handler: unaryHandler(methodUpsert, DocumentServiceServer.Upsert)},
		{MethodName: "Read", Handler: unaryHandler(methodRead, DocumentServiceServer.Read)},
		{MethodName: "Delete", Handler: unaryHandler(methodDelete, DocumentServiceServer.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docrune/v1/document.proto",
}

// RegisterDocumentServiceServer registers srv with s.
func RegisterDocumentServiceServer(s grpc.ServiceRegistrar, srv DocumentServiceServer) {
	s.RegisterService(&DocumentServiceDesc, srv)
}

type unaryMethod func(DocumentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DocumentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(DocumentServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DocumentServiceClient is the client API for DocumentService.
type DocumentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDocumentServiceClient creates a client over cc.
func NewDocumentServiceClient(cc grpc.ClientConnInterface) *DocumentServiceClient {
	return &DocumentServiceClient{cc: cc}
}

func (c *DocumentServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Query runs a query and returns one page.
func (c *DocumentServiceClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodQuery, in, opts...)
}

// Upsert writes a document.
func (c *DocumentServiceClient) Upsert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodUpsert, in, opts...)
}

// Read reads a document by partition key and id.
func (c *DocumentServiceClient) Read(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodRead, in, opts...)
}

// Delete deletes a document by partition key and id.
func (c *DocumentServiceClient) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodDelete, in, opts...)
}
