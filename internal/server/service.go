// gRPC service descriptor for ArtifactService. Messages are
// google.protobuf.Struct so the default proto codec carries them.
package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name
const ServiceName = "artifactstore.v1.ArtifactService"

// Method names
const (
	MethodAppendVersion           = "AppendVersion"
	MethodGetVersion              = "GetVersion"
	MethodListVersions            = "ListVersions"
	MethodDiffVersions            = "DiffVersions"
	MethodRestoreFull             = "RestoreFull"
	MethodRestoreSelective        = "RestoreSelective"
	MethodAcquireLease            = "AcquireLease"
	MethodReleaseLease            = "ReleaseLease"
	MethodHeartbeat               = "Heartbeat"
	MethodGetLease                = "GetLease"
	MethodCommitWithConflictCheck = "CommitWithConflictCheck"
	MethodResolveConflict         = "ResolveConflict"
	MethodListArtifacts           = "ListArtifacts"
	MethodHealth                  = "Health"
)

// ArtifactServiceServer is the server API for ArtifactService
type ArtifactServiceServer interface {
	AppendVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DiffVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreFull(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RestoreSelective(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcquireLease(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseLease(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Heartbeat(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLease(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CommitWithConflictCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveConflict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListArtifacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ArtifactServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ArtifactServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ArtifactServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ArtifactServiceDesc describes ArtifactService for grpc.Server registration
var ArtifactServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArtifactServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodAppendVersion, ArtifactServiceServer.AppendVersion),
		unaryHandler(MethodGetVersion, ArtifactServiceServer.GetVersion),
		unaryHandler(MethodListVersions, ArtifactServiceServer.ListVersions),
		unaryHandler(MethodDiffVersions, ArtifactServiceServer.DiffVersions),
		unaryHandler(MethodRestoreFull, ArtifactServiceServer.RestoreFull),
		unaryHandler(MethodRestoreSelective, ArtifactServiceServer.RestoreSelective),
		unaryHandler(MethodAcquireLease, ArtifactServiceServer.AcquireLease),
		unaryHandler(MethodReleaseLease, ArtifactServiceServer.ReleaseLease),
		unaryHandler(MethodHeartbeat, ArtifactServiceServer.Heartbeat),
		unaryHandler(MethodGetLease, ArtifactServiceServer.GetLease),
		unaryHandler(MethodCommitWithConflictCheck, ArtifactServiceServer.CommitWithConflictCheck),
		unaryHandler(MethodResolveConflict, ArtifactServiceServer.ResolveConflict),
		unaryHandler(MethodListArtifacts, ArtifactServiceServer.ListArtifacts),
		unaryHandler(MethodHealth, ArtifactServiceServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceFile,
}

// RegisterArtifactServiceServer registers srv on s
func RegisterArtifactServiceServer(s grpc.ServiceRegistrar, srv ArtifactServiceServer) {
	s.RegisterService(&ArtifactServiceDesc, srv)
}
