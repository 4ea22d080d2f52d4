package server

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// serviceFile is the descriptor path advertised through server reflection
const serviceFile = "artifactstore/v1/artifact_service.proto"

func init() {
	if err := registerServiceDescriptor(); err != nil {
		panic(err)
	}
}

// registerServiceDescriptor builds the file descriptor for ArtifactService
// from ArtifactServiceDesc so grpcurl and grpcui can describe it
func registerServiceDescriptor() error {
	structName := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())

	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(ArtifactServiceDesc.Methods))
	for _, m := range ArtifactServiceDesc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.MethodName),
			InputType:  proto.String(structName),
			OutputType: proto.String(structName),
		})
	}

	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(serviceFile),
		Package:    proto.String(string(protoreflect.FullName(ServiceName).Parent())),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String(string(protoreflect.FullName(ServiceName).Name())),
			Method: methods,
		}},
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build %s: %w", serviceFile, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register %s: %w", serviceFile, err)
	}
	return nil
}
