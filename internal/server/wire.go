package server

import (
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Both services carry google.protobuf.Struct on the wire, encoded by the
// default proto codec. Requests and responses keep their JSON field names, so
// a Struct built by grpcurl or any proto client maps straight onto them.

const (
	serviceProtoFile = "prescriptions/v1/service.proto"
	servicePackage   = "prescriptions.v1"
	structTypeName   = ".google.protobuf.Struct"
)

func init() {
	fdp := serviceFileProto(&prescriptionServiceDesc, &ingestionServiceDesc)
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic("server: build service descriptor: " + err.Error())
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic("server: register service descriptor: " + err.Error())
	}
}

// serviceFileProto describes the given services as a proto3 file whose
// methods all take and return google.protobuf.Struct.
func serviceFileProto(descs ...*grpc.ServiceDesc) *descriptorpb.FileDescriptorProto {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(serviceProtoFile),
		Package:    proto.String(servicePackage),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
	}
	for _, sd := range descs {
		svc := &descriptorpb.ServiceDescriptorProto{
			Name: proto.String(strings.TrimPrefix(sd.ServiceName, servicePackage+".")),
		}
		for _, m := range sd.Methods {
			svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
				Name:       proto.String(m.MethodName),
				InputType:  proto.String(structTypeName),
				OutputType: proto.String(structTypeName),
			})
		}
		fdp.Service = append(fdp.Service, svc)
	}
	return fdp
}

// toStruct converts a request or response into its wire form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// fromStruct fills v from its wire form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
