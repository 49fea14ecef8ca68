package config

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const configPackage = "arbor.config"

// The config file schema. Every scalar field sets the flag with the same name; messages only group fields.
var configSchema = &descriptorpb.DescriptorProto{
	Name: proto.String("Config"),
	Field: []*descriptorpb.FieldDescriptorProto{
		messageField("server", 1, "Config.Server"),
		messageField("logging", 2, "Config.Logging"),
		messageField("keyspace", 3, "Config.Keyspace"),
	},
	NestedType: []*descriptorpb.DescriptorProto{
		{
			Name: proto.String("Server"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("address", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("metrics_address", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("max_list_length", 3, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			},
		},
		{
			Name: proto.String("Logging"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("log_handler_type", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				scalarField("log_level", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			},
		},
		{
			Name: proto.String("Keyspace"),
			Field: []*descriptorpb.FieldDescriptorProto{
				scalarField("keyspace_shard_count", 1, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				scalarField("keyspace_bloom_capacity", 2, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
				scalarField("keyspace_bloom_fp_rate", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
			},
		},
	},
}

func scalarField(name string, number int32, kind descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   kind.Enum(),
	}
}

func messageField(name string, number int32, messageName string) *descriptorpb.FieldDescriptorProto {
	field := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	field.TypeName = proto.String("." + configPackage + "." + messageName)
	return field
}

// configDescriptor builds the descriptor of the arbor.config.Config message.
func configDescriptor() (protoreflect.MessageDescriptor, error) {
	file, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:        proto.String("arbor/config.proto"),
		Package:     proto.String(configPackage),
		Syntax:      proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{configSchema},
	}, nil /*resolver*/)
	if err != nil {
		return nil, fmt.Errorf("failed to build config schema: %w", err)
	}
	return file.Messages().ByName("Config"), nil
}
