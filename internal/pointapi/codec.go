package pointapi

import (
	"fmt"

	"google.golang.org/grpc"
)

// Codec marshals the hand-written messages of this package in protobuf wire
// format. It is named "proto" so requests carry the standard
// application/grpc+proto content type; it is forced per connection rather
// than registered globally so it never replaces the real protobuf codec.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, fmt.Errorf("pointapi: cannot marshal %T", v)
	}
	return m.marshal(), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return fmt.Errorf("pointapi: cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}

// ServerOption installs Codec on a grpc.Server.
func ServerOption() grpc.ServerOption {
	return grpc.ForceServerCodec(Codec{})
}

// CallOption installs Codec on a client call or, through
// grpc.WithDefaultCallOptions, on a connection.
func CallOption() grpc.CallOption {
	return grpc.ForceCodec(Codec{})
}
