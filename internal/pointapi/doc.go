// Package pointapi is a gRPC client for the point server's
// normalgw.bacnet.v1.Configuration service, which manages the server's
// local BACnet objects.
//
// Messages are plain Go structs serialized with protowire; Codec carries
// them over a standard gRPC channel. The wire contract, field numbers
// included, is proto/normalgw/bacnet/v1/bacnet.proto, and the tests check
// the encoders against it.
//
// The package also registers the same service on a grpc.Server, which the
// tests use as an in-process fake.
package pointapi
