// Package rpc carries quote and trade rows to the downstream
// tick-capture service over a real gRPC transport (HTTP/2 framing,
// binary encoding, multiplexed streams) without depending on the
// protoc-generated message types: a custom encoding.Codec gob-encodes
// plain Go structs in place of protobuf wire bytes, grounded on
// grpc-go's pluggable-codec mechanism.
package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding registry and selected
// per call as the content subtype (content-type application/grpc+gob).
const codecName = "gob"

// gobCodec implements google.golang.org/grpc/encoding.Codec.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob decode: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return codecName }

// RegisterCodec installs the gob codec into grpc's global encoding
// registry. Must be called once before dialing or serving.
func RegisterCodec() {
	encoding.RegisterCodec(gobCodec{})
}
