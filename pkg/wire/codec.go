package wire

import (
	"github.com/goccy/go-json"
)

// Codec carries RPC messages as canonical CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec, so one value serves the Connect
// handlers, the Connect client and the gRPC client ("application/cbor",
// "application/grpc+cbor").
type Codec struct{}

// CodecName is the content subtype of Codec.
const CodecName = "cbor"

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return decMode.Unmarshal(data, v)
}

// JSONCodec carries RPC messages as plain JSON ("application/json"), so
// procedures can be called with curl. It replaces Connect's protobuf JSON
// codec, which only handles generated messages.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
