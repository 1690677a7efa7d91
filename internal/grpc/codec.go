package grpc

import (
	"github.com/oriys/quasar/internal/codec"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the CBOR codec.
const CodecName = "cbor"

type wireCodec struct{ c codec.Codec }

// Codec returns the gRPC codec carrying TaskService messages as CBOR.
func Codec() encoding.Codec { return wireCodec{c: codec.MustCBOR()} }

func (w wireCodec) Name() string                       { return CodecName }
func (w wireCodec) Marshal(v any) ([]byte, error)      { return w.c.Marshal(v) }
func (w wireCodec) Unmarshal(data []byte, v any) error { return w.c.Unmarshal(data, v) }
