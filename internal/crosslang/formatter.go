// Package crosslang prepares arguments for functions that run in a foreign
// runtime. Arguments are carried as protobuf-encoded structpb values, which
// every runtime with a protobuf library can decode.
package crosslang

import (
	"github.com/oriys/quasar/internal/domain"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFormatter encodes each positional argument as a serialized
// google.protobuf.Value.
type ProtoFormatter struct {
	mo proto.MarshalOptions
}

// NewProtoFormatter returns a formatter with deterministic marshaling.
func NewProtoFormatter() *ProtoFormatter {
	return &ProtoFormatter{mo: proto.MarshalOptions{Deterministic: true}}
}

// FormatArgs rejects keyword arguments and encodes args in order.
func (f *ProtoFormatter) FormatArgs(args []any, kwargs map[string]any) ([]any, error) {
	if len(kwargs) > 0 {
		return nil, domain.Bindingf("cross-language functions cannot be called with keyword arguments (got %d)", len(kwargs))
	}
	out := make([]any, 0, len(args))
	for i, arg := range args {
		v, err := structpb.NewValue(normalize(arg))
		if err != nil {
			return nil, domain.Validationf("argument %d of type %T cannot cross runtimes: %v", i, arg, err)
		}
		b, err := f.mo.Marshal(v)
		if err != nil {
			return nil, domain.Validationf("argument %d: %v", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// DecodeArg reverses FormatArgs for one argument.
func DecodeArg(b []byte) (any, error) {
	var v structpb.Value
	if err := proto.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v.AsInterface(), nil
}

// normalize widens common Go container types that structpb does not accept
// directly.
func normalize(v any) any {
	switch x := v.(type) {
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out
	case map[string]float64:
		out := make(map[string]any, len(x))
		for k, n := range x {
			out[k] = n
		}
		return out
	}
	return v
}
