// Package codec serializes exported functions, submission payloads and
// transport messages.
package codec

// Codec marshals values to and from one wire format. Implementations must be
// deterministic so identical values produce identical bytes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry returns a registry preloaded with JSON and Protobuf. CBOR can be
// added via Register once constructed.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds c under its content type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for contentType, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
