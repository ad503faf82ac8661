package adapter

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Codec encodes entity records as canonical JSON (RFC 8785) to enable byte
// comparison of record states, and decodes them back
//
//go:generate mockgen -source=codec.go -destination=../mocks/codec.go -package=mocks -mock_names=Codec=MockCodec
type Codec interface {
	// Marshal encodes v and canonicalizes the result
	Marshal(v interface{}) ([]byte, error)
	// Unmarshal decodes data into v
	Unmarshal(data []byte, v interface{}) error
	// Canonicalize rewrites arbitrary JSON into its canonical form
	Canonicalize(data []byte) ([]byte, error)
}

// RealCodec implements Codec using encoding/json and the jcs package
type RealCodec struct{}

// NewCodec creates a new canonical JSON codec
func NewCodec() Codec {
	return &RealCodec{}
}

func (c *RealCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(data)
}

func (c *RealCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (c *RealCodec) Canonicalize(data []byte) ([]byte, error) {
	return jcs.Transform(data)
}
