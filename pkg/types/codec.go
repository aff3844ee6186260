package types

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

// codec is shared by every encode/decode on the wire path
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode serializes an outbound message and checks it carries a type
// discriminator.
func Encode(v interface{}) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, ErrUnencodable
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, ErrNotAnObject
	}
	if codec.Get(data, "type").ToString() == "" {
		return nil, ErrMissingType
	}
	return data, nil
}

// DecodeEnvelope parses an inbound text frame. Frames that are not JSON
// objects, or whose type is not a string, are malformed.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return nil, ErrMalformedFrame
	}
	if err := codec.Unmarshal(data, &head); err != nil {
		return nil, ErrMalformedFrame
	}
	raw := make([]byte, len(data))
	copy(raw, data)
	return &Envelope{Type: head.Type, Raw: raw}, nil
}
