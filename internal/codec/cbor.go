// Package codec provides the canonical CBOR encoding used for value payloads.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Logically
// equal data always produces identical bytes, which is what makes content
// identities stable.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payloads decoded into any must come back as map[string]any so
		// callers can treat them like decoded JSON.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// All integers decode as int64 regardless of sign.
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Decodable reports whether data decodes into a generic value. Encoding is
// more permissive than decoding: integers above math.MaxInt64, strings that
// are not valid UTF-8 and maps keyed by anything but strings all encode but
// fail here.
func Decodable(data []byte) error {
	var v any
	return decMode.Unmarshal(data, &v)
}

// RawMessage is a raw encoded CBOR value.
type RawMessage = cbor.RawMessage

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
