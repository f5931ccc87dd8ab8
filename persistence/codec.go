package persistence

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode produces Core Deterministic Encoding, so the same entry always gives the same bytes
// and the same checksum.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("persistence: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Nested metadata fields are decoded into map[string]any instead of map[any]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("persistence: CBOR decoder initialization failed: " + err.Error())
	}
}
