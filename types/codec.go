package types

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Errorf("cbor encoder: %w", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Errorf("cbor decoder: %w", err))
	}
}

// Marshal encodes v with the deterministic CBOR encoding used on the wire and
// for hashing.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data produced by Marshal into v.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}
