package pb

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Payload is the logical content of a record: the five fields covered
// by the v2 signature. Its canonical encoding is CBOR with map keys in
// bytewise-lexicographic order (which for these names is also
// alphabetical). Byte-identical encodings across implementations are
// required for cross-implementation signature verification.
type Payload struct {
	Sequence     uint64 `cbor:"Sequence"`
	TTL          uint64 `cbor:"TTL"`
	Validity     []byte `cbor:"Validity"`
	ValidityType uint64 `cbor:"ValidityType"`
	Value        []byte `cbor:"Value"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %s", err))
	}
}

// CanonicalPayload returns the deterministic encoding of the entry's
// logical fields. This exact byte string, behind a domain separation
// tag, is what SignatureV2 signs.
func CanonicalPayload(e *Entry) ([]byte, error) {
	return encMode.Marshal(&Payload{
		Sequence:     e.GetSequence(),
		TTL:          e.GetTtl(),
		Validity:     e.GetValidity(),
		ValidityType: uint64(e.GetValidityType()),
		Value:        e.GetValue(),
	})
}

// ParsePayload decodes a canonical payload.
func ParsePayload(data []byte) (*Payload, error) {
	p := new(Payload)
	if err := cbor.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
