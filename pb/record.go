// Package pb implements the binary record envelope.
//
// The envelope is a protobuf message with fixed field numbers. Other
// implementations of the naming layer produce and consume the same
// bytes, so the field numbers and wire types here are a contract:
//
//	1 value        (bytes)
//	2 signatureV1  (bytes)   legacy signature
//	3 validityType (varint)
//	4 validity     (bytes)
//	5 sequence     (varint)
//	6 ttl          (varint)
//	7 pubKey       (bytes)   optional, absent when derivable from the key
//	8 signatureV2  (bytes)
//	9 data         (bytes)   canonical payload signed by signatureV2
//
// The message is small and its shape is frozen, so it is coded by hand
// against the protobuf wire format rather than generated.
package pb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ValidityType is the interpretation of the Validity field.
type ValidityType uint64

// ValidityEOL means the validity is an RFC3339 expiry timestamp.
const ValidityEOL ValidityType = 0

var ErrCorruptRecord = errors.New("corrupt record envelope")

// Entry is the record envelope. The v1 fields (Value, SignatureV1,
// ValidityType, Validity, Sequence, Ttl) are kept for legacy verifiers;
// Data carries the canonical payload that SignatureV2 signs and is the
// authoritative source for logical fields when present.
type Entry struct {
	Value        []byte
	SignatureV1  []byte
	ValidityType ValidityType
	Validity     []byte
	Sequence     uint64
	Ttl          uint64
	PubKey       []byte
	SignatureV2  []byte
	Data         []byte
}

const (
	fieldValue        = 1
	fieldSignatureV1  = 2
	fieldValidityType = 3
	fieldValidity     = 4
	fieldSequence     = 5
	fieldTtl          = 6
	fieldPubKey       = 7
	fieldSignatureV2  = 8
	fieldData         = 9
)

// Marshal encodes the entry to its wire form.
func (e *Entry) Marshal() ([]byte, error) {
	if e == nil {
		return nil, ErrCorruptRecord
	}

	var b []byte
	b = appendBytesField(b, fieldValue, e.Value)
	b = appendBytesField(b, fieldSignatureV1, e.SignatureV1)
	b = protowire.AppendTag(b, fieldValidityType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.ValidityType))
	b = appendBytesField(b, fieldValidity, e.Validity)
	b = protowire.AppendTag(b, fieldSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Sequence)
	b = protowire.AppendTag(b, fieldTtl, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Ttl)
	b = appendBytesField(b, fieldPubKey, e.PubKey)
	b = appendBytesField(b, fieldSignatureV2, e.SignatureV2)
	b = appendBytesField(b, fieldData, e.Data)
	return b, nil
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// Unmarshal decodes an entry from its wire form. Unknown fields are
// skipped so that newer records remain readable.
func Unmarshal(b []byte) (*Entry, error) {
	e := new(Entry)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
			}
			b = b[n:]
			val := append([]byte(nil), v...)
			switch num {
			case fieldValue:
				e.Value = val
			case fieldSignatureV1:
				e.SignatureV1 = val
			case fieldValidity:
				e.Validity = val
			case fieldPubKey:
				e.PubKey = val
			case fieldSignatureV2:
				e.SignatureV2 = val
			case fieldData:
				e.Data = val
			}
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldValidityType:
				e.ValidityType = ValidityType(v)
			case fieldSequence:
				e.Sequence = v
			case fieldTtl:
				e.Ttl = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	// When the signed payload is present it is authoritative for the
	// logical fields; the envelope copies exist for legacy verifiers.
	// A payload that does not decode is left for signature
	// verification to reject.
	if len(e.Data) > 0 {
		if p, err := ParsePayload(e.Data); err == nil {
			e.Value = p.Value
			e.Validity = p.Validity
			e.ValidityType = ValidityType(p.ValidityType)
			e.Sequence = p.Sequence
			e.Ttl = p.TTL
		}
	}

	return e, nil
}

func (e *Entry) GetValue() []byte { return e.Value }

func (e *Entry) GetSignatureV1() []byte { return e.SignatureV1 }

func (e *Entry) GetValidityType() ValidityType { return e.ValidityType }

func (e *Entry) GetValidity() []byte { return e.Validity }

func (e *Entry) GetSequence() uint64 { return e.Sequence }

func (e *Entry) GetTtl() uint64 { return e.Ttl }

func (e *Entry) GetPubKey() []byte { return e.PubKey }

func (e *Entry) GetSignatureV2() []byte { return e.SignatureV2 }

func (e *Entry) GetData() []byte { return e.Data }
