// Package record implements construction, signing, verification and
// selection of naming records.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"
	pb "github.com/dirkmc/go-namesys/pb"
	u "github.com/ipfs/go-ipfs-util"
	logging "github.com/ipfs/go-log/v2"
	ci "github.com/libp2p/go-libp2p/core/crypto"
	mh "github.com/multiformats/go-multihash"
)

var log = logging.Logger("namesys.record")

var (
	ErrInvalidRecord = errors.New("invalid record")
	ErrExpiredRecord = errors.New("expired record")
	ErrInvalidKey    = errors.New("public key does not match routing key")
	ErrSignature     = errors.New("record signature verification failed")
)

// New builds an unsigned record pointing at val, expiring at eol. The
// ttl is an advisory cache lifetime, distinct from the validity.
func New(val string, seq uint64, eol time.Time, ttl time.Duration) *pb.Entry {
	return &pb.Entry{
		Value:        []byte(val),
		ValidityType: pb.ValidityEOL,
		Validity:     []byte(u.FormatRFC3339(eol)),
		Sequence:     seq,
		Ttl:          uint64(ttl.Nanoseconds()),
	}
}

// Sign populates both record signatures: the legacy v1 signature over a
// field concatenation, and the v2 signature over the canonical payload.
// Both are produced so that older verifiers can still check the record.
// When embedKey is true the encoded public key is carried in the record;
// verifiers otherwise have to derive it from the routing key.
func Sign(sk ci.PrivKey, e *pb.Entry, embedKey bool) error {
	sig1, err := sk.Sign(dataForSigV1(e))
	if err != nil {
		return err
	}
	e.SignatureV1 = sig1

	data, err := pb.CanonicalPayload(e)
	if err != nil {
		return err
	}
	e.Data = data

	sig2, err := sk.Sign(dataForSigV2(data))
	if err != nil {
		return err
	}
	e.SignatureV2 = sig2

	if embedKey {
		pkb, err := ci.MarshalPublicKey(sk.GetPublic())
		if err != nil {
			return err
		}
		e.PubKey = pkb
	}

	return nil
}

// Verify checks the v2 signature against the canonical payload and the
// given public key, and checks that the payload agrees with the outer
// envelope fields. Any decode or crypto failure rejects the record.
func Verify(pubk ci.PubKey, e *pb.Entry) error {
	if e == nil || len(e.Data) == 0 || len(e.SignatureV2) == 0 {
		return fmt.Errorf("%w: missing v2 signature data", ErrInvalidRecord)
	}

	ok, err := pubk.Verify(dataForSigV2(e.Data), e.SignatureV2)
	if err != nil || !ok {
		return ErrSignature
	}

	// The signed payload is authoritative. An entry whose fields
	// disagree with it was tampered with after signing.
	p, err := pb.ParsePayload(e.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if p.Sequence != e.Sequence ||
		p.TTL != e.Ttl ||
		p.ValidityType != uint64(e.ValidityType) ||
		!bytes.Equal(p.Validity, e.Validity) ||
		!bytes.Equal(p.Value, e.Value) {
		return fmt.Errorf("%w: envelope fields do not match signed payload", ErrInvalidRecord)
	}

	return nil
}

// ExtractPublicKey recovers the public key for a record published under
// the given routing key, either from the key embedded in the record or,
// for identity-hashed keys, from the routing key itself. The key must
// hash back to the routing key or it is rejected.
func ExtractPublicKey(p rsp.Path, e *pb.Entry) (ci.PubKey, error) {
	if len(e.GetPubKey()) > 0 {
		pubk, err := ci.UnmarshalPublicKey(e.GetPubKey())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}

		expected, err := rsp.FromPubKey(pubk)
		if err != nil {
			return nil, err
		}
		if !expected.Equals(p) {
			return nil, ErrInvalidKey
		}
		return pubk, nil
	}

	dec, err := mh.Decode(p.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if dec.Code == mh.IDENTITY {
		pubk, err := ci.UnmarshalPublicKey(dec.Digest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return pubk, nil
	}

	return nil, fmt.Errorf("%w: record carries no public key", ErrInvalidKey)
}

// Validity parses the record's expiry timestamp.
func Validity(e *pb.Entry) (time.Time, error) {
	if e.GetValidityType() != pb.ValidityEOL {
		return time.Time{}, fmt.Errorf("%w: unrecognized validity type %d", ErrInvalidRecord, e.GetValidityType())
	}
	t, err := u.ParseRFC3339(string(e.GetValidity()))
	if err != nil {
		log.Debugf("failed to parse validity [%s]: %s", e.GetValidity(), err)
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return t, nil
}

// IsExpired reports whether the record's validity has elapsed at now.
func IsExpired(e *pb.Entry, now time.Time) bool {
	t, err := Validity(e)
	if err != nil {
		return true
	}
	return !now.Before(t)
}

// TTL returns the record's advisory cache lifetime.
func TTL(e *pb.Entry) time.Duration {
	return time.Duration(e.GetTtl())
}

// dataForSigV1 is the legacy concatenation signing format, kept for
// compatibility with old verifiers.
func dataForSigV1(e *pb.Entry) []byte {
	return bytes.Join([][]byte{
		e.Value,
		e.Validity,
		[]byte(fmt.Sprint(e.GetValidityType())),
	},
		[]byte{})
}
