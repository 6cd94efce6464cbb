package nspath

import (
	"bytes"
	"fmt"
	"strings"

	u "github.com/ipfs/go-ipfs-util"
	ci "github.com/libp2p/go-libp2p/core/crypto"
	mh "github.com/multiformats/go-multihash"
)

// Namespace is the prefix under which all records are stored, across
// every routing backend.
const Namespace = "/name/"

// Path is a routing key of the form /name/<hash>, where <hash> is the
// B58-encoded multihash of an identity's public key. It is the lookup
// key for a record in any routing backend.
type Path struct {
	s string
	h mh.Multihash
}

var NilPath = Path{}

func (p Path) String() string {
	return p.s
}

func (p Path) Bytes() []byte {
	return []byte(p.s)
}

// Hash returns the multihash of the public key the path was derived from.
func (p Path) Hash() mh.Multihash {
	return p.h
}

func (p Path) IsNil() bool {
	return p.s == ""
}

func (p Path) Equals(o Path) bool {
	return p.s == o.s
}

func (p Path) Pretty() string {
	hash := p.h.B58String()

	// All sha256 hashes start with Qm
	// We can skip the Qm to make the path shorter
	if strings.HasPrefix(hash, "Qm") {
		hash = hash[2:]
	}

	maxRunes := 6
	if len(hash) < maxRunes {
		maxRunes = len(hash)
	}

	return fmt.Sprintf("%s<%s...>", Namespace, hash[:maxRunes])
}

// FromString parses a routing key in its string form, /name/<b58 hash>.
func FromString(txt string) (Path, error) {
	parts := strings.Split(txt, "/")
	if len(parts) != 3 || parts[0] != "" || "/"+parts[1]+"/" != Namespace || parts[2] == "" {
		return NilPath, fmt.Errorf("bad routing key [%s]", txt)
	}

	h, err := mh.FromB58String(parts[2])
	if err != nil {
		return NilPath, fmt.Errorf("bad routing key hash [%s] in [%s]: %v", parts[2], txt, err)
	}

	return Path{txt, h}, nil
}

// FromPubKey derives the routing key for a public key by hashing its
// encoded bytes.
func FromPubKey(pubk ci.PubKey) (Path, error) {
	pkb, err := ci.MarshalPublicKey(pubk)
	if err != nil {
		return NilPath, err
	}
	return fromHash(u.Hash(pkb)), nil
}

// FromBytes normalizes the various forms a caller may hand us into a
// routing key: the string form of a routing key, a raw multihash, or
// raw encoded public key bytes.
func FromBytes(b []byte) (Path, error) {
	if bytes.HasPrefix(b, []byte(Namespace)) {
		return FromString(string(b))
	}

	if h, err := mh.Cast(b); err == nil {
		return fromHash(h), nil
	}

	// Maybe it's an encoded public key
	if pubk, err := ci.UnmarshalPublicKey(b); err == nil {
		return FromPubKey(pubk)
	}

	return NilPath, fmt.Errorf("could not derive routing key from %d byte input", len(b))
}

func fromHash(h mh.Multihash) Path {
	return Path{Namespace + h.B58String(), h}
}

func IsValid(txt string) bool {
	_, err := FromString(txt)
	return err == nil
}
