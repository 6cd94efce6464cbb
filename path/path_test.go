package nspath

import (
	"testing"

	u "github.com/ipfs/go-ipfs-util"
	ci "github.com/libp2p/go-libp2p/core/crypto"
)

func TestPathParsing(t *testing.T) {
	cases := map[string]bool{
		"/name/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n":   true,
		"//name/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n":  false,
		"/name//QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n":  false,
		"/name/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n/a": false,
		"/ipns/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n":   false,
		"name/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n":    false,
		"/name/badhash": false,
		"/name/":        false,
		"/name":         false,
		"":              false,
	}

	for p, expected := range cases {
		_, err := FromString(p)
		valid := (err == nil)
		if valid != expected {
			t.Fatalf("expected %s to have valid == %t", p, expected)
		}
		if IsValid(p) != expected {
			t.Fatalf("expected IsValid(%s) to be %t", p, expected)
		}
	}
}

func TestFromPubKey(t *testing.T) {
	_, pubk, err := ci.GenerateKeyPair(ci.Ed25519, -1)
	if err != nil {
		t.Fatal(err)
	}

	p, err := FromPubKey(pubk)
	if err != nil {
		t.Fatal(err)
	}

	pkb, err := ci.MarshalPublicKey(pubk)
	if err != nil {
		t.Fatal(err)
	}
	expected := Namespace + u.Hash(pkb).B58String()
	if p.String() != expected {
		t.Fatalf("expected %s, got %s", expected, p.String())
	}

	// Round trip through the string form
	p2, err := FromString(p.String())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equals(p2) {
		t.Fatalf("expected %s to equal %s", p, p2)
	}
}

func TestFromBytesNormalization(t *testing.T) {
	_, pubk, err := ci.GenerateKeyPair(ci.Ed25519, -1)
	if err != nil {
		t.Fatal(err)
	}
	want, err := FromPubKey(pubk)
	if err != nil {
		t.Fatal(err)
	}

	// String form
	p, err := FromBytes(want.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equals(want) {
		t.Fatalf("string form: expected %s, got %s", want, p)
	}

	// Raw multihash
	p, err = FromBytes(want.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equals(want) {
		t.Fatalf("multihash form: expected %s, got %s", want, p)
	}

	// Encoded public key
	pkb, err := ci.MarshalPublicKey(pubk)
	if err != nil {
		t.Fatal(err)
	}
	p, err = FromBytes(pkb)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Equals(want) {
		t.Fatalf("pubkey form: expected %s, got %s", want, p)
	}

	if _, err = FromBytes([]byte("garbage")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestPretty(t *testing.T) {
	p, err := FromString("/name/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n")
	if err != nil {
		t.Fatal(err)
	}
	expected := "/name/<dfTbBq...>"
	if p.Pretty() != expected {
		t.Fatalf("expected Pretty() to return %s, not %s", expected, p.Pretty())
	}
}
