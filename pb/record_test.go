package pb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRoundTrip(t *testing.T) {
	e := &Entry{
		Value:        []byte("/ipfs/QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n"),
		SignatureV1:  []byte("sig1"),
		ValidityType: ValidityEOL,
		Validity:     []byte("2026-01-02T15:04:05Z"),
		Sequence:     42,
		Ttl:          uint64(300e9),
		PubKey:       []byte("pubkey"),
		SignatureV2:  []byte("sig2"),
	}
	data, err := CanonicalPayload(e)
	require.NoError(t, err)
	e.Data = data

	b, err := e.Marshal()
	require.NoError(t, err)

	e2, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, e, e2)
}

func TestRoundTripRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randBytes := func() []byte {
		b := make([]byte, 1+rng.Intn(64))
		rng.Read(b)
		return b
	}

	for i := 0; i < 100; i++ {
		e := &Entry{
			Value:        randBytes(),
			SignatureV1:  randBytes(),
			ValidityType: ValidityType(rng.Intn(2)),
			Validity:     randBytes(),
			Sequence:     rng.Uint64(),
			Ttl:          rng.Uint64(),
			PubKey:       randBytes(),
			SignatureV2:  randBytes(),
		}
		data, err := CanonicalPayload(e)
		require.NoError(t, err)
		e.Data = data

		b, err := e.Marshal()
		require.NoError(t, err)

		e2, err := Unmarshal(b)
		require.NoError(t, err)
		require.Equal(t, e, e2)
	}
}

func TestDataPayloadAuthoritative(t *testing.T) {
	e := &Entry{
		Value:    []byte("envelope value"),
		Sequence: 1,
		Ttl:      100,
		Validity: []byte("2026-01-02T15:04:05Z"),
	}
	data, err := CanonicalPayload(&Entry{
		Value:    []byte("payload value"),
		Sequence: 9,
		Ttl:      200,
		Validity: []byte("2027-01-02T15:04:05Z"),
	})
	require.NoError(t, err)
	e.Data = data

	b, err := e.Marshal()
	require.NoError(t, err)
	e2, err := Unmarshal(b)
	require.NoError(t, err)

	// The signed payload wins over the envelope copies
	require.Equal(t, []byte("payload value"), e2.GetValue())
	require.Equal(t, uint64(9), e2.GetSequence())
	require.Equal(t, uint64(200), e2.GetTtl())
	require.Equal(t, []byte("2027-01-02T15:04:05Z"), e2.GetValidity())
	require.Equal(t, data, e2.GetData())

	// An undecodable payload leaves the envelope fields alone
	e.Data = []byte{0xff}
	b, err = e.Marshal()
	require.NoError(t, err)
	e2, err = Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, []byte("envelope value"), e2.GetValue())
	require.Equal(t, uint64(1), e2.GetSequence())
}

func TestOptionalPubKeyOmitted(t *testing.T) {
	e := &Entry{
		Value:    []byte("val"),
		Sequence: 1,
	}

	b, err := e.Marshal()
	require.NoError(t, err)

	e2, err := Unmarshal(b)
	require.NoError(t, err)
	require.Nil(t, e2.PubKey)
	require.Equal(t, e.Value, e2.Value)
	require.Equal(t, e.Sequence, e2.Sequence)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	e := &Entry{Value: []byte("val"), Sequence: 7}
	b, err := e.Marshal()
	require.NoError(t, err)

	// A future field this version does not know about
	b = protowire.AppendTag(b, 20, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	e2, err := Unmarshal(b)
	require.NoError(t, err)
	require.Equal(t, e.Value, e2.Value)
	require.Equal(t, e.Sequence, e2.Sequence)
}

func TestCorruptInput(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.Error(t, err)

	// Truncated bytes field
	b := protowire.AppendTag(nil, fieldValue, protowire.BytesType)
	b = protowire.AppendVarint(b, 100)
	b = append(b, []byte("short")...)
	_, err = Unmarshal(b)
	require.Error(t, err)
}
