package keychain

import (
	"sync"
	"testing"

	rsp "github.com/dirkmc/go-namesys/path"
	ci "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	kc := New()

	sk1, err := kc.GetOrCreate("site")
	require.NoError(t, err)

	// Second call returns the same key, not a new one
	sk2, err := kc.GetOrCreate("site")
	require.NoError(t, err)
	require.True(t, sk1.Equals(sk2))

	// A different label gets a different key
	sk3, err := kc.GetOrCreate("blog")
	require.NoError(t, err)
	require.False(t, sk1.Equals(sk3))
}

func TestGetOrCreateConcurrent(t *testing.T) {
	kc := New()
	keys := make([]ci.PrivKey, 10)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = kc.GetOrCreate("site")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	for i := 1; i < 10; i++ {
		require.True(t, keys[0].Equals(keys[i]), "concurrent GetOrCreate returned different keys")
	}
}

func TestRoutingKey(t *testing.T) {
	kc := New()
	sk, err := kc.GetOrCreate("site")
	require.NoError(t, err)

	p, err := kc.RoutingKey("site")
	require.NoError(t, err)

	expected, err := rsp.FromPubKey(sk.GetPublic())
	require.NoError(t, err)
	require.True(t, p.Equals(expected))

	_, err = kc.RoutingKey("nope")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestExportPublic(t *testing.T) {
	kc := New()
	sk, err := kc.GetOrCreate("site")
	require.NoError(t, err)

	pkb, err := kc.ExportPublic("site")
	require.NoError(t, err)

	pubk, err := ci.UnmarshalPublicKey(pkb)
	require.NoError(t, err)
	require.True(t, pubk.Equals(sk.GetPublic()))
}

func TestExportImport(t *testing.T) {
	kc := New()
	sk, err := kc.GetOrCreate("site")
	require.NoError(t, err)

	skb, err := kc.Export("site")
	require.NoError(t, err)

	// Import into a fresh keychain yields the same identity
	kc2 := New()
	imported, err := kc2.Import("site", skb)
	require.NoError(t, err)
	require.True(t, imported.Equals(sk))

	p1, err := kc.RoutingKey("site")
	require.NoError(t, err)
	p2, err := kc2.RoutingKey("site")
	require.NoError(t, err)
	require.True(t, p1.Equals(p2))

	// Taken label is refused
	_, err = kc2.Import("site", skb)
	require.Error(t, err)

	// Garbage does not import
	_, err = kc2.Import("other", []byte("not a key"))
	require.Error(t, err)
}

func TestGenerate(t *testing.T) {
	kc := New()

	_, err := kc.Generate("rsa-key", ci.RSA, 2048)
	require.NoError(t, err)

	// Duplicate label is refused
	_, err = kc.Generate("rsa-key", ci.Ed25519, -1)
	require.Error(t, err)
}

func TestRemoveAndList(t *testing.T) {
	kc := New()
	_, err := kc.GetOrCreate("b")
	require.NoError(t, err)
	_, err = kc.GetOrCreate("a")
	require.NoError(t, err)

	require.Equal(t, []string{"a", "b"}, kc.List())

	require.NoError(t, kc.Remove("a"))
	require.Equal(t, []string{"b"}, kc.List())

	require.ErrorIs(t, kc.Remove("a"), ErrKeyNotFound)
	_, err = kc.Get("a")
	require.ErrorIs(t, err, ErrKeyNotFound)
}
