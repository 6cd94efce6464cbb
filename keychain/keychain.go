// Package keychain owns the named identities a node publishes under.
// Keypairs are created lazily on first use and held in memory for the
// process lifetime; nothing here persists keys implicitly.
package keychain

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	rsp "github.com/dirkmc/go-namesys/path"
	logging "github.com/ipfs/go-log/v2"
	ci "github.com/libp2p/go-libp2p/core/crypto"
)

var log = logging.Logger("namesys.keychain")

var ErrKeyNotFound = errors.New("no key by that label")

// DefaultKeyType is the algorithm used for lazily created keys.
const DefaultKeyType = ci.Ed25519

// Keychain is a label to keypair map. Reads proceed concurrently;
// inserts and removals are exclusive.
type Keychain struct {
	mu   sync.RWMutex
	keys map[string]ci.PrivKey
}

func New() *Keychain {
	return &Keychain{keys: make(map[string]ci.PrivKey)}
}

// GetOrCreate returns the keypair stored under label, generating and
// storing a new default-algorithm keypair if none exists yet.
func (kc *Keychain) GetOrCreate(label string) (ci.PrivKey, error) {
	kc.mu.RLock()
	sk, ok := kc.keys[label]
	kc.mu.RUnlock()
	if ok {
		return sk, nil
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()

	// Another writer may have beaten us to it
	if sk, ok = kc.keys[label]; ok {
		return sk, nil
	}

	sk, _, err := ci.GenerateKeyPair(DefaultKeyType, -1)
	if err != nil {
		return nil, fmt.Errorf("generating key for label %q: %w", label, err)
	}

	log.Debugf("generated new keypair for label %q", label)
	kc.keys[label] = sk
	return sk, nil
}

// Generate creates and stores a keypair of an explicit type under
// label, failing if the label is already taken.
func (kc *Keychain) Generate(label string, typ, bits int) (ci.PrivKey, error) {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if _, ok := kc.keys[label]; ok {
		return nil, fmt.Errorf("label %q already has a key", label)
	}

	sk, _, err := ci.GenerateKeyPair(typ, bits)
	if err != nil {
		return nil, fmt.Errorf("generating key for label %q: %w", label, err)
	}

	kc.keys[label] = sk
	return sk, nil
}

// Get returns the keypair stored under label, if any.
func (kc *Keychain) Get(label string) (ci.PrivKey, error) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	sk, ok := kc.keys[label]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return sk, nil
}

// RoutingKey derives the routing key for the identity stored under
// label from its public key.
func (kc *Keychain) RoutingKey(label string) (rsp.Path, error) {
	sk, err := kc.Get(label)
	if err != nil {
		return rsp.NilPath, err
	}
	return rsp.FromPubKey(sk.GetPublic())
}

// ExportPublic returns the encoded public key for label.
func (kc *Keychain) ExportPublic(label string) ([]byte, error) {
	sk, err := kc.Get(label)
	if err != nil {
		return nil, err
	}
	return ci.MarshalPublicKey(sk.GetPublic())
}

// Export returns the encoded private key for label, for callers that
// persist identities themselves.
func (kc *Keychain) Export(label string) ([]byte, error) {
	sk, err := kc.Get(label)
	if err != nil {
		return nil, err
	}
	return ci.MarshalPrivateKey(sk)
}

// Import stores a previously exported private key under label, failing
// if the label is already taken.
func (kc *Keychain) Import(label string, data []byte) (ci.PrivKey, error) {
	sk, err := ci.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("importing key for label %q: %w", label, err)
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()

	if _, ok := kc.keys[label]; ok {
		return nil, fmt.Errorf("label %q already has a key", label)
	}
	kc.keys[label] = sk
	return sk, nil
}

// Remove drops the keypair stored under label.
func (kc *Keychain) Remove(label string) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if _, ok := kc.keys[label]; !ok {
		return ErrKeyNotFound
	}
	delete(kc.keys, label)
	return nil
}

// List returns the labels of all stored keypairs, sorted.
func (kc *Keychain) List() []string {
	kc.mu.RLock()
	defer kc.mu.RUnlock()

	labels := make([]string, 0, len(kc.keys))
	for l := range kc.keys {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
