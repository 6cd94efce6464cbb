/*
Package namesys implements a distributed naming layer: a holder of a
cryptographic identity publishes a signed, versioned record pointing at
a content path, and anyone can resolve the identity back to the current
record by querying one or more pluggable lookup backends.

A published name looks like

	/name/QmatmE9msSfkKxoffpHwNLNKgwZG8eT9Bud6YoPab52vpy
	  -> /ipfs/Qmcqtw8FfrVSBaRmbWwHxt3AuySBhJLcvmFYi3Lbc4xnwj

where the name is derived from the publisher's public key and the
record carries a monotonic sequence number, an absolute expiry and the
publisher's signature. Resolution validates candidate records from
every backend and picks the authoritative one.
*/
package namesys

import (
	"context"

	rsp "github.com/dirkmc/go-namesys/path"
	pb "github.com/dirkmc/go-namesys/pb"

	ci "github.com/libp2p/go-libp2p/core/crypto"
)

// PublishResult is what a successful publish hands back.
type PublishResult struct {
	// Entry is the signed record that was stored and distributed.
	Entry *pb.Entry
	// PubKey is the encoded public key of the publishing identity.
	PubKey []byte
	// Key is the routing key the record was published under.
	Key rsp.Path
}

// ResolveResult is what a successful resolve hands back.
type ResolveResult struct {
	// Value is the content path the name currently points at.
	Value string
	// Key is the routing key the winning record was found under.
	Key rsp.Path
	// Entry is the winning record.
	Entry *pb.Entry
}

// NameSystem is a cohesive record publishing and resolving system.
type NameSystem interface {
	// Publish establishes or updates the mapping from the identity
	// stored under label to value, creating the identity on first use.
	Publish(ctx context.Context, label, value string, opts ...PublishOption) (*PublishResult, error)

	// Resolve looks up a name: the string form of a routing key, a
	// B58 key hash, or a domain name when a DomainResolver is
	// configured. Records pointing at further names are followed up
	// to the configured depth limit.
	Resolve(ctx context.Context, name string, opts ...ResolveOption) (*ResolveResult, error)

	// ResolveIdentity resolves the record published by the identity
	// with the given public key.
	ResolveIdentity(ctx context.Context, pubk ci.PubKey, opts ...ResolveOption) (*ResolveResult, error)

	// Unpublish evicts the label's record from the local store. It
	// does not retract copies already propagated to the network.
	Unpublish(ctx context.Context, label string) error

	// Start spawns the background republisher, if enabled. Idempotent.
	Start() error

	// Stop cancels the republisher and awaits clean shutdown.
	// Idempotent.
	Stop() error
}

// DomainResolver resolves a domain name to a path, typically by
// consulting DNS records. The dns package provides the default
// implementation.
type DomainResolver interface {
	ResolveDomain(ctx context.Context, name string) (string, error)
}
