package namesys

import "time"

const (
	// DefaultRecordLifetime is how long a published record stays valid.
	DefaultRecordLifetime = 48 * time.Hour

	// DefaultRecordTTL is the advisory cache lifetime of a record,
	// distinct from its validity.
	DefaultRecordTTL = 5 * time.Minute

	// DefaultDepthLimit is the default recursion limit used by Resolve.
	DefaultDepthLimit = 32

	// UnlimitedDepth disables the recursion limit. You probably don't
	// want it, but it's here if you absolutely trust resolution to
	// bottom out.
	UnlimitedDepth = 0
)

// PublishOptions configures a single publish.
type PublishOptions struct {
	// Offline skips distribution to network backends; the record is
	// only stored locally.
	Offline bool
	// Lifetime is how long the record stays valid.
	Lifetime time.Duration
	// TTL is the advisory cache lifetime resolvers should honor.
	TTL time.Duration
}

func DefaultPublishOptions() *PublishOptions {
	return &PublishOptions{
		Lifetime: DefaultRecordLifetime,
		TTL:      DefaultRecordTTL,
	}
}

type PublishOption func(*PublishOptions)

// PublishOffline keeps the publish local-only.
func PublishOffline(offline bool) PublishOption {
	return func(o *PublishOptions) {
		o.Offline = offline
	}
}

// WithLifetime sets the record validity period.
func WithLifetime(d time.Duration) PublishOption {
	return func(o *PublishOptions) {
		o.Lifetime = d
	}
}

// WithTTL sets the record's advisory cache lifetime.
func WithTTL(d time.Duration) PublishOption {
	return func(o *PublishOptions) {
		o.TTL = d
	}
}

// ResolveOptions configures a single resolve.
type ResolveOptions struct {
	// Depth bounds recursive resolution.
	Depth int
	// Offline forbids network queries; only the local store is
	// consulted.
	Offline bool
	// NoCache skips the local store check and always queries the
	// network.
	NoCache bool
	// AllowStale permits an offline resolve to return a cached record
	// older than its advisory TTL, as long as it has not expired.
	AllowStale bool
}

func DefaultResolveOptions() *ResolveOptions {
	return &ResolveOptions{
		Depth:      DefaultDepthLimit,
		AllowStale: true,
	}
}

type ResolveOption func(*ResolveOptions)

// ResolveOffline forbids network queries during resolve.
func ResolveOffline(offline bool) ResolveOption {
	return func(o *ResolveOptions) {
		o.Offline = offline
	}
}

// NoCache forces the resolve past the local store.
func NoCache(nocache bool) ResolveOption {
	return func(o *ResolveOptions) {
		o.NoCache = nocache
	}
}

// WithDepth sets the recursion limit.
func WithDepth(depth int) ResolveOption {
	return func(o *ResolveOptions) {
		o.Depth = depth
	}
}

// AllowStale controls whether offline resolves may serve records past
// their advisory TTL.
func AllowStale(allow bool) ResolveOption {
	return func(o *ResolveOptions) {
		o.AllowStale = allow
	}
}
