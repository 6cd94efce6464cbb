package namesys

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dirkmc/go-namesys/dns"
	"github.com/dirkmc/go-namesys/keychain"
	rsp "github.com/dirkmc/go-namesys/path"
	pb "github.com/dirkmc/go-namesys/pb"
	rec "github.com/dirkmc/go-namesys/record"
	"github.com/dirkmc/go-namesys/republisher"
	"github.com/dirkmc/go-namesys/router"
	"github.com/dirkmc/go-namesys/store"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-cid"
	u "github.com/ipfs/go-ipfs-util"
	logging "github.com/ipfs/go-log/v2"
	isd "github.com/jbenet/go-is-domain"
	ci "github.com/libp2p/go-libp2p/core/crypto"
	mh "github.com/multiformats/go-multihash"
)

var log = logging.Logger("namesys")

// nameSystem orchestrates publish and resolve over a keychain, the
// local record store and a set of routing backends. Its lifetime owns
// the republish scheduler.
type nameSystem struct {
	kc      *keychain.Keychain
	st      *store.Store
	rt      *router.Parallel
	domains DomainResolver
	clk     clock.Clock

	// serializes sequence allocation per label; different labels
	// proceed in parallel
	lkmu   sync.Mutex
	locks  map[string]*sync.Mutex

	repubEnabled bool
	repubOpts    []republisher.Option
	rep          *republisher.Republisher

	startMu sync.Mutex
	started bool
}

var _ NameSystem = (*nameSystem)(nil)

type ServiceOption func(*nameSystem)

// WithClock substitutes the wall clock, for tests.
func WithClock(clk clock.Clock) ServiceOption {
	return func(ns *nameSystem) {
		ns.clk = clk
	}
}

// WithDomainResolver replaces the default DNS TXT resolver used for
// domain-name inputs. Passing nil disables domain resolution.
func WithDomainResolver(dr DomainResolver) ServiceOption {
	return func(ns *nameSystem) {
		ns.domains = dr
	}
}

// WithRepublishing enables or disables the background republisher
// spawned by Start.
func WithRepublishing(enabled bool) ServiceOption {
	return func(ns *nameSystem) {
		ns.repubEnabled = enabled
	}
}

// WithRepublishOptions configures the republisher spawned by Start.
func WithRepublishOptions(opts ...republisher.Option) ServiceOption {
	return func(ns *nameSystem) {
		ns.repubOpts = append(ns.repubOpts, opts...)
	}
}

// NewNameSystem builds a naming service over the given keychain, local
// store and routing backends. The backends are composed into a fan-out
// that validates get-race candidates before they can win.
func NewNameSystem(kc *keychain.Keychain, st *store.Store, routers []router.Router, opts ...ServiceOption) NameSystem {
	ns := &nameSystem{
		kc:           kc,
		st:           st,
		domains:      dns.NewResolver(),
		locks:        make(map[string]*sync.Mutex),
		clk:          clock.New(),
		repubEnabled: true,
	}
	for _, opt := range opts {
		opt(ns)
	}

	ns.rt = router.NewParallel(routers, router.WithValidator(func(p rsp.Path, val []byte) error {
		_, err := rec.Validate(p, val, ns.clk.Now())
		return err
	}))

	ns.rep = republisher.New(kc, st, ns.rt, append([]republisher.Option{republisher.WithClock(ns.clk)}, ns.repubOpts...)...)

	return ns
}

func (ns *nameSystem) labelLock(label string) *sync.Mutex {
	ns.lkmu.Lock()
	defer ns.lkmu.Unlock()

	lk, ok := ns.locks[label]
	if !ok {
		lk = new(sync.Mutex)
		ns.locks[label] = lk
	}
	return lk
}

// Publish implements NameSystem.
func (ns *nameSystem) Publish(ctx context.Context, label, value string, opts ...PublishOption) (*PublishResult, error) {
	o := DefaultPublishOptions()
	for _, opt := range opts {
		opt(o)
	}

	value, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}

	// Reading the prior sequence number and writing the new record
	// must not race with a concurrent publish of the same label.
	lk := ns.labelLock(label)
	lk.Lock()
	defer lk.Unlock()

	sk, err := ns.kc.GetOrCreate(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	p, err := rsp.FromPubKey(sk.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	seq, err := ns.nextSequence(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	e := rec.New(value, seq, ns.clk.Now().Add(o.Lifetime), o.TTL)
	if err = rec.Sign(sk, e, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	data, err := e.Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	md := store.Metadata{Label: label, Lifetime: o.Lifetime, Created: ns.clk.Now()}
	if err = ns.st.Put(ctx, p, data, md); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	if !o.Offline {
		log.Debugf("publishing %s seq %d to %s", p.Pretty(), seq, ns.rt.Name())
		// Distribution is best effort per backend; only a failure of
		// every backend fails the publish.
		if err = ns.rt.Put(ctx, p, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
		}
	}

	pkb, err := ci.MarshalPublicKey(sk.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	return &PublishResult{Entry: e, PubKey: pkb, Key: p}, nil
}

// nextSequence computes the sequence number for a new record: one more
// than the cached record's, or 1 for a first publish.
func (ns *nameSystem) nextSequence(ctx context.Context, p rsp.Path) (uint64, error) {
	data, _, err := ns.st.Get(ctx, p)
	if err == store.ErrNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	prior, err := pb.Unmarshal(data)
	if err != nil {
		return 0, err
	}
	return prior.GetSequence() + 1, nil
}

// Resolve implements NameSystem.
func (ns *nameSystem) Resolve(ctx context.Context, name string, opts ...ResolveOption) (*ResolveResult, error) {
	o := DefaultResolveOptions()
	for _, opt := range opts {
		opt(o)
	}

	depth := o.Depth
	if depth == UnlimitedDepth {
		depth = -1
	}
	return ns.resolve(ctx, name, o, depth)
}

// ResolveIdentity implements NameSystem.
func (ns *nameSystem) ResolveIdentity(ctx context.Context, pubk ci.PubKey, opts ...ResolveOption) (*ResolveResult, error) {
	p, err := rsp.FromPubKey(pubk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	return ns.Resolve(ctx, p.String(), opts...)
}

func (ns *nameSystem) resolve(ctx context.Context, name string, o *ResolveOptions, depth int) (*ResolveResult, error) {
	log.Debugf("resolve %s (depth %d)", name, depth)

	if depth == 0 {
		return nil, ErrResolveRecursion
	}

	// Domain names go to the external resolver
	if trimmed := strings.TrimSuffix(name, "."); isd.IsDomain(trimmed) {
		if ns.domains == nil {
			return nil, ErrNoDomainResolver
		}
		if o.Offline {
			return nil, ErrOffline
		}
		res, err := ns.domains.ResolveDomain(ctx, trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
		}
		return ns.resolveStep(ctx, res, o, depth-1)
	}

	p, err := parseName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	e, err := ns.resolveKey(ctx, p, o)
	if err != nil {
		return nil, err
	}

	value := string(e.GetValue())
	if strings.HasPrefix(value, rsp.Namespace) {
		// The record points at another name; follow it
		res, err := ns.resolve(ctx, value, o, depth-1)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	return &ResolveResult{Value: value, Key: p, Entry: e}, nil
}

// resolveStep dispatches an intermediate resolution result: a content
// path bottoms out, anything else is resolved further.
func (ns *nameSystem) resolveStep(ctx context.Context, target string, o *ResolveOptions, depth int) (*ResolveResult, error) {
	if _, err := normalizeValue(target); err == nil && !strings.HasPrefix(target, rsp.Namespace) {
		return &ResolveResult{Value: target}, nil
	}
	return ns.resolve(ctx, target, o, depth)
}

// resolveKey resolves a single routing key: local store first per the
// cache policy, then a validated race across the routing backends.
func (ns *nameSystem) resolveKey(ctx context.Context, p rsp.Path, o *ResolveOptions) (*pb.Entry, error) {
	now := ns.clk.Now()

	if !o.NoCache {
		if e := ns.cachedEntry(ctx, p, o); e != nil {
			log.Debugf("resolved %s from cache", p.Pretty())
			return e, nil
		}
	}

	if o.Offline {
		return nil, ErrNotFound
	}

	val, err := ns.rt.Get(ctx, p)
	if err != nil {
		return nil, err
	}

	e, err := pb.Unmarshal(val)
	if err != nil {
		// The race validator already decoded this; should not happen
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}

	// Cache the winner. The entry is not one of ours, so it carries
	// no owning label and will never be republished.
	eol, err := rec.Validity(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolveFailed, err)
	}
	md := store.Metadata{Lifetime: eol.Sub(now), Created: now}
	if err := ns.st.Put(ctx, p, val, md); err != nil {
		log.Warnf("failed to cache resolved record for %s: %s", p.Pretty(), err)
	}

	return e, nil
}

// cachedEntry returns the cached record for p if the cache policy
// allows serving it: never when expired, and, unless we are offline
// and stale records are allowed, only within the record's TTL.
func (ns *nameSystem) cachedEntry(ctx context.Context, p rsp.Path, o *ResolveOptions) *pb.Entry {
	data, md, err := ns.st.Get(ctx, p)
	if err != nil {
		return nil
	}

	e, err := pb.Unmarshal(data)
	if err != nil {
		log.Warnf("corrupt cached record for %s: %s", p.Pretty(), err)
		return nil
	}

	if rec.IsExpired(e, ns.clk.Now()) {
		return nil
	}

	if ns.st.FreshForTTL(md, rec.TTL(e)) {
		return e
	}
	if o.Offline && o.AllowStale {
		// Stale but unexpired; good enough when the network is off
		// the table
		return e
	}
	return nil
}

// Unpublish implements NameSystem.
func (ns *nameSystem) Unpublish(ctx context.Context, label string) error {
	lk := ns.labelLock(label)
	lk.Lock()
	defer lk.Unlock()

	p, err := ns.kc.RoutingKey(label)
	if err != nil {
		return err
	}

	if err := ns.st.Delete(ctx, p); err != nil && err != store.ErrNotFound {
		return err
	}
	return nil
}

// Start implements NameSystem.
func (ns *nameSystem) Start() error {
	ns.startMu.Lock()
	defer ns.startMu.Unlock()

	if ns.started {
		return nil
	}
	ns.started = true

	if ns.repubEnabled {
		ns.rep.Start()
	}
	return nil
}

// Stop implements NameSystem.
func (ns *nameSystem) Stop() error {
	ns.startMu.Lock()
	defer ns.startMu.Unlock()

	if !ns.started {
		return nil
	}
	ns.started = false

	ns.rep.Stop()
	return nil
}

// normalizeValue checks that a value is a usable content path and puts
// it in canonical form: /ipfs/<cid>[/rest], a bare CID, or a /name/
// pointer to another name.
func normalizeValue(value string) (string, error) {
	if strings.HasPrefix(value, "/ipfs/") {
		rest := strings.SplitN(strings.TrimPrefix(value, "/ipfs/"), "/", 2)
		if _, err := cid.Decode(rest[0]); err != nil {
			return "", fmt.Errorf("%w: bad content id [%s]: %v", ErrInvalidValue, rest[0], err)
		}
		return value, nil
	}

	if strings.HasPrefix(value, rsp.Namespace) {
		if !rsp.IsValid(value) {
			return "", fmt.Errorf("%w: bad name pointer [%s]", ErrInvalidValue, value)
		}
		return value, nil
	}

	// A bare CID is accepted and normalized
	if _, err := cid.Decode(value); err == nil {
		return "/ipfs/" + value, nil
	}

	return "", fmt.Errorf("%w: [%s]", ErrInvalidValue, value)
}

// parseName normalizes the forms a resolvable name may take: the
// string form of a routing key or a bare B58 public key hash.
func parseName(name string) (rsp.Path, error) {
	if strings.HasPrefix(name, rsp.Namespace) {
		return rsp.FromString(name)
	}

	if u.IsValidHash(name) {
		h, err := mh.FromB58String(name)
		if err != nil {
			return rsp.NilPath, err
		}
		return rsp.FromBytes(h)
	}

	return rsp.NilPath, fmt.Errorf("unrecognized name format [%s]", name)
}
