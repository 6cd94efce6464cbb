// Package dns resolves domain names to record targets through DNS TXT
// entries of the form dnslink=<target>. Both the domain itself and its
// _dnslink. subdomain are queried, with the subdomain taking priority
// so that operators can delegate the link without touching the apex.
package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	isd "github.com/jbenet/go-is-domain"
)

var log = logging.Logger("namesys/dns")

const (
	DefaultCacheSize = 64
	DefaultCacheTTL  = time.Minute
)

// ErrNoDNSLink means the domain exists but carries no parseable
// dnslink TXT entry.
var ErrNoDNSLink = fmt.Errorf("no dnslink entry")

// LookupTXTFunc is the shape of net.Resolver.LookupTXT, injectable for
// tests.
type LookupTXTFunc func(ctx context.Context, name string) ([]string, error)

// Resolver resolves domain names via DNS TXT records.
type Resolver struct {
	lookupTXT LookupTXTFunc
	cache     *expirable.LRU[string, string]
}

type Option func(*Resolver)

// WithLookupTXT substitutes the TXT lookup function.
func WithLookupTXT(fn LookupTXTFunc) Option {
	return func(r *Resolver) {
		r.lookupTXT = fn
	}
}

// NewResolver constructs a domain resolver backed by the system DNS
// resolver and a small expiring result cache.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookupTXT: net.DefaultResolver.LookupTXT,
		cache:     expirable.NewLRU[string, string](DefaultCacheSize, nil, DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type lookupRes struct {
	target string
	err    error
}

// ResolveDomain looks up the dnslink target for a domain name.
func (r *Resolver) ResolveDomain(ctx context.Context, name string) (string, error) {
	name = strings.TrimSuffix(name, ".")
	if !isd.IsDomain(name) {
		return "", fmt.Errorf("not a valid domain name: [%s]", name)
	}
	log.Debugf("resolving dnslink for %s", name)

	if target, ok := r.cache.Get(name); ok {
		return target, nil
	}

	subChan := make(chan lookupRes, 1)
	go r.workDomain(ctx, "_dnslink."+name, subChan)

	rootChan := make(chan lookupRes, 1)
	go r.workDomain(ctx, name, rootChan)

	var subRes lookupRes
	select {
	case subRes = <-subChan:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if subRes.err == nil {
		r.cache.Add(name, subRes.target)
		return subRes.target, nil
	}

	var rootRes lookupRes
	select {
	case rootRes = <-rootChan:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if rootRes.err == nil {
		r.cache.Add(name, rootRes.target)
		return rootRes.target, nil
	}

	return "", fmt.Errorf("%w for %s", ErrNoDNSLink, name)
}

func (r *Resolver) workDomain(ctx context.Context, name string, res chan lookupRes) {
	txt, err := r.lookupTXT(ctx, name)
	if err != nil {
		res <- lookupRes{"", err}
		return
	}

	log.Debugf("lookupTXT(%s) => %s", name, txt)
	for _, t := range txt {
		target, err := parseEntry(t)
		if err == nil {
			res <- lookupRes{target, nil}
			return
		}
		log.Debugf("skipping TXT entry %q: %s", t, err)
	}
	res <- lookupRes{"", ErrNoDNSLink}
}

// parseEntry extracts a resolvable target from one TXT entry. A bare
// content id is accepted for compatibility with hand-written records.
func parseEntry(txt string) (string, error) {
	if _, err := cid.Decode(txt); err == nil {
		return "/ipfs/" + txt, nil
	}

	parts := strings.SplitN(txt, "=", 2)
	if len(parts) != 2 || parts[0] != "dnslink" {
		return "", fmt.Errorf("not a dnslink entry: %s", txt)
	}
	return parseTarget(parts[1])
}

// parseTarget validates a dnslink value. Valid targets are a content
// path, a name pointer, a bare content id, or another domain, either
// bare or wrapped in the name namespace so that links can chain.
func parseTarget(target string) (string, error) {
	if strings.HasPrefix(target, "/ipfs/") {
		seg := strings.SplitN(strings.TrimPrefix(target, "/ipfs/"), "/", 2)
		if _, err := cid.Decode(seg[0]); err != nil {
			return "", fmt.Errorf("bad content id in dnslink [%s]", target)
		}
		return target, nil
	}

	if strings.HasPrefix(target, rsp.Namespace) {
		if rsp.IsValid(target) {
			return target, nil
		}
		seg := strings.TrimSuffix(strings.TrimPrefix(target, rsp.Namespace), "/")
		if isd.IsDomain(seg) {
			return seg, nil
		}
		return "", fmt.Errorf("bad name pointer in dnslink [%s]", target)
	}

	if _, err := cid.Decode(target); err == nil {
		return "/ipfs/" + target, nil
	}
	if isd.IsDomain(target) {
		return target, nil
	}

	return "", fmt.Errorf("not a valid dnslink target: %s", target)
}
