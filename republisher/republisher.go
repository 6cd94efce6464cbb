// Package republisher keeps published records alive: distributed
// stores lease a record for a bounded time, so records nearing the end
// of their lease are re-signed with a fresh validity and redistributed.
package republisher

import (
	"context"
	"sync"
	"time"

	"github.com/dirkmc/go-namesys/keychain"
	pb "github.com/dirkmc/go-namesys/pb"
	rec "github.com/dirkmc/go-namesys/record"
	"github.com/dirkmc/go-namesys/router"
	"github.com/dirkmc/go-namesys/store"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
)

var log = logging.Logger("namesys.republisher")

const (
	// DefaultInterval is how often the scheduler wakes up.
	DefaultInterval = time.Hour

	// DefaultRecordLease is how long a distributed store is assumed
	// to hold a record before dropping it.
	DefaultRecordLease = 24 * time.Hour

	// DefaultThreshold is how close to the end of the lease a record
	// may get before it is republished.
	DefaultThreshold = 4 * time.Hour

	// DefaultConcurrency caps how many records are republished at
	// once, so a big batch does not overwhelm the routers.
	DefaultConcurrency = 5

	// fallbackLifetime is used for records whose metadata carries no
	// configured lifetime.
	fallbackLifetime = 48 * time.Hour
)

// Republisher walks the local store on a fixed interval and re-signs
// and redistributes every owned record nearing the end of its lease.
type Republisher struct {
	kc *keychain.Keychain
	st *store.Store
	rt router.Router

	clk         clock.Clock
	interval    time.Duration
	lease       time.Duration
	threshold   time.Duration
	concurrency int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Republisher)

func WithClock(clk clock.Clock) Option {
	return func(r *Republisher) {
		r.clk = clk
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Republisher) {
		r.interval = d
	}
}

func WithRecordLease(d time.Duration) Option {
	return func(r *Republisher) {
		r.lease = d
	}
}

func WithThreshold(d time.Duration) Option {
	return func(r *Republisher) {
		r.threshold = d
	}
}

func WithConcurrency(n int) Option {
	return func(r *Republisher) {
		r.concurrency = n
	}
}

func New(kc *keychain.Keychain, st *store.Store, rt router.Router, opts ...Option) *Republisher {
	r := &Republisher{
		kc:          kc,
		st:          st,
		rt:          rt,
		clk:         clock.New(),
		interval:    DefaultInterval,
		lease:       DefaultRecordLease,
		threshold:   DefaultThreshold,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start spawns the scheduler task. Calling Start on a running
// republisher has no effect; there is never more than one task.
func (r *Republisher) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
}

// Stop cancels the scheduler task and waits for it to wind down.
func (r *Republisher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Republisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := r.clk.Ticker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RepublishEntries(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RepublishEntries runs one scheduler tick: every owned record close
// enough to its lease end gets re-signed and redistributed. Failures
// are logged per record and never abort the batch.
func (r *Republisher) RepublishEntries(ctx context.Context) {
	entries, err := r.st.List(ctx)
	if err != nil {
		log.Warnf("republish: could not list cached records: %s", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, e := range entries {
		if e.Meta.Label == "" {
			// Cached from the network, not ours to keep alive
			continue
		}
		if !r.st.ShouldRepublish(e.Meta, r.lease, r.threshold) {
			continue
		}

		e := e
		g.Go(func() error {
			if err := r.republish(gctx, e); err != nil {
				log.Warnf("republish of %s (label %q) failed: %s", e.Key.Pretty(), e.Meta.Label, err)
			}
			return nil
		})
	}

	// Errors are swallowed per record above
	_ = g.Wait()
}

func (r *Republisher) republish(ctx context.Context, ent store.Entry) error {
	sk, err := r.kc.Get(ent.Meta.Label)
	if err != nil {
		// The key is gone; nothing we can sign with
		return err
	}

	data, md, err := r.st.Get(ctx, ent.Key)
	if err != nil {
		return err
	}

	prior, err := pb.Unmarshal(data)
	if err != nil {
		return err
	}

	lifetime := md.Lifetime
	if lifetime <= 0 {
		lifetime = fallbackLifetime
	}

	e := rec.New(string(prior.GetValue()), prior.GetSequence()+1, r.clk.Now().Add(lifetime), rec.TTL(prior))
	if err = rec.Sign(sk, e, len(prior.GetPubKey()) > 0); err != nil {
		return err
	}

	newData, err := e.Marshal()
	if err != nil {
		return err
	}

	md.Created = r.clk.Now()
	if err = r.st.Put(ctx, ent.Key, newData, md); err != nil {
		return err
	}

	log.Debugf("republished %s seq %d", ent.Key.Pretty(), e.GetSequence())
	return r.rt.Put(ctx, ent.Key, newData)
}
