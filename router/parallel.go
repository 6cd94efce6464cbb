package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"
	rec "github.com/dirkmc/go-namesys/record"

	"go.uber.org/multierr"
)

// ValidateFunc vets a candidate record fetched during a get race. A
// candidate that fails validation must not win the race.
type ValidateFunc func(rsp.Path, []byte) error

// Parallel fans calls out across a set of backends.
//
// Put is dispatched to every backend concurrently and succeeds if at
// least one backend accepts the record. Get is a race: every backend
// is queried concurrently and the first candidate that passes
// validation wins; the losers are cancelled rather than waited for.
type Parallel struct {
	routers  []Router
	validate ValidateFunc
	stagger  time.Duration
}

var _ Router = (*Parallel)(nil)

type ParallelOption func(*Parallel)

// WithValidator installs the get-race candidate filter.
func WithValidator(v ValidateFunc) ParallelOption {
	return func(p *Parallel) {
		p.validate = v
	}
}

// WithStagger delays each successive backend's entry into the get race
// by d, giving earlier-listed backends a head start without ever
// turning the race into a blocking chain.
func WithStagger(d time.Duration) ParallelOption {
	return func(p *Parallel) {
		p.stagger = d
	}
}

func NewParallel(routers []Router, opts ...ParallelOption) *Parallel {
	p := &Parallel{routers: routers}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Routers returns the configured backends.
func (p *Parallel) Routers() []Router {
	return p.routers
}

func (p *Parallel) Name() string {
	names := make([]string, len(p.routers))
	for i, r := range p.routers {
		names[i] = r.Name()
	}
	return "parallel(" + strings.Join(names, ",") + ")"
}

func (p *Parallel) Put(ctx context.Context, key rsp.Path, rec []byte, opts ...Option) error {
	if len(p.routers) == 0 {
		return fmt.Errorf("%w: no routers configured", ErrRoutingFailed)
	}

	errs := make([]error, len(p.routers))
	var wg sync.WaitGroup
	for i, r := range p.routers {
		wg.Add(1)
		go func(i int, r Router) {
			defer wg.Done()
			errs[i] = r.Put(ctx, key, rec, opts...)
		}(i, r)
	}
	wg.Wait()

	var failed error
	ok := false
	for i, err := range errs {
		if err == nil {
			ok = true
			continue
		}
		log.Debugf("put to %s failed for %s: %s", p.routers[i].Name(), key.Pretty(), err)
		failed = multierr.Append(failed, fmt.Errorf("%s: %w", p.routers[i].Name(), err))
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrRoutingFailed, failed)
	}
	return nil
}

func (p *Parallel) Get(ctx context.Context, key rsp.Path, opts ...Option) ([]byte, error) {
	if len(p.routers) == 0 {
		return nil, fmt.Errorf("%w: no routers configured", ErrRoutingFailed)
	}

	// Abandon the losers once a winner is in
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val     []byte
		err     error
		name    string
		invalid bool
	}
	resCh := make(chan result, len(p.routers))

	for i, r := range p.routers {
		go func(i int, r Router) {
			if p.stagger > 0 && i > 0 {
				t := time.NewTimer(time.Duration(i) * p.stagger)
				defer t.Stop()
				select {
				case <-t.C:
				case <-ctx.Done():
					resCh <- result{err: ctx.Err(), name: r.Name()}
					return
				}
			}

			val, err := r.Get(ctx, key, opts...)
			invalid := false
			if err == nil && p.validate != nil {
				if verr := p.validate(key, val); verr != nil {
					// The backend produced a candidate but it did
					// not survive validation.
					err = verr
					invalid = true
				}
			}
			resCh <- result{val: val, err: err, name: r.Name(), invalid: invalid}
		}(i, r)
	}

	var errs error
	notFound := 0
	rejected := 0
	for i := 0; i < len(p.routers); i++ {
		select {
		case res := <-resCh:
			if res.err == nil {
				return res.val, nil
			}
			if res.invalid {
				rejected++
			} else if errors.Is(res.err, ErrNotFound) {
				notFound++
			}
			log.Debugf("get from %s failed for %s: %s", res.name, key.Pretty(), res.err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.name, res.err))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Candidates were fetched but every one of them was rejected:
	// that is a different failure than the backends misbehaving, and
	// callers distinguish it.
	if rejected > 0 && rejected+notFound == len(p.routers) {
		return nil, &rec.FailedValidationError{Count: rejected}
	}
	if notFound == len(p.routers) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %s", ErrRoutingFailed, errs)
}
