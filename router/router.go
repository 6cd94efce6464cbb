// Package router defines the pluggable lookup backends a record can be
// published to and resolved from, and the combinator that fans a call
// out across all of them.
package router

import (
	"context"
	"errors"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("namesys.router")

var (
	// ErrNotFound means the backend holds no record for the key.
	ErrNotFound = errors.New("record not found")
	// ErrRoutingFailed means every backend in a fan-out failed.
	ErrRoutingFailed = errors.New("routing failed")
)

// DefaultCallTimeout bounds a single put or get against one backend. A
// stalled backend must not hold up aggregation of faster ones.
const DefaultCallTimeout = 30 * time.Second

// Router is the contract every lookup backend satisfies. Backends hold
// no state shared with their callers beyond what they privately
// encapsulate.
type Router interface {
	// Put stores the marshaled record under the routing key. Network
	// propagation beyond local acceptance is best effort.
	Put(ctx context.Context, p rsp.Path, rec []byte, opts ...Option) error
	// Get fetches the marshaled record stored under the routing key.
	Get(ctx context.Context, p rsp.Path, opts ...Option) ([]byte, error)
	// Name identifies the backend in logs and errors.
	Name() string
}

// Options configures a single router call.
type Options struct {
	Timeout time.Duration
}

type Option func(*Options)

// WithTimeout bounds the call to d.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// ApplyOptions folds opts over the defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{Timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func callContext(ctx context.Context, opts []Option) (context.Context, context.CancelFunc) {
	o := ApplyOptions(opts...)
	if o.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.Timeout)
}
