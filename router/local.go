package router

import (
	"context"

	rsp "github.com/dirkmc/go-namesys/path"
	"github.com/dirkmc/go-namesys/store"
)

// Local is a backend over the node-local record store. It never touches
// the network, which makes it the only backend consulted in offline
// mode.
type Local struct {
	st *store.Store
}

var _ Router = (*Local)(nil)

func NewLocal(st *store.Store) *Local {
	return &Local{st: st}
}

func (l *Local) Put(ctx context.Context, p rsp.Path, rec []byte, opts ...Option) error {
	// Keep the owning metadata if the record is already cached; a
	// bare put through the router has none to offer.
	_, md, err := l.st.Get(ctx, p)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	return l.st.Put(ctx, p, rec, md)
}

func (l *Local) Get(ctx context.Context, p rsp.Path, opts ...Option) ([]byte, error) {
	rec, err := l.st.GetRecord(ctx, p)
	if err == store.ErrNotFound {
		return nil, ErrNotFound
	}
	return rec, err
}

func (l *Local) Name() string {
	return "local"
}
