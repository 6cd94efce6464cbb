package router

import (
	"context"
	"fmt"
	"sync"

	rsp "github.com/dirkmc/go-namesys/path"
)

// QueryID identifies one outstanding DHT lookup.
type QueryID uint64

// EventType classifies DHT query-progress events.
type EventType int

const (
	// EventProgress is an intermediate event carrying no value.
	EventProgress EventType = iota
	// EventValue carries a candidate record for the queried key.
	EventValue
	// EventError means the query failed.
	EventError
	// EventDone means the query completed without (further) values.
	EventDone
)

// QueryEvent is one asynchronous progress event for an outstanding
// query.
type QueryEvent struct {
	ID    QueryID
	Type  EventType
	Value []byte
	Err   error
}

// Client is the DHT client surface the router needs. The client's
// query machinery is event driven: Query kicks off a lookup and its
// progress arrives, interleaved with that of other lookups, on the
// single Events stream.
type Client interface {
	// PutValue issues a one-quorum write of the value under key and
	// returns once the write is accepted locally; propagation through
	// the network is asynchronous and best effort.
	PutValue(ctx context.Context, key string, value []byte) error
	// Query starts an asynchronous lookup for key.
	Query(ctx context.Context, key string) (QueryID, error)
	// Events is the shared stream of query-progress events.
	Events() <-chan QueryEvent
}

// queryChanSize bounds the per-query event buffer so a slow waiter
// cannot stall the collector.
const queryChanSize = 16

// backlogLimit bounds how many events are held for a query id whose
// waiter has not registered yet.
const backlogLimit = 32

// retiredLimit bounds how many completed query ids are remembered so
// that their trailing events can be dropped rather than backlogged.
const retiredLimit = 128

// DHT is a backend over a distributed hash table client.
//
// Because the client's queries are event driven rather than
// request/response, a single collector goroutine demultiplexes the
// shared event stream to a per-query-id waiter channel; callers block
// on their own waiter, never on the client's event loop.
type DHT struct {
	client Client

	mu      sync.Mutex
	waiters map[QueryID]chan QueryEvent
	backlog map[QueryID][]QueryEvent

	// recently completed query ids, oldest first; a real query keeps
	// emitting events (EventDone, stragglers) after its waiter has
	// taken a value and gone away, and those must not pile up in the
	// backlog
	retired      map[QueryID]struct{}
	retiredByAge []QueryID

	done      chan struct{}
	closeOnce sync.Once
}

var _ Router = (*DHT)(nil)

// NewDHT wraps the client and starts the event collector. Callers must
// Close the router when done with it.
func NewDHT(client Client) *DHT {
	d := &DHT{
		client:  client,
		waiters: make(map[QueryID]chan QueryEvent),
		backlog: make(map[QueryID][]QueryEvent),
		retired: make(map[QueryID]struct{}),
		done:    make(chan struct{}),
	}
	go d.collect()
	return d
}

// Close stops the event collector.
func (d *DHT) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

func (d *DHT) collect() {
	for {
		select {
		case ev, ok := <-d.client.Events():
			if !ok {
				return
			}
			d.dispatch(ev)
		case <-d.done:
			return
		}
	}
}

func (d *DHT) dispatch(ev QueryEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.waiters[ev.ID]
	if !ok {
		// Trailing events for a completed query are dropped
		if _, gone := d.retired[ev.ID]; gone {
			return
		}
		// The waiter has not registered yet (Query returned but the
		// caller has not gotten around to waiting). Hold a bounded
		// backlog for late registration.
		if len(d.backlog[ev.ID]) < backlogLimit {
			d.backlog[ev.ID] = append(d.backlog[ev.ID], ev)
		}
		return
	}

	select {
	case ch <- ev:
	default:
		log.Debugf("dropping event type %d for query %d: waiter is slow", ev.Type, ev.ID)
	}
}

func (d *DHT) register(id QueryID) chan QueryEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch := make(chan QueryEvent, queryChanSize)
	for _, ev := range d.backlog[id] {
		select {
		case ch <- ev:
		default:
			log.Debugf("dropping backlogged event type %d for query %d", ev.Type, ev.ID)
		}
	}
	delete(d.backlog, id)
	d.waiters[id] = ch
	return ch
}

func (d *DHT) unregister(id QueryID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.waiters, id)
	delete(d.backlog, id)

	if _, ok := d.retired[id]; ok {
		return
	}
	d.retired[id] = struct{}{}
	d.retiredByAge = append(d.retiredByAge, id)
	if len(d.retiredByAge) > retiredLimit {
		delete(d.retired, d.retiredByAge[0])
		d.retiredByAge = d.retiredByAge[1:]
	}
}

func (d *DHT) Put(ctx context.Context, p rsp.Path, rec []byte, opts ...Option) error {
	ctx, cancel := callContext(ctx, opts)
	defer cancel()

	log.Debugf("dht put %s", p.Pretty())
	return d.client.PutValue(ctx, p.String(), rec)
}

func (d *DHT) Get(ctx context.Context, p rsp.Path, opts ...Option) ([]byte, error) {
	ctx, cancel := callContext(ctx, opts)
	defer cancel()

	id, err := d.client.Query(ctx, p.String())
	if err != nil {
		return nil, err
	}

	ch := d.register(id)
	defer d.unregister(id)

	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case EventValue:
				return ev.Value, nil
			case EventError:
				return nil, fmt.Errorf("dht query %d: %w", id, ev.Err)
			case EventDone:
				return nil, ErrNotFound
			}
			// EventProgress: keep waiting
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.done:
			return nil, fmt.Errorf("dht router closed")
		}
	}
}

func (d *DHT) Name() string {
	return "dht"
}
