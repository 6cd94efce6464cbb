package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"

	"github.com/stretchr/testify/require"
)

// mockDHTClient scripts event sequences per query. Events for a query
// are emitted onto the shared stream as soon as Query is called,
// before the caller has a chance to wait, which exercises the
// collector's backlog path.
type mockDHTClient struct {
	mu      sync.Mutex
	nextID  QueryID
	events  chan QueryEvent
	scripts map[string][]QueryEvent
	stored  map[string][]byte
	putErr  error
}

func newMockDHTClient() *mockDHTClient {
	return &mockDHTClient{
		events:  make(chan QueryEvent, 64),
		scripts: make(map[string][]QueryEvent),
		stored:  make(map[string][]byte),
	}
}

func (c *mockDHTClient) script(key string, evs ...QueryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[key] = evs
}

func (c *mockDHTClient) PutValue(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	c.stored[key] = value
	return nil
}

func (c *mockDHTClient) Query(ctx context.Context, key string) (QueryID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	for _, ev := range c.scripts[key] {
		ev.ID = id
		c.events <- ev
	}
	return id, nil
}

func (c *mockDHTClient) Events() <-chan QueryEvent {
	return c.events
}

func TestDHTGetValue(t *testing.T) {
	p := testPath(t)
	client := newMockDHTClient()
	client.script(p.String(),
		QueryEvent{Type: EventProgress},
		QueryEvent{Type: EventProgress},
		QueryEvent{Type: EventValue, Value: []byte("rec")},
	)

	d := NewDHT(client)
	defer d.Close()

	val, err := d.Get(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, []byte("rec"), val)
}

func TestDHTGetNotFound(t *testing.T) {
	p := testPath(t)
	client := newMockDHTClient()
	client.script(p.String(), QueryEvent{Type: EventDone})

	d := NewDHT(client)
	defer d.Close()

	_, err := d.Get(context.Background(), p)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDHTGetQueryError(t *testing.T) {
	p := testPath(t)
	client := newMockDHTClient()
	client.script(p.String(), QueryEvent{Type: EventError, Err: fmt.Errorf("lookup exploded")})

	d := NewDHT(client)
	defer d.Close()

	_, err := d.Get(context.Background(), p)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestDHTGetTimeout(t *testing.T) {
	p := testPath(t)
	// No script: the query never completes
	client := newMockDHTClient()

	d := NewDHT(client)
	defer d.Close()

	start := time.Now()
	_, err := d.Get(context.Background(), p, WithTimeout(100*time.Millisecond))
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestDHTConcurrentQueries(t *testing.T) {
	// Events for interleaved queries must be demultiplexed to the
	// right waiter by query id.
	p1 := testPath(t)
	p2 := testPath(t)
	client := newMockDHTClient()
	client.script(p1.String(), QueryEvent{Type: EventValue, Value: []byte("one")})
	client.script(p2.String(), QueryEvent{Type: EventValue, Value: []byte("two")})

	d := NewDHT(client)
	defer d.Close()

	var wg sync.WaitGroup
	vals := make([][]byte, 2)
	errs := make([]error, 2)
	paths := []rsp.Path{p1, p2}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vals[i], errs[i] = d.Get(context.Background(), paths[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.Equal(t, []byte("one"), vals[0])
	require.NoError(t, errs[1])
	require.Equal(t, []byte("two"), vals[1])
}

func TestDHTTrailingEventsAreDropped(t *testing.T) {
	// A real query keeps emitting events after the waiter has taken
	// its value and gone away; those must not accumulate
	client := newMockDHTClient()
	d := NewDHT(client)
	defer d.Close()

	for i := 0; i < 50; i++ {
		p := testPath(t)
		client.script(p.String(),
			QueryEvent{Type: EventValue, Value: []byte("rec")},
			QueryEvent{Type: EventDone},
		)
		val, err := d.Get(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, []byte("rec"), val)
	}

	// The event stream is dispatched in order, so once this value
	// arrives every trailing event above has been handled
	p := testPath(t)
	client.script(p.String(), QueryEvent{Type: EventValue, Value: []byte("last")})
	_, err := d.Get(context.Background(), p)
	require.NoError(t, err)

	d.mu.Lock()
	backlogged := len(d.backlog)
	waiting := len(d.waiters)
	d.mu.Unlock()
	require.Zero(t, backlogged)
	require.Zero(t, waiting)
}

func TestDHTPut(t *testing.T) {
	p := testPath(t)
	client := newMockDHTClient()

	d := NewDHT(client)
	defer d.Close()

	require.NoError(t, d.Put(context.Background(), p, []byte("rec")))
	require.Equal(t, []byte("rec"), client.stored[p.String()])

	client.putErr = fmt.Errorf("quorum refused")
	require.Error(t, d.Put(context.Background(), p, []byte("rec")))
}
