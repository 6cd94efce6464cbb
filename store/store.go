// Package store is the node-local cache of marshaled records plus the
// metadata the republisher needs to keep them alive.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"

	"github.com/benbjohnson/clock"
	ds "github.com/ipfs/go-datastore"
	dsquery "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("namesys.store")

// ErrNotFound is returned when there is no cached record for a key.
var ErrNotFound = ds.ErrNotFound

const (
	recordPrefix = "/records/"
	metaPrefix   = "/meta/"
)

// Metadata describes a cached record. A record cached on behalf of one
// of our own identities carries the owning label; a record cached from
// a network resolve has an empty label and is never republished.
type Metadata struct {
	Label    string        `json:"label,omitempty"`
	Lifetime time.Duration `json:"lifetime"`
	Created  time.Time     `json:"created"`
}

// stored alongside the record so List can recover the routing key
type metaEntry struct {
	Key string `json:"key"`
	Metadata
}

// Entry pairs a routing key with its cached record metadata.
type Entry struct {
	Key  rsp.Path
	Meta Metadata
}

// Store is a thread-safe map from routing key to cached marshaled
// record and metadata, backed by a datastore. Entries are only ever
// replaced whole, never partially updated.
type Store struct {
	ds  ds.Datastore
	clk clock.Clock
}

// New creates a store over the given datastore. Passing a nil
// datastore yields a private in-memory store.
func New(d ds.Datastore, clk clock.Clock) *Store {
	if d == nil {
		d = dssync.MutexWrap(ds.NewMapDatastore())
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{ds: d, clk: clk}
}

func recordKey(p rsp.Path) ds.Key {
	return ds.NewKey(recordPrefix + p.Hash().B58String())
}

func metaKey(p rsp.Path) ds.Key {
	return ds.NewKey(metaPrefix + p.Hash().B58String())
}

// Put replaces the cached record and metadata for a routing key. A zero
// Created timestamp is filled in with the current time.
func (s *Store) Put(ctx context.Context, p rsp.Path, rec []byte, md Metadata) error {
	if md.Created.IsZero() {
		md.Created = s.clk.Now()
	}

	mb, err := json.Marshal(&metaEntry{Key: p.String(), Metadata: md})
	if err != nil {
		return err
	}

	if err = s.ds.Put(ctx, recordKey(p), rec); err != nil {
		return err
	}
	return s.ds.Put(ctx, metaKey(p), mb)
}

// Get returns the cached record and metadata for a routing key.
func (s *Store) Get(ctx context.Context, p rsp.Path) ([]byte, Metadata, error) {
	rec, err := s.ds.Get(ctx, recordKey(p))
	if err != nil {
		return nil, Metadata{}, err
	}

	mb, err := s.ds.Get(ctx, metaKey(p))
	if err != nil {
		return nil, Metadata{}, err
	}

	var me metaEntry
	if err = json.Unmarshal(mb, &me); err != nil {
		return nil, Metadata{}, fmt.Errorf("corrupt metadata for %s: %w", p, err)
	}

	return rec, me.Metadata, nil
}

// GetRecord returns just the cached record bytes.
func (s *Store) GetRecord(ctx context.Context, p rsp.Path) ([]byte, error) {
	return s.ds.Get(ctx, recordKey(p))
}

func (s *Store) Has(ctx context.Context, p rsp.Path) (bool, error) {
	return s.ds.Has(ctx, recordKey(p))
}

// Delete evicts the cached record and metadata for a routing key.
func (s *Store) Delete(ctx context.Context, p rsp.Path) error {
	if err := s.ds.Delete(ctx, recordKey(p)); err != nil {
		return err
	}
	return s.ds.Delete(ctx, metaKey(p))
}

// List enumerates the metadata of every cached record.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	res, err := s.ds.Query(ctx, dsquery.Query{Prefix: metaPrefix})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var entries []Entry
	for r := range res.Next() {
		if r.Error != nil {
			return nil, r.Error
		}

		var me metaEntry
		if err := json.Unmarshal(r.Value, &me); err != nil {
			log.Warnf("skipping corrupt metadata at %s: %s", r.Key, err)
			continue
		}
		p, err := rsp.FromString(me.Key)
		if err != nil {
			log.Warnf("skipping metadata with bad routing key at %s: %s", r.Key, err)
			continue
		}
		entries = append(entries, Entry{Key: p, Meta: me.Metadata})
	}

	return entries, nil
}

// Clear evicts everything.
func (s *Store) Clear(ctx context.Context) error {
	for _, prefix := range []string{recordPrefix, metaPrefix} {
		res, err := s.ds.Query(ctx, dsquery.Query{Prefix: prefix, KeysOnly: true})
		if err != nil {
			return err
		}
		entries, err := res.Rest()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err = s.ds.Delete(ctx, ds.NewKey(e.Key)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Age is how long ago the cached record was stored.
func (s *Store) Age(md Metadata) time.Duration {
	return s.clk.Now().Sub(md.Created)
}

// FreshForTTL reports whether the cached record is still within the
// advisory cache lifetime ttl.
func (s *Store) FreshForTTL(md Metadata, ttl time.Duration) bool {
	return s.Age(md) < ttl
}

// ShouldRepublish reports whether a cached record is close enough to
// the end of its distributed-storage lease that it needs republishing:
// once threshold or less of the lease remains.
func (s *Store) ShouldRepublish(md Metadata, lease, threshold time.Duration) bool {
	return s.Age(md) >= lease-threshold
}
