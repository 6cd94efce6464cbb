package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"
)

// maxRecordBody bounds how much of a response body we are willing to
// read; records are small.
const maxRecordBody = 1 << 20

const (
	httpCacheSize = 256
	httpCacheTTL  = time.Minute
)

// recordBody is the JSON body a delegated-lookup endpoint serves and
// accepts for a record.
type recordBody struct {
	Key    string `json:"key"`
	Record []byte `json:"record"`
}

// HTTP is a backend over one or more delegated-lookup services. Calls
// try each endpoint in order, falling back to the next on failure.
// Responses are held briefly in a bounded cache so a burst of resolves
// for a hot key does not hammer the delegate.
type HTTP struct {
	endpoints []string
	client    *http.Client
	cache     *expirable.LRU[string, []byte]
}

var _ Router = (*HTTP)(nil)

func NewHTTP(endpoints []string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: DefaultCallTimeout}
	}
	trimmed := make([]string, len(endpoints))
	for i, ep := range endpoints {
		trimmed[i] = strings.TrimRight(ep, "/")
	}
	return &HTTP{
		endpoints: trimmed,
		client:    client,
		cache:     expirable.NewLRU[string, []byte](httpCacheSize, nil, httpCacheTTL),
	}
}

func (h *HTTP) recordURL(ep string, p rsp.Path) string {
	return fmt.Sprintf("%s/v1/records/%s", ep, p.Hash().B58String())
}

func (h *HTTP) Put(ctx context.Context, p rsp.Path, rec []byte, opts ...Option) error {
	ctx, cancel := callContext(ctx, opts)
	defer cancel()

	body, err := json.Marshal(&recordBody{Key: p.String(), Record: rec})
	if err != nil {
		return err
	}

	var errs error
	for _, ep := range h.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.recordURL(ep, p), bytes.NewReader(body))
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			log.Debugf("http put to %s failed: %s", ep, err)
			errs = multierr.Append(errs, err)
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxRecordBody))
		resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			errs = multierr.Append(errs, fmt.Errorf("%s returned %s", ep, resp.Status))
			continue
		}

		return nil
	}

	if errs == nil {
		errs = fmt.Errorf("no endpoints configured")
	}
	return fmt.Errorf("%w: %s", ErrRoutingFailed, errs)
}

func (h *HTTP) Get(ctx context.Context, p rsp.Path, opts ...Option) ([]byte, error) {
	if rec, ok := h.cache.Get(p.String()); ok {
		return rec, nil
	}

	ctx, cancel := callContext(ctx, opts)
	defer cancel()

	var errs error
	notFound := false
	for _, ep := range h.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.recordURL(ep, p), nil)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		resp, err := h.client.Do(req)
		if err != nil {
			log.Debugf("http get from %s failed: %s", ep, err)
			errs = multierr.Append(errs, err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxRecordBody))
			resp.Body.Close()
			notFound = true
			continue
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxRecordBody))
			resp.Body.Close()
			errs = multierr.Append(errs, fmt.Errorf("%s returned %s", ep, resp.Status))
			continue
		}

		var body recordBody
		err = json.NewDecoder(io.LimitReader(resp.Body, maxRecordBody)).Decode(&body)
		resp.Body.Close()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s returned bad body: %w", ep, err))
			continue
		}
		if len(body.Record) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("%s returned empty record", ep))
			continue
		}

		h.cache.Add(p.String(), body.Record)
		return body.Record, nil
	}

	if notFound && errs == nil {
		return nil, ErrNotFound
	}
	if errs == nil {
		errs = fmt.Errorf("no endpoints configured")
	}
	return nil, fmt.Errorf("%w: %s", ErrRoutingFailed, errs)
}

func (h *HTTP) Name() string {
	return "http"
}
