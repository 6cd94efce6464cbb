package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func recordServer(t *testing.T, records map[string][]byte, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/records/{hash}", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		rec, ok := records[r.PathValue("hash")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(&recordBody{Record: rec})
	})
	mux.HandleFunc("PUT /v1/records/{hash}", func(w http.ResponseWriter, r *http.Request) {
		var body recordBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		records[r.PathValue("hash")] = body.Record
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPPutGet(t *testing.T) {
	p := testPath(t)
	records := map[string][]byte{}
	srv := recordServer(t, records, nil)

	h := NewHTTP([]string{srv.URL}, nil)
	require.NoError(t, h.Put(context.Background(), p, []byte("rec")))
	require.Equal(t, []byte("rec"), records[p.Hash().B58String()])

	val, err := h.Get(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, []byte("rec"), val)
}

func TestHTTPGetNotFound(t *testing.T) {
	p := testPath(t)
	srv := recordServer(t, map[string][]byte{}, nil)

	h := NewHTTP([]string{srv.URL}, nil)
	_, err := h.Get(context.Background(), p)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPEndpointFallback(t *testing.T) {
	p := testPath(t)
	records := map[string][]byte{p.Hash().B58String(): []byte("rec")}
	good := recordServer(t, records, nil)

	// First endpoint refuses connections
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	h := NewHTTP([]string{dead.URL, good.URL}, nil)
	val, err := h.Get(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, []byte("rec"), val)

	require.NoError(t, h.Put(context.Background(), p, []byte("rec2")))
	require.Equal(t, []byte("rec2"), records[p.Hash().B58String()])
}

func TestHTTPAllEndpointsFail(t *testing.T) {
	p := testPath(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	h := NewHTTP([]string{dead.URL}, nil)
	_, err := h.Get(context.Background(), p)
	require.ErrorIs(t, err, ErrRoutingFailed)
	require.ErrorIs(t, h.Put(context.Background(), p, []byte("rec")), ErrRoutingFailed)
}

func TestHTTPGetCaches(t *testing.T) {
	p := testPath(t)
	var hits int32
	records := map[string][]byte{p.Hash().B58String(): []byte("rec")}
	srv := recordServer(t, records, &hits)

	h := NewHTTP([]string{srv.URL}, nil)
	for i := 0; i < 3; i++ {
		val, err := h.Get(context.Background(), p)
		require.NoError(t, err)
		require.Equal(t, []byte("rec"), val)
	}

	// Only the first get reaches the endpoint
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}
