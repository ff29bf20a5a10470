package carbstatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndexServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, chan *http.Request) {
	t.Helper()
	var hits atomic.Int32
	seen := make(chan *http.Request, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		seen <- r
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, seen
}

func TestIndex(t *testing.T) {
	srv, _, seen := newIndexServer(t, http.StatusOK, `{"time":1700000000,"nvalue":10,"value":123.4}`)
	c := NewClient(Options{Endpoint: srv.URL + "/v1/", UserAgent: "test-agent"})

	data, err := c.Index(context.Background(), "https://example.com/a?b=c", "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, IndexData{Time: 1700000000, NValue: score(10), Value: 123.4}, data)

	req := <-seen
	assert.Equal(t, "/v1/index", req.URL.Path)
	assert.Equal(t, "https://example.com/a?b=c", req.URL.Query().Get("l"))
	assert.Equal(t, "203.0.113.7", req.URL.Query().Get("i"))
	assert.Equal(t, "test-agent", req.Header.Get("User-Agent"))
}

func TestIndexWithoutIP(t *testing.T) {
	srv, _, seen := newIndexServer(t, http.StatusOK, `{"nvalue":70}`)
	c := NewClient(Options{Endpoint: srv.URL})

	_, err := c.Index(context.Background(), "https://example.com", "")
	require.NoError(t, err)

	req := <-seen
	assert.False(t, req.URL.Query().Has("i"))
}

func TestIndexByIP(t *testing.T) {
	srv, _, seen := newIndexServer(t, http.StatusOK, `{"nvalue":49.9}`)
	c := NewClient(Options{Endpoint: srv.URL})

	data, err := c.IndexByIP(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	require.NotNil(t, data.NValue)
	assert.Equal(t, 49.9, *data.NValue)

	req := <-seen
	assert.Equal(t, "/index-by-ip", req.URL.Path)
	assert.Equal(t, "198.51.100.1", req.URL.Query().Get("i"))
}

func TestLookupErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv, _, _ := newIndexServer(t, http.StatusNotFound, `{}`)
		_, err := NewClient(Options{Endpoint: srv.URL}).IndexByIP(context.Background(), "1.1.1.1")

		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	})

	t.Run("bad json", func(t *testing.T) {
		srv, _, _ := newIndexServer(t, http.StatusOK, `not json`)
		_, err := NewClient(Options{Endpoint: srv.URL}).IndexByIP(context.Background(), "1.1.1.1")
		var decodeErr *DecodeError
		assert.True(t, errors.As(err, &decodeErr))
		assert.ErrorContains(t, err, "decoding")
	})

	t.Run("network", func(t *testing.T) {
		srv, _, _ := newIndexServer(t, http.StatusOK, `{}`)
		srv.Close()
		_, err := NewClient(Options{Endpoint: srv.URL}).IndexByIP(context.Background(), "1.1.1.1")
		assert.ErrorContains(t, err, "fetching index")
	})
}

func TestCache(t *testing.T) {
	srv, hits, _ := newIndexServer(t, http.StatusOK, `{"nvalue":5}`)

	uncached := NewClient(Options{Endpoint: srv.URL})
	for i := 0; i < 3; i++ {
		_, err := uncached.IndexByIP(context.Background(), "1.1.1.1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, hits.Load())

	cached := NewClient(Options{Endpoint: srv.URL, CacheTTL: time.Minute})
	for i := 0; i < 3; i++ {
		data, err := cached.IndexByIP(context.Background(), "1.1.1.1")
		require.NoError(t, err)
		assert.Equal(t, score(5), data.NValue)
	}
	assert.EqualValues(t, 4, hits.Load())
}

func score(v float64) *float64 { return &v }

func TestIndexWithoutScore(t *testing.T) {
	srv, _, _ := newIndexServer(t, http.StatusOK, `{"error":"location not found"}`)
	data, err := NewClient(Options{Endpoint: srv.URL}).IndexByIP(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Nil(t, data.NValue)
	assert.False(t, Decide(data, 50))
}

func TestDecide(t *testing.T) {
	assert.True(t, Decide(IndexData{NValue: score(10)}, 50))
	assert.True(t, Decide(IndexData{NValue: score(50)}, 50))
	assert.True(t, Decide(IndexData{NValue: score(0)}, 50))
	assert.False(t, Decide(IndexData{NValue: score(50.01)}, 50))
	assert.False(t, Decide(IndexData{NValue: score(80)}, 50))
	assert.False(t, Decide(IndexData{}, 50))
}

func TestSaveData(t *testing.T) {
	lookup := func(data IndexData, err error) func() (IndexData, error) {
		return func() (IndexData, error) { return data, err }
	}

	on, err := SaveData(lookup(IndexData{NValue: score(1)}, nil), 50)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = SaveData(lookup(IndexData{NValue: score(99)}, nil), 50)
	require.NoError(t, err)
	assert.False(t, on)

	on, err = SaveData(lookup(IndexData{}, &StatusError{StatusCode: 500}), 50)
	require.NoError(t, err)
	assert.False(t, on)

	on, err = SaveData(lookup(IndexData{}, fmt.Errorf("error fetching index: %w", errors.New("refused"))), 50)
	require.NoError(t, err)
	assert.False(t, on)

	on, err = SaveData(lookup(IndexData{}, &DecodeError{Err: errors.New("invalid character")}), 50)
	assert.Error(t, err)
	assert.False(t, on)
}
