package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedHandler(t *testing.T, fn func(w http.ResponseWriter, req embedRequest)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fn(w, req)
	}
}

func TestEmbedReturnsVectorsInOrder(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(w http.ResponseWriter, req embedRequest) {
		require.Len(t, req.Input, 2)
		// Deliberately out of order; the client must reassemble by index.
		resp := embedResponse{Data: []embedItem{
			{Index: 1, Embedding: []float64{0, 1}},
			{Index: 0, Embedding: []float64{1, 0}},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	vecs, err := c.Embed(context.Background(), []string{"thesis", "mandate"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float64{1, 0}, vecs[0])
	assert.Equal(t, []float64{0, 1}, vecs[1])
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewClient("test-key")
	vecs, err := c.Embed(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedRetriesOn503(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(embedHandler(t, func(w http.ResponseWriter, req embedRequest) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []embedItem{
			{Index: 0, Embedding: []float64{1}},
		}})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	vecs, err := c.Embed(context.Background(), []string{"thesis"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, []float64{1}, vecs[0])
}

func TestEmbedUnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(w http.ResponseWriter, req embedRequest) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Embed(context.Background(), []string{"thesis"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedBadRequestIsNotUnavailable(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(w http.ResponseWriter, req embedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"input too long"}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Embed(context.Background(), []string{"thesis"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable, "client errors are permanent, not provider outages")
}

func TestEmbedMissingVector(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, func(w http.ResponseWriter, req embedRequest) {
		_ = json.NewEncoder(w).Encode(embedResponse{Data: []embedItem{
			{Index: 0, Embedding: []float64{1}},
		}})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.Embed(context.Background(), []string{"thesis", "mandate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing embedding")
}
