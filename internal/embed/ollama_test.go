package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/verirag/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed. Each embedding is
// [len(text), 1, 0] so tests can check ordering.
type fakeOllama struct {
	embedCalls atomic.Int32
	failFirst  atomic.Int32
	status     int
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OllamaModelListResponse{Models: []OllamaModelInfo{{Name: "nomic-embed-text:latest"}}})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		if f.failFirst.Load() > 0 {
			f.failFirst.Add(-1)
			w.WriteHeader(f.status)
			return
		}

		var req OllamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}

		resp := OllamaEmbedResponse{Model: req.Model}
		for _, in := range inputs {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func newTestOllama(t *testing.T, f *fakeOllama, cfg OllamaConfig) *OllamaEmbedder {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	cfg.Host = srv.URL
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOllamaEmbedder_ResolvesModelAndDimensions(t *testing.T) {
	f := &fakeOllama{}
	e := newTestOllama(t, f, OllamaConfig{Model: "nomic-embed-text"})

	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 3, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_BatchesPreserveOrderAndSkipBlanks(t *testing.T) {
	f := &fakeOllama{}
	e := newTestOllama(t, f, OllamaConfig{Model: "nomic-embed-text", Dimensions: 3, BatchSize: 2, SkipHealthCheck: true})

	out, err := e.EmbedBatch(context.Background(), []string{"a", "", "abc", "ab", "abcd"})
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, []float32{0, 0, 0}, out[1])
	// Vectors are normalised, so compare the first component ordering.
	assert.Less(t, out[0][0], out[3][0])
	assert.Less(t, out[3][0], out[2][0])
	assert.Less(t, out[2][0], out[4][0])
	assert.Equal(t, int32(2), f.embedCalls.Load(), "4 non-blank texts in batches of 2")
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	f := &fakeOllama{status: http.StatusServiceUnavailable}
	f.failFirst.Store(1)
	e := newTestOllama(t, f, OllamaConfig{Model: "nomic-embed-text", Dimensions: 3, SkipHealthCheck: true})
	e.retry.InitialDelay = time.Millisecond

	v, err := e.Embed(context.Background(), "tlp")
	require.NoError(t, err)
	assert.Len(t, v, 3)
	assert.Equal(t, int32(2), f.embedCalls.Load())
}

func TestOllamaEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	f := &fakeOllama{status: http.StatusNotFound}
	f.failFirst.Store(5)
	e := newTestOllama(t, f, OllamaConfig{Model: "nomic-embed-text", Dimensions: 3, SkipHealthCheck: true})

	_, err := e.Embed(context.Background(), "tlp")
	require.Error(t, err)
	assert.Equal(t, verrors.ErrCodeEmbeddingFailed, verrors.GetCode(err))
	assert.Equal(t, int32(1), f.embedCalls.Load())
}

func TestOllamaEmbedder_MissingModelFailsConstruction(t *testing.T) {
	srv := httptest.NewServer((&fakeOllama{}).handler(t))
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "bge-m3"})
	require.Error(t, err)
	assert.Contains(t, verrors.FormatForCLI(err), "ollama pull bge-m3")
}
