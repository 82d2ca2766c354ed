package embedgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/kberrors"
)

func TestEmbedReturnsRawVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float64{{0.5, -0.5, 1.5}}})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(OllamaConfig{Host: srv.URL, Model: "test-model"})
	v, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5, 1.5}, v)
	assert.Equal(t, 3, g.Dimensions())
}

func TestEmbedEmptyTextReturnsZeroVector(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{Host: "http://unused", Model: "m", Dimensions: 4})
	v, err := g.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, v)
}

func TestEmbedTransportErrorOnUnreachableHost(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{Host: "http://127.0.0.1:1", Model: "m", MaxRetries: 1})
	_, err := g.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, kberrors.Transport, kberrors.KindOf(err))
}

func TestEmbedCircuitOpensAfterRepeatedFailures(t *testing.T) {
	g := NewOllamaGenerator(OllamaConfig{Host: "http://127.0.0.1:1", Model: "m", MaxRetries: 1})
	g.breaker = kberrors.NewCircuitBreaker("t", kberrors.WithMaxFailures(1))

	_, err := g.Embed(context.Background(), "hello")
	require.Error(t, err)

	_, err = g.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, kberrors.Transport, kberrors.KindOf(err))
}
