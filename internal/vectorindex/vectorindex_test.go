package vectorindex

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/embedcache"
	"github.com/localkb/localkb/internal/kberrors"
)

// fakeGenerator returns a deterministic vector per text, without touching
// the network, so indexing and search behavior can be tested in isolation.
type fakeGenerator struct {
	dims    int
	vectors map[string][]float32
	calls   int
}

func newFakeGenerator(dims int) *fakeGenerator {
	return &fakeGenerator{dims: dims, vectors: make(map[string][]float32)}
}

func (g *fakeGenerator) Embed(_ context.Context, text string) ([]float32, error) {
	g.calls++
	if v, ok := g.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, g.dims)
	for i := range v {
		v[i] = float32(len(text) + i + 1)
	}
	return v, nil
}

func (g *fakeGenerator) Dimensions() int   { return g.dims }
func (g *fakeGenerator) ModelName() string { return "fake" }

func openTestIndex(t *testing.T, gen *fakeGenerator, dims int) *Index {
	t.Helper()
	cache, err := embedcache.New(embedcache.ReadWrite, 100)
	require.NoError(t, err)

	idx, err := Open(Config{
		Path:       filepath.Join(t.TempDir(), "vec.db"),
		Dimensions: dims,
		Generator:  gen,
		Cache:      cache,
		Provider:   "fake",
		Model:      "fake-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexAndSearchFindsClosestVector(t *testing.T) {
	gen := newFakeGenerator(4)
	gen.vectors["alpha"] = []float32{1, 0, 0, 0}
	gen.vectors["beta"] = []float32{0, 1, 0, 0}
	idx := openTestIndex(t, gen, 4)

	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, "c-alpha", "alpha"))
	require.NoError(t, idx.Index(ctx, "c-beta", "beta"))

	results, err := idx.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c-alpha", results[0].ContentID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestIndexRejectsDimensionMismatch(t *testing.T) {
	gen := newFakeGenerator(3)
	idx := openTestIndex(t, gen, 8)

	err := idx.Index(context.Background(), "c1", "hello")
	require.Error(t, err)
	assert.Equal(t, kberrors.DimensionMismatch, kberrors.KindOf(err))
}

func TestEmbedCacheAvoidsRepeatedGeneratorCalls(t *testing.T) {
	gen := newFakeGenerator(4)
	idx := openTestIndex(t, gen, 4)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "c1", "repeat me"))
	callsAfterFirst := gen.calls

	_, err := idx.Search(ctx, "repeat me", 10)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, gen.calls, "query embedding should come from cache, not a fresh generator call")
}

func TestStoredVectorsAreUnitNorm(t *testing.T) {
	gen := newFakeGenerator(3)
	idx := openTestIndex(t, gen, 3)
	require.NoError(t, idx.Index(context.Background(), "c1", "anything"))

	row := idx.db.QueryRow(`SELECT vector FROM vectors WHERE content_id = ?`, "c1")
	var blob []byte
	require.NoError(t, row.Scan(&blob))

	var sumSq float64
	for i := 0; i+4 <= len(blob); i += 4 {
		bits := uint32(blob[i]) | uint32(blob[i+1])<<8 | uint32(blob[i+2])<<16 | uint32(blob[i+3])<<24
		f := math.Float32frombits(bits)
		sumSq += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, sumSq, 1e-4)
}

func TestRemoveIsIdempotent(t *testing.T) {
	gen := newFakeGenerator(4)
	idx := openTestIndex(t, gen, 4)
	ctx := context.Background()

	require.NoError(t, idx.Remove(ctx, "never-indexed"))
	require.NoError(t, idx.Index(ctx, "c1", "hello"))
	require.NoError(t, idx.Remove(ctx, "c1"))
	require.NoError(t, idx.Remove(ctx, "c1"))

	results, err := idx.Search(ctx, "hello", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchOrdersByScoreDescThenContentIDAsc(t *testing.T) {
	gen := newFakeGenerator(2)
	gen.vectors["query"] = []float32{1, 0}
	gen.vectors["close"] = []float32{1, 0.01}
	gen.vectors["far"] = []float32{0, 1}
	idx := openTestIndex(t, gen, 2)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, "b-far", "far"))
	require.NoError(t, idx.Index(ctx, "a-close", "close"))

	results, err := idx.Search(ctx, "query", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-close", results[0].ContentID)
	assert.Equal(t, "b-far", results[1].ContentID)
}
