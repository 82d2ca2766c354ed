package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/ftsindex"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/vectorindex"
)

type fakeFTS struct {
	hits []ftsindex.Result
	err  error
}

func (f *fakeFTS) Search(ctx context.Context, rawQuery string, limit int) ([]ftsindex.Result, error) {
	return f.hits, f.err
}

type fakeVector struct {
	hits []vectorindex.Result
	err  error
}

func (f *fakeVector) Search(ctx context.Context, queryText string, limit int) ([]vectorindex.Result, error) {
	return f.hits, f.err
}

type fakeContent struct {
	records map[string]*contentstore.ContentRecord
	order   []string
}

func newFakeContent() *fakeContent {
	return &fakeContent{records: make(map[string]*contentstore.ContentRecord)}
}

func (f *fakeContent) put(rec *contentstore.ContentRecord) {
	if _, exists := f.records[rec.ID]; !exists {
		f.order = append(f.order, rec.ID)
	}
	f.records[rec.ID] = rec
}

func (f *fakeContent) Get(ctx context.Context, contentID string) (*contentstore.ContentRecord, error) {
	rec, ok := f.records[contentID]
	if !ok {
		return nil, kberrors.Newf(kberrors.NotFound, "content %q not found", contentID)
	}
	return rec, nil
}

func (f *fakeContent) List(ctx context.Context, skip, take int) ([]*contentstore.ContentRecord, error) {
	if skip >= len(f.order) {
		return nil, nil
	}
	end := skip + take
	if end > len(f.order) {
		end = len(f.order)
	}
	out := make([]*contentstore.ContentRecord, 0, end-skip)
	for _, id := range f.order[skip:end] {
		out = append(out, f.records[id])
	}
	return out, nil
}

func TestNodeSearchEmptyQueryReturnsEmpty(t *testing.T) {
	n, err := NewNodeSearcher(NodeSearcherConfig{NodeID: "n1", Content: newFakeContent()})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "   ", 20)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNodeSearchFTSAppliesWeightAndResidual(t *testing.T) {
	content := newFakeContent()
	content.put(&contentstore.ContentRecord{ID: "a", Content: "golang tutorial", Tags: []contentstore.Tag{{Key: "topic", Value: "exam"}}})
	content.put(&contentstore.ContentRecord{ID: "b", Content: "golang tutorial", Tags: []contentstore.Tag{{Key: "topic", Value: "history"}}})

	fts := &fakeFTS{hits: []ftsindex.Result{
		{ContentID: "a", Score: 0.9, Snippet: "golang"},
		{ContentID: "b", Score: 0.5, Snippet: "golang"},
	}}

	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "fts1", Kind: KindFTS, Weight: 2.0, FTS: fts}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "golang AND tags:exam", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ContentID)
	assert.InDelta(t, 1.8, results[0].Score, 1e-9)
	assert.Equal(t, "n1", results[0].NodeID)
	assert.Equal(t, "fts1", results[0].IndexID)
}

func TestNodeSearchVectorRescalesCosineToUnitRange(t *testing.T) {
	content := newFakeContent()
	content.put(&contentstore.ContentRecord{ID: "a", Content: "x"})

	vec := &fakeVector{hits: []vectorindex.Result{{ContentID: "a", Score: 0.5}}}
	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "vec1", Kind: KindVector, Weight: 1.0, Vector: vec}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "anything", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.75, results[0].Score, 1e-9)
}

func TestNodeSearchTagOnlyQueryFallsBackToScan(t *testing.T) {
	content := newFakeContent()
	content.put(&contentstore.ContentRecord{ID: "a", Content: "irrelevant", Tags: []contentstore.Tag{{Key: "topic", Value: "exam"}}})
	content.put(&contentstore.ContentRecord{ID: "b", Content: "irrelevant", Tags: []contentstore.Tag{{Key: "topic", Value: "other"}}})

	fts := &fakeFTS{}
	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "fts1", Kind: KindFTS, Weight: 1.0, FTS: fts}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "tags:exam", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ContentID)
}

func TestNodeSearchRootNotExcludesMatches(t *testing.T) {
	content := newFakeContent()
	content.put(&contentstore.ContentRecord{ID: "a", Content: "archived notes"})
	content.put(&contentstore.ContentRecord{ID: "b", Content: "fresh notes"})

	fts := &fakeFTS{hits: []ftsindex.Result{{ContentID: "a", Score: 1.0}}}
	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "fts1", Kind: KindFTS, Weight: 1.0, FTS: fts}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "NOT archived", 20)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ContentID)
}

func TestNodeSearchMissingContentRecordIsSkipped(t *testing.T) {
	content := newFakeContent()
	fts := &fakeFTS{hits: []ftsindex.Result{{ContentID: "ghost", Score: 1.0}}}
	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "fts1", Kind: KindFTS, Weight: 1.0, FTS: fts}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "golang", 20)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNodeSearchRespectsLimit(t *testing.T) {
	content := newFakeContent()
	content.put(&contentstore.ContentRecord{ID: "a", Content: "golang", CreatedAt: time.Now()})
	content.put(&contentstore.ContentRecord{ID: "b", Content: "golang", CreatedAt: time.Now()})

	fts := &fakeFTS{hits: []ftsindex.Result{
		{ContentID: "a", Score: 0.9},
		{ContentID: "b", Score: 0.8},
	}}
	n, err := NewNodeSearcher(NodeSearcherConfig{
		NodeID:  "n1",
		Content: content,
		Indexes: []Index{{ID: "fts1", Kind: KindFTS, Weight: 1.0, FTS: fts}},
	})
	require.NoError(t, err)

	results, err := n.Search(context.Background(), "golang", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}
