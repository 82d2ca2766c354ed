package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/ftsindex"
	"github.com/localkb/localkb/internal/kberrors"
)

func mustNodeSearcher(t *testing.T, id string, content *fakeContent, idx ...Index) *NodeSearcher {
	t.Helper()
	n, err := NewNodeSearcher(NodeSearcherConfig{NodeID: id, Content: content, Indexes: idx})
	require.NoError(t, err)
	return n
}

func TestMultiNodeSearchMergesWeightsAndSorts(t *testing.T) {
	c1 := newFakeContent()
	c1.put(&contentstore.ContentRecord{ID: "a", Content: "golang"})
	n1 := mustNodeSearcher(t, "n1", c1, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "a", Score: 0.5}}}})

	c2 := newFakeContent()
	c2.put(&contentstore.ContentRecord{ID: "b", Content: "golang"})
	n2 := mustNodeSearcher(t, "n2", c2, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "b", Score: 0.9}}}})

	m, err := NewMultiNodeSearcher([]NodeHandle{
		{ID: "n1", Weight: 2.0, Search: n1, Content: c1},
		{ID: "n2", Weight: 1.0, Search: n2, Content: c2},
	}, nil)
	require.NoError(t, err)

	resp, err := m.Search(context.Background(), SearchRequest{Query: "golang"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].ContentID) // 0.5*2.0=1.0 beats 0.9*1.0=0.9
	assert.Equal(t, "b", resp.Results[1].ContentID)
	assert.Equal(t, 2, resp.TotalResults)
}

func TestMultiNodeSearchFiltersByMinRelevance(t *testing.T) {
	c1 := newFakeContent()
	c1.put(&contentstore.ContentRecord{ID: "a", Content: "golang"})
	n1 := mustNodeSearcher(t, "n1", c1, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "a", Score: 0.1}}}})

	m, err := NewMultiNodeSearcher([]NodeHandle{{ID: "n1", Weight: 1.0, Search: n1, Content: c1}}, nil)
	require.NoError(t, err)

	resp, err := m.Search(context.Background(), SearchRequest{Query: "golang", MinRelevance: 0.3})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.TotalResults)
}

func TestMultiNodeSearchSkipsIndexNotFoundNode(t *testing.T) {
	c1 := newFakeContent()
	c1.put(&contentstore.ContentRecord{ID: "a", Content: "golang"})
	n1 := mustNodeSearcher(t, "n1", c1, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "a", Score: 0.9}}}})

	c2 := newFakeContent()
	n2 := mustNodeSearcher(t, "n2", c2, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{err: kberrors.New(kberrors.IndexNotFound, "missing index")}})

	m, err := NewMultiNodeSearcher([]NodeHandle{
		{ID: "n1", Weight: 1.0, Search: n1, Content: c1},
		{ID: "n2", Weight: 1.0, Search: n2, Content: c2},
	}, nil)
	require.NoError(t, err)

	resp, err := m.Search(context.Background(), SearchRequest{Query: "golang"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"n1"}, resp.Metadata.NodesSearched)
	assert.Equal(t, []string{"n2"}, resp.Metadata.NodesSkipped)
}

func TestMultiNodeSearchPropagatesUnskippableError(t *testing.T) {
	c1 := newFakeContent()
	n1 := mustNodeSearcher(t, "n1", c1, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{err: kberrors.New(kberrors.QuerySyntaxError, "bad query")}})

	m, err := NewMultiNodeSearcher([]NodeHandle{{ID: "n1", Weight: 1.0, Search: n1, Content: c1}}, nil)
	require.NoError(t, err)

	_, err = m.Search(context.Background(), SearchRequest{Query: "golang"})
	require.Error(t, err)
	assert.Equal(t, kberrors.QuerySyntaxError, kberrors.KindOf(err))
}

func TestMultiNodeSearchResolvesNodeSubsetAndExclusions(t *testing.T) {
	c1 := newFakeContent()
	c1.put(&contentstore.ContentRecord{ID: "a", Content: "golang"})
	n1 := mustNodeSearcher(t, "n1", c1, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "a", Score: 0.9}}}})

	c2 := newFakeContent()
	c2.put(&contentstore.ContentRecord{ID: "b", Content: "golang"})
	n2 := mustNodeSearcher(t, "n2", c2, Index{ID: "fts1", Kind: KindFTS, Weight: 1.0,
		FTS: &fakeFTS{hits: []ftsindex.Result{{ContentID: "b", Score: 0.9}}}})

	m, err := NewMultiNodeSearcher([]NodeHandle{
		{ID: "n1", Weight: 1.0, Search: n1, Content: c1},
		{ID: "n2", Weight: 1.0, Search: n2, Content: c2},
	}, nil)
	require.NoError(t, err)

	resp, err := m.Search(context.Background(), SearchRequest{Query: "golang", Nodes: []string{"n1", "n2"}, ExcludeNodes: []string{"n2"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "n1", resp.Results[0].NodeID)
}

func TestValidateQueryReportsSyntaxError(t *testing.T) {
	result := ValidateQuery(`"unterminated`)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.Contains(t, result.AvailableFields, "tags")
}

func TestValidateQueryAcceptsWellFormedQuery(t *testing.T) {
	result := ValidateQuery(`title:golang AND NOT tags:draft`)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.ErrorMessage)
}
