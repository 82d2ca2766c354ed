package ftsquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localkb/localkb/internal/query"
)

func TestExtractNilNodeIsEmpty(t *testing.T) {
	ex := Extract(nil)
	assert.Equal(t, "", ex.FTSQuery)
	assert.False(t, ex.NegateAll)
	assert.Nil(t, ex.Residual)
}

func TestExtractBareTextIsCompleteNoResidual(t *testing.T) {
	ex := Extract(query.Text("golang"))
	assert.Equal(t, "golang", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractPhraseIsQuoted(t *testing.T) {
	ex := Extract(query.PhraseExact("hello world"))
	assert.Equal(t, `"hello world"`, ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractTermWithSpaceGetsQuoted(t *testing.T) {
	ex := Extract(query.Text("hello world"))
	assert.Equal(t, `"hello world"`, ex.FTSQuery)
}

func TestExtractFieldTitleScopedIsCompleteNoResidual(t *testing.T) {
	ex := Extract(query.Field("title", query.Text("golang")))
	assert.Equal(t, "title:golang", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractTagsFieldIsResidualOnly(t *testing.T) {
	node := query.Field("tags", query.Text("exam"))
	ex := Extract(node)
	assert.Equal(t, "", ex.FTSQuery)
	require.NotNil(t, ex.Residual)
	assert.True(t, ex.Residual(Fields{Tags: []string{"topic:exam-prep"}}))
	assert.False(t, ex.Residual(Fields{Tags: []string{"topic:history"}}))
}

func TestExtractUserDefinedTagKey(t *testing.T) {
	node := query.Field("topic", query.Text("history"))
	ex := Extract(node)
	assert.Equal(t, "", ex.FTSQuery)
	assert.True(t, ex.Residual(Fields{Tags: []string{"topic:history"}}))
	assert.False(t, ex.Residual(Fields{Tags: []string{"topic:math"}}))
}

func TestExtractAndJoinsFragmentsIsCompleteNoResidual(t *testing.T) {
	node := query.And(query.Text("alpha"), query.Text("beta"))
	ex := Extract(node)
	assert.Equal(t, "alpha AND beta", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

// A stemmed FTS5 match (e.g. "summaries" finding content stored as
// "summary") must not be filtered back out by a non-stemmed residual, so a
// fully expressible And carries no residual at all.
func TestExtractAndOfPlainTermsNeverFiltersStemmedMatches(t *testing.T) {
	node := query.And(query.Text("alpha"), query.Text("beta"))
	ex := Extract(node)
	assert.Nil(t, ex.Residual)
}

func TestExtractAndWithNotFoldsIntoFTSNotOperator(t *testing.T) {
	node := query.And(query.Text("alpha"), query.Not(query.Text("beta")))
	ex := Extract(node)
	assert.Equal(t, "alpha NOT beta", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractAndWithMultipleNotsChainsFTSNotOperator(t *testing.T) {
	node := query.And(query.Text("alpha"), query.Not(query.Text("beta")), query.Not(query.Text("gamma")))
	ex := Extract(node)
	assert.Equal(t, "alpha NOT beta NOT gamma", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractAndWithOnlyNotHasNoLeadingAnd(t *testing.T) {
	node := query.And(query.Not(query.Text("alpha")), query.Not(query.Text("beta")))
	ex := Extract(node)
	assert.Equal(t, "NOT alpha NOT beta", ex.FTSQuery)
}

func TestExtractAndWithResidualOnlyMemberDropsFromFTS(t *testing.T) {
	node := query.And(query.Text("alpha"), query.Field("tags", query.Text("exam")))
	ex := Extract(node)
	assert.Equal(t, "alpha", ex.FTSQuery)
	require.NotNil(t, ex.Residual)
	assert.True(t, ex.Residual(Fields{Content: "alpha here", Tags: []string{"topic:exam"}}))
	assert.False(t, ex.Residual(Fields{Content: "alpha here", Tags: []string{"topic:other"}}))
}

func TestExtractOrAllExpressibleJoinsIsCompleteNoResidual(t *testing.T) {
	node := query.Or(query.Text("alpha"), query.Text("beta"))
	ex := Extract(node)
	assert.Equal(t, "(alpha OR beta)", ex.FTSQuery)
	assert.Nil(t, ex.Residual)
}

func TestExtractOrWithResidualMemberFallsBackEntirely(t *testing.T) {
	node := query.Or(query.Text("alpha"), query.Field("tags", query.Text("exam")))
	ex := Extract(node)
	assert.Equal(t, "", ex.FTSQuery)
	require.NotNil(t, ex.Residual)
	assert.True(t, ex.Residual(Fields{Tags: []string{"topic:exam"}}))
	assert.True(t, ex.Residual(Fields{Content: "alpha here"}))
	assert.False(t, ex.Residual(Fields{Content: "nothing relevant"}))
}

func TestExtractRootNotNegatesAllIsCompleteNoResidual(t *testing.T) {
	node := query.Not(query.Text("archived"))
	ex := Extract(node)
	assert.Equal(t, "archived", ex.FTSQuery)
	assert.True(t, ex.NegateAll)
	assert.Nil(t, ex.Residual)
}

func TestExtractRootNotOverUnexpressibleChildKeepsResidual(t *testing.T) {
	node := query.Not(query.Field("tags", query.Text("archived")))
	ex := Extract(node)
	assert.Equal(t, "", ex.FTSQuery)
	assert.True(t, ex.NegateAll)
	require.NotNil(t, ex.Residual)
	assert.True(t, ex.Residual(Fields{Tags: []string{"topic:archived"}}))
	assert.False(t, ex.Residual(Fields{Tags: []string{"topic:fresh"}}))
}
