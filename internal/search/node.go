// Package search runs a parsed query against one node's indexes (§4.9) and
// aggregates results across every configured node (§4.10). It is the read
// side's entry point: CLI → MultiNodeSearcher → per-node NodeSearcher →
// query parser → FTS extractor → FTS/vector indexes → residual filter →
// per-index reweight → content hydration.
package search

import (
	"context"
	"sort"
	"strings"

	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/ftsindex"
	"github.com/localkb/localkb/internal/ftsquery"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/query"
	"github.com/localkb/localkb/internal/vectorindex"
)

// DefaultMaxResultsPerIndex bounds how many raw hits a single index can
// contribute before reweighting, per §4.9 step 3.
const DefaultMaxResultsPerIndex = 1000

// FTSSearcher is the subset of *ftsindex.Index a node search consumes.
type FTSSearcher interface {
	Search(ctx context.Context, rawQuery string, limit int) ([]ftsindex.Result, error)
}

// VectorSearcher is the subset of *vectorindex.Index a node search consumes.
type VectorSearcher interface {
	Search(ctx context.Context, queryText string, limit int) ([]vectorindex.Result, error)
}

// ContentLoader is the subset of *contentstore.Store a node search consumes
// to hydrate candidates and, for a root-level negation, to enumerate every
// id in the node.
type ContentLoader interface {
	Get(ctx context.Context, contentID string) (*contentstore.ContentRecord, error)
	List(ctx context.Context, skip, take int) ([]*contentstore.ContentRecord, error)
}

// Index is one of a node's configured search indexes. Exactly one of FTS or
// Vector is non-nil, matching its Kind.
type Index struct {
	ID     string
	Kind   string // "fts" or "vector", per SearchIndexDescriptor (§3)
	Weight float32
	FTS    FTSSearcher
	Vector VectorSearcher
}

const (
	KindFTS    = "fts"
	KindVector = "vector"
)

// Result is one ranked (content, index) hit, per §4.9 step 6.
type Result struct {
	ContentID string
	NodeID    string
	IndexID   string
	Score     float64
	Snippet   string
}

// NodeSearcher runs one node's flow: parse → lower → search every
// configured index → residual filter → reweight.
type NodeSearcher struct {
	nodeID             string
	indexes            []Index
	content            ContentLoader
	maxResultsPerIndex int
}

// NodeSearcherConfig constructs a NodeSearcher.
type NodeSearcherConfig struct {
	NodeID             string
	Indexes            []Index // in configuration order
	Content            ContentLoader
	MaxResultsPerIndex int // 0 → DefaultMaxResultsPerIndex
}

// NewNodeSearcher validates cfg and builds a NodeSearcher.
func NewNodeSearcher(cfg NodeSearcherConfig) (*NodeSearcher, error) {
	if cfg.NodeID == "" {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "node searcher requires a node id")
	}
	if cfg.Content == nil {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "node searcher requires a content loader")
	}
	max := cfg.MaxResultsPerIndex
	if max <= 0 {
		max = DefaultMaxResultsPerIndex
	}
	return &NodeSearcher{nodeID: cfg.NodeID, indexes: cfg.Indexes, content: cfg.Content, maxResultsPerIndex: max}, nil
}

// Search runs raw (an infix or JSON query string) against every index on
// the node, per §4.9. An empty (or whitespace-only) query returns empty
// results, not an error.
func (n *NodeSearcher) Search(ctx context.Context, raw string, limit int) ([]Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	node, err := parse(raw)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}

	ex := ftsquery.Extract(node)
	if limit <= 0 {
		limit = n.maxResultsPerIndex
	}

	var results []Result
	for _, idx := range n.indexes {
		var hits []Result
		var searchErr error
		switch idx.Kind {
		case KindFTS:
			hits, searchErr = n.searchFTS(ctx, idx, ex, limit)
		case KindVector:
			hits, searchErr = n.searchVector(ctx, idx, raw, ex, limit)
		}
		if searchErr != nil {
			return nil, searchErr
		}
		results = append(results, hits...)
	}
	return results, nil
}

func (n *NodeSearcher) searchFTS(ctx context.Context, idx Index, ex ftsquery.Extraction, limit int) ([]Result, error) {
	var hits []ftsindex.Result
	var matched map[string]bool

	if ex.FTSQuery != "" {
		raw, err := idx.FTS.Search(ctx, ex.FTSQuery, n.maxResultsPerIndex)
		if err != nil {
			return nil, err
		}
		hits = raw
	}

	if ex.NegateAll {
		matched = make(map[string]bool, len(hits))
		for _, h := range hits {
			matched[h.ContentID] = true
		}
		return n.negatedCandidates(ctx, idx, matched, ex.Residual, limit)
	}

	if ex.FTSQuery == "" {
		// Nothing in this query is FTS-expressible (e.g. a bare tag
		// filter): fall back to a full scan, letting the residual carry
		// all of the semantics.
		return n.scanCandidates(ctx, idx, ex.Residual, limit)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, err := n.content.Get(ctx, h.ContentID)
		if err != nil {
			if kberrors.KindOf(err) == kberrors.NotFound {
				continue
			}
			return nil, err
		}
		if ex.Residual != nil && !ex.Residual(fieldsOf(rec)) {
			continue
		}
		out = append(out, Result{ContentID: h.ContentID, NodeID: n.nodeID, IndexID: idx.ID, Score: h.Score * float64(idx.Weight), Snippet: h.Snippet})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// negatedCandidates implements the root-level bare-Not rule (§4.6): the
// result set is every row in the node minus whatever the child query
// matched. There is no bm25 rank to carry over a negation, so every
// surviving candidate gets a flat neutral score before index weighting.
func (n *NodeSearcher) negatedCandidates(ctx context.Context, idx Index, matched map[string]bool, residual ftsquery.Predicate, limit int) ([]Result, error) {
	const neutralScore = 1.0
	var out []Result
	skip := 0
	const page = 500
	for {
		recs, err := n.content.List(ctx, skip, page)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			// A non-nil residual re-evaluates the whole child, so it alone
			// decides whether the child matched; otherwise the FTS hits do.
			if residual != nil {
				if residual(fieldsOf(rec)) {
					continue
				}
			} else if matched[rec.ID] {
				continue
			}
			out = append(out, Result{ContentID: rec.ID, NodeID: n.nodeID, IndexID: idx.ID, Score: neutralScore * float64(idx.Weight)})
			if len(out) >= limit {
				return out, nil
			}
		}
		skip += len(recs)
	}
	return out, nil
}

// scanCandidates enumerates every content record in the node and keeps
// those the residual predicate accepts, for queries with no FTS-expressible
// fragment at all.
func (n *NodeSearcher) scanCandidates(ctx context.Context, idx Index, residual ftsquery.Predicate, limit int) ([]Result, error) {
	const neutralScore = 1.0
	var out []Result
	skip := 0
	const page = 500
	for {
		recs, err := n.content.List(ctx, skip, page)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			if residual != nil && !residual(fieldsOf(rec)) {
				continue
			}
			out = append(out, Result{ContentID: rec.ID, NodeID: n.nodeID, IndexID: idx.ID, Score: neutralScore * float64(idx.Weight)})
			if len(out) >= limit {
				return out, nil
			}
		}
		skip += len(recs)
	}
	return out, nil
}

// searchVector embeds the full raw query text (vector search has no
// analogue of FTS5 column/boolean syntax) and keeps the hits that the
// extraction's residual predicate accepts. The residual is non-nil only for
// parts FTS5 cannot express (tags, user-defined keys), so those narrow
// vector hits; a fully FTS-expressible query leaves them unfiltered. For a
// root-level Not the residual is the child's predicate, so hits it accepts
// are dropped instead of kept.
func (n *NodeSearcher) searchVector(ctx context.Context, idx Index, rawQuery string, ex ftsquery.Extraction, limit int) ([]Result, error) {
	hits, err := idx.Vector.Search(ctx, rawQuery, n.maxResultsPerIndex)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		rec, err := n.content.Get(ctx, h.ContentID)
		if err != nil {
			if kberrors.KindOf(err) == kberrors.NotFound {
				continue
			}
			return nil, err
		}
		if ex.Residual != nil && ex.Residual(fieldsOf(rec)) == ex.NegateAll {
			continue
		}
		// cosine similarity is in [-1, 1]; rescale to [0, 1] so vector and
		// FTS scores share a normalized reranking range (§4.2).
		score01 := (h.Score + 1) / 2
		out = append(out, Result{ContentID: h.ContentID, NodeID: n.nodeID, IndexID: idx.ID, Score: score01 * float64(idx.Weight)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func fieldsOf(rec *contentstore.ContentRecord) ftsquery.Fields {
	tags := make([]string, len(rec.Tags))
	for i, t := range rec.Tags {
		tags[i] = t.String()
	}
	return ftsquery.Fields{Title: rec.Title, Description: rec.Description, Content: rec.Content, Tags: tags}
}

// parse dispatches to the infix or JSON parser per §4.9 step 1: JSON when
// the first non-space rune is '{', infix otherwise.
func parse(raw string) (*query.Node, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		return query.ParseJSON(raw)
	}
	return query.ParseInfix(raw)
}

// sortResults orders by score descending, then content_id ascending.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ContentID < results[j].ContentID
	})
}
