package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/query"
)

// DefaultLimit, DefaultMinRelevance mirror the SearchRequest defaults (§4.10).
const (
	DefaultLimit        = 20
	DefaultMinRelevance = 0.3
)

// DefaultSearchTimeout is a 30-second bound for one multi-node search call.
// Search applies no timeout of its own and nothing in this module applies
// this constant; a call is bounded only by the caller's context.
const DefaultSearchTimeout = 30 * time.Second

// SearchRequest is the multi-node search input.
type SearchRequest struct {
	Query        string
	Limit        int     // 0 → DefaultLimit
	Offset       int
	MinRelevance float64 // 0 → DefaultMinRelevance
	Nodes        []string // nil or ["*"] → every node
	ExcludeNodes []string
}

// HydratedResult is one final, ranked, content-hydrated hit.
type HydratedResult struct {
	ContentID string
	NodeID    string
	IndexID   string
	Score     float64
	Snippet   string
	Title     string
	Content   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata reports how a multi-node search was actually dispatched.
type Metadata struct {
	NodesSearched []string
	NodesSkipped  []string
}

// SearchResponse is the multi-node search output (§4.10).
type SearchResponse struct {
	Results      []HydratedResult
	TotalResults int
	Metadata     Metadata
}

// NodeHandle binds one configured node's search service and content store
// for the multi-node aggregator.
type NodeHandle struct {
	ID      string
	Weight  float32 // default 1.0, applied at aggregation
	Search  *NodeSearcher
	Content ContentLoader
}

// MultiNodeSearcher dispatches a query to every target node in parallel,
// reranks by node weight, and hydrates the page of results (§4.10).
type MultiNodeSearcher struct {
	nodes  []NodeHandle
	byID   map[string]NodeHandle
	logger *slog.Logger
}

// NewMultiNodeSearcher builds a searcher over nodes, in configuration
// order. Order fixes only the order in which nodes are iterated; result
// ranking never depends on it.
func NewMultiNodeSearcher(nodes []NodeHandle, logger *slog.Logger) (*MultiNodeSearcher, error) {
	if len(nodes) == 0 {
		return nil, kberrors.New(kberrors.InvalidConfiguration, "multi-node searcher requires at least one node")
	}
	if logger == nil {
		logger = slog.Default()
	}
	byID := make(map[string]NodeHandle, len(nodes))
	for _, n := range nodes {
		if n.ID == "" || n.Search == nil || n.Content == nil {
			return nil, kberrors.New(kberrors.InvalidConfiguration, "every node handle requires an id, a search service, and a content loader")
		}
		byID[n.ID] = n
	}
	return &MultiNodeSearcher{nodes: nodes, byID: byID, logger: logger}, nil
}

// skippableOnError reports whether a per-node search failure should be
// swallowed (logged, counted) rather than propagated, per §4.10 step 2.
func skippableOnError(err error) bool {
	switch kberrors.KindOf(err) {
	case kberrors.IndexNotFound, kberrors.NodeNotFound, kberrors.IndexUnavailable:
		return true
	default:
		return false
	}
}

// Search runs req against its resolved target nodes concurrently, merges,
// reranks, filters, paginates and hydrates the result (§4.10).
func (m *MultiNodeSearcher) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minRelevance := req.MinRelevance
	if minRelevance <= 0 {
		minRelevance = DefaultMinRelevance
	}

	targets := m.resolveTargets(req.Nodes, req.ExcludeNodes)
	if len(targets) == 0 {
		return SearchResponse{}, nil
	}

	perNode := make([][]Result, len(targets))
	skipped := make([]string, 0)
	searched := make([]string, 0, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, handle := range targets {
		i, handle := i, handle
		g.Go(func() error {
			hits, err := handle.Search.Search(gctx, req.Query, 0)
			if err != nil {
				if skippableOnError(err) {
					m.logger.Warn("skipping node search failure",
						slog.String("node_id", handle.ID), slog.String("error", err.Error()))
					mu.Lock()
					skipped = append(skipped, handle.ID)
					mu.Unlock()
					return nil
				}
				return err
			}
			perNode[i] = hits
			mu.Lock()
			searched = append(searched, handle.ID)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SearchResponse{}, err
	}

	var all []Result
	for i, handle := range targets {
		for _, r := range perNode[i] {
			r.Score *= float64(handle.Weight)
			all = append(all, r)
		}
	}

	filtered := all[:0]
	for _, r := range all {
		if r.Score >= minRelevance {
			filtered = append(filtered, r)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if filtered[i].NodeID != filtered[j].NodeID {
			return filtered[i].NodeID < filtered[j].NodeID
		}
		return filtered[i].ContentID < filtered[j].ContentID
	})

	total := len(filtered)

	page := filtered
	if req.Offset > 0 {
		if req.Offset >= len(page) {
			page = nil
		} else {
			page = page[req.Offset:]
		}
	}
	if len(page) > limit {
		page = page[:limit]
	}

	hydrated, err := m.hydrate(ctx, page)
	if err != nil {
		return SearchResponse{}, err
	}

	sort.Strings(searched)
	sort.Strings(skipped)
	return SearchResponse{
		Results:      hydrated,
		TotalResults: total,
		Metadata:     Metadata{NodesSearched: searched, NodesSkipped: skipped},
	}, nil
}

func (m *MultiNodeSearcher) hydrate(ctx context.Context, page []Result) ([]HydratedResult, error) {
	out := make([]HydratedResult, 0, len(page))
	for _, r := range page {
		handle, ok := m.byID[r.NodeID]
		if !ok {
			continue
		}
		rec, err := handle.Content.Get(ctx, r.ContentID)
		if err != nil {
			if kberrors.KindOf(err) == kberrors.NotFound {
				continue
			}
			return nil, err
		}
		tags := make([]string, len(rec.Tags))
		for i, t := range rec.Tags {
			tags[i] = t.String()
		}
		out = append(out, HydratedResult{
			ContentID: r.ContentID, NodeID: r.NodeID, IndexID: r.IndexID, Score: r.Score, Snippet: r.Snippet,
			Title: rec.Title, Content: rec.Content, Tags: tags, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

// resolveTargets implements §4.10 step 1: start from every node, intersect
// with the requested set (nil or ["*"] meaning "all"), then drop excludes.
func (m *MultiNodeSearcher) resolveTargets(nodes, exclude []string) []NodeHandle {
	wantAll := len(nodes) == 0
	want := make(map[string]bool, len(nodes))
	for _, id := range nodes {
		if id == "*" {
			wantAll = true
			continue
		}
		want[id] = true
	}
	excl := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excl[id] = true
	}

	var out []NodeHandle
	for _, n := range m.nodes {
		if !wantAll && !want[n.ID] {
			continue
		}
		if excl[n.ID] {
			continue
		}
		out = append(out, n)
	}
	return out
}

// ValidationResult is validate_query's response shape (§4.9).
type ValidationResult struct {
	IsValid         bool
	ErrorMessage    string
	AvailableFields []string
}

// ValidateQuery parses raw without executing it, per the validate_query
// endpoint. AvailableFields lists the built-in recognized field names; tag
// keys are permissive and cannot be enumerated without a content scan.
func ValidateQuery(raw string) ValidationResult {
	fields := make([]string, 0, len(query.RecognizedFields))
	for f := range query.RecognizedFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ValidationResult{IsValid: true, AvailableFields: fields}
	}

	_, err := parse(raw)
	if err != nil {
		return ValidationResult{IsValid: false, ErrorMessage: err.Error(), AvailableFields: fields}
	}
	return ValidationResult{IsValid: true, AvailableFields: fields}
}
