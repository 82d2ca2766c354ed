// Package engine assembles the node graph described by a config.Config into
// live, queryable components: a contentstore.Store and a pipeline.Registry
// per node, an embeddings cache shared across every vector index in the
// process, and the search.MultiNodeSearcher that fans a query out across all
// of them. This is the one place that wires config into runtime objects; the
// CLI layer only ever talks to an *Engine.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/localkb/localkb/internal/config"
	"github.com/localkb/localkb/internal/contentstore"
	"github.com/localkb/localkb/internal/embedcache"
	"github.com/localkb/localkb/internal/embedgen"
	"github.com/localkb/localkb/internal/ftsindex"
	"github.com/localkb/localkb/internal/kberrors"
	"github.com/localkb/localkb/internal/pipeline"
	"github.com/localkb/localkb/internal/search"
	"github.com/localkb/localkb/internal/vectorindex"
)

// Node is one assembled node: its content store, its index descriptors for
// planning content-store operations, and its search handle.
type Node struct {
	ID          string
	Access      string
	Content     *contentstore.Store
	Registry    *pipeline.Registry
	Descriptors []contentstore.IndexDescriptor
	Searcher    *search.NodeSearcher

	ftsIndexes    []*ftsindex.Index
	vectorIndexes []*vectorindex.Index
}

// closeAll closes the node's content store and every search index,
// collecting but not stopping on individual errors.
func (n *Node) closeAll() error {
	var firstErr error
	noteErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, idx := range n.ftsIndexes {
		noteErr(idx.Close())
	}
	for _, idx := range n.vectorIndexes {
		noteErr(idx.Close())
	}
	noteErr(n.Content.Close())
	return firstErr
}

// Engine is every assembled node plus the cross-node search entry point.
type Engine struct {
	nodes   map[string]*Node
	order   []string
	cache   *embedcache.Cache
	multi   *search.MultiNodeSearcher
	logger  *slog.Logger
}

// Open builds every node declared in cfg and wires them into a
// MultiNodeSearcher. Each backing file (content db, fts index, vector
// index) is opened eagerly; Open fails fast if any required component
// cannot be opened.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := embedcache.New(cacheMode(cfg.EmbeddingsCache), embedcache.DefaultSize)
	if err != nil {
		return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to build embeddings cache")
	}

	e := &Engine{nodes: make(map[string]*Node), cache: cache, logger: logger}

	var handles []search.NodeHandle
	for _, nc := range cfg.Nodes.All() {
		node, err := buildNode(nc, cache, logger)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("node %q: %w", nc.ID, err)
		}
		e.nodes[nc.ID] = node
		e.order = append(e.order, nc.ID)
		handles = append(handles, search.NodeHandle{
			ID:      node.ID,
			Weight:  1.0,
			Search:  node.Searcher,
			Content: node.Content,
		})
	}

	multi, err := search.NewMultiNodeSearcher(handles, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.multi = multi
	return e, nil
}

func cacheMode(c config.EmbeddingsCacheConfig) embedcache.Mode {
	switch {
	case c.AllowRead && c.AllowWrite:
		return embedcache.ReadWrite
	case c.AllowRead:
		return embedcache.ReadOnly
	case c.AllowWrite:
		return embedcache.WriteOnly
	default:
		return embedcache.Off
	}
}

func buildNode(nc *config.NodeConfig, cache *embedcache.Cache, logger *slog.Logger) (*Node, error) {
	store, err := contentstore.Open(nc.ContentIndex.Path)
	if err != nil {
		return nil, err
	}

	registry := pipeline.NewRegistry()
	var descriptors []contentstore.IndexDescriptor
	var searchIndexes []search.Index
	var ftsIndexes []*ftsindex.Index
	var vectorIndexes []*vectorindex.Index

	for _, idxCfg := range nc.SearchIndexes {
		descriptors = append(descriptors, contentstore.IndexDescriptor{ID: idxCfg.IndexID(), Required: idxCfg.IndexRequired()})

		switch c := idxCfg.(type) {
		case *config.FTSIndexConfig:
			idx, err := ftsindex.Open(c.Path, c.Stemming())
			if err != nil {
				return nil, err
			}
			ftsIndexes = append(ftsIndexes, idx)
			registerFTSSteps(registry, c.ID, idx)
			searchIndexes = append(searchIndexes, search.Index{ID: c.ID, Kind: search.KindFTS, Weight: c.Weight, FTS: idx})

		case *config.VectorIndexConfig:
			idx, err := buildVectorIndex(c, cache, logger)
			if err != nil {
				return nil, err
			}
			vectorIndexes = append(vectorIndexes, idx)
			registerVectorSteps(registry, c.ID, idx)
			searchIndexes = append(searchIndexes, search.Index{ID: c.ID, Kind: search.KindVector, Weight: c.Weight, Vector: idx})

		default:
			return nil, kberrors.Newf(kberrors.InvalidConfiguration, "index %q: unrecognized config type", idxCfg.IndexID())
		}
	}

	searcher, err := search.NewNodeSearcher(search.NodeSearcherConfig{
		NodeID:  nc.ID,
		Indexes: searchIndexes,
		Content: store,
	})
	if err != nil {
		return nil, err
	}

	return &Node{
		ID: nc.ID, Access: nc.Access, Content: store, Registry: registry,
		Descriptors: descriptors, Searcher: searcher,
		ftsIndexes: ftsIndexes, vectorIndexes: vectorIndexes,
	}, nil
}

func buildVectorIndex(c *config.VectorIndexConfig, cache *embedcache.Cache, logger *slog.Logger) (*vectorindex.Index, error) {
	generator := embedgen.NewOllamaGenerator(embedgen.OllamaConfig{
		Host:       c.Embeddings.BaseURL,
		Model:      c.Embeddings.Model,
		Dimensions: c.Dimensions,
	})
	return vectorindex.Open(vectorindex.Config{
		Path: c.Path, Dimensions: c.Dimensions, Generator: generator, Cache: cache,
		Provider: c.Embeddings.Provider, Model: c.Embeddings.Model, UseSqliteVec: c.UseSqliteVec, Logger: logger,
	})
}

func registerFTSSteps(registry *pipeline.Registry, id string, idx *ftsindex.Index) {
	registry.Register("index:"+id, func(ctx context.Context, contentID string, fields pipeline.Fields) error {
		return idx.Index(ctx, contentID, fields.Title, fields.Description, fields.Content)
	})
	registry.Register("index:"+id+":delete", func(ctx context.Context, contentID string, _ pipeline.Fields) error {
		return idx.Remove(ctx, contentID)
	})
}

func registerVectorSteps(registry *pipeline.Registry, id string, idx *vectorindex.Index) {
	registry.Register("index:"+id, func(ctx context.Context, contentID string, fields pipeline.Fields) error {
		return idx.Index(ctx, contentID, fields.Content)
	})
	registry.Register("index:"+id+":delete", func(ctx context.Context, contentID string, _ pipeline.Fields) error {
		return idx.Remove(ctx, contentID)
	})
}

// Node looks up an assembled node by id.
func (e *Engine) Node(id string) (*Node, bool) {
	n, ok := e.nodes[id]
	return n, ok
}

// DefaultNode returns the first declared node.
func (e *Engine) DefaultNode() (*Node, bool) {
	if len(e.order) == 0 {
		return nil, false
	}
	return e.nodes[e.order[0]], true
}

// NodeIDs returns every node id in declaration order.
func (e *Engine) NodeIDs() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// requireWritable returns NodeAccessDenied if the node's advisory access
// level is read-only. This is a usability guard, not a security boundary:
// per spec.md's Non-goals, node access is advisory metadata the engine
// does not enforce as authorization.
func requireWritable(n *Node) error {
	if n.Access == config.AccessRead {
		return kberrors.Newf(kberrors.NodeAccessDenied, "node %q is declared read-only", n.ID)
	}
	return nil
}

// Put upserts content into nodeID.
func (e *Engine) Put(ctx context.Context, nodeID string, req contentstore.UpsertRequest) (*contentstore.UpsertResult, error) {
	n, ok := e.Node(nodeID)
	if !ok {
		return nil, kberrors.Newf(kberrors.NodeNotFound, "node %q not found", nodeID)
	}
	if err := requireWritable(n); err != nil {
		return nil, err
	}
	return n.Content.Upsert(ctx, req, n.Descriptors, n.Registry)
}

// Delete removes content from nodeID.
func (e *Engine) Delete(ctx context.Context, nodeID, contentID string) (*contentstore.UpsertResult, error) {
	n, ok := e.Node(nodeID)
	if !ok {
		return nil, kberrors.Newf(kberrors.NodeNotFound, "node %q not found", nodeID)
	}
	if err := requireWritable(n); err != nil {
		return nil, err
	}
	return n.Content.Delete(ctx, contentID, n.Descriptors, n.Registry)
}

// Get reads a content record back from nodeID.
func (e *Engine) Get(ctx context.Context, nodeID, contentID string) (*contentstore.ContentRecord, error) {
	n, ok := e.Node(nodeID)
	if !ok {
		return nil, kberrors.Newf(kberrors.NodeNotFound, "node %q not found", nodeID)
	}
	return n.Content.Get(ctx, contentID)
}

// List pages through nodeID's content records.
func (e *Engine) List(ctx context.Context, nodeID string, skip, take int) ([]*contentstore.ContentRecord, error) {
	n, ok := e.Node(nodeID)
	if !ok {
		return nil, kberrors.Newf(kberrors.NodeNotFound, "node %q not found", nodeID)
	}
	return n.Content.List(ctx, skip, take)
}

// SearchNode runs a single-node search.
func (e *Engine) SearchNode(ctx context.Context, nodeID, query string, limit int) ([]search.Result, error) {
	n, ok := e.Node(nodeID)
	if !ok {
		return nil, kberrors.Newf(kberrors.NodeNotFound, "node %q not found", nodeID)
	}
	return n.Searcher.Search(ctx, query, limit)
}

// Search runs a cross-node search per req.
func (e *Engine) Search(ctx context.Context, req search.SearchRequest) (search.SearchResponse, error) {
	return e.multi.Search(ctx, req)
}

// ValidateQuery parses raw without executing it.
func (e *Engine) ValidateQuery(raw string) search.ValidationResult {
	return search.ValidateQuery(raw)
}

// Close releases every backing file. Errors from individual nodes are
// collected but do not prevent the remaining nodes from closing.
func (e *Engine) Close() error {
	var firstErr error
	for _, id := range e.order {
		n := e.nodes[id]
		if n == nil {
			continue
		}
		if err := n.closeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
