// Package config loads and validates the engine's JSON configuration file:
// an ordered mapping of nodes, each declaring its content database and its
// ordered list of search indexes, plus a shared embeddings-cache section.
//
// Node order and index order are semantically significant (first node is
// the default node; first index is first in ingestion fan-out), so this
// package carries its own order-preserving NodeMap rather than a bare
// map[string]T — see DESIGN.md for why no ordered-map library from the
// example pack was usable here.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/localkb/localkb/internal/kberrors"
)

// Access levels advertised by a node. Advisory only: the core does not
// enforce authorization (see spec Non-goals).
const (
	AccessRead  = "read"
	AccessWrite = "write"
	AccessFull  = "full"
)

// IndexKind discriminates the two search index shapes.
type IndexKind string

const (
	KindFTS    IndexKind = "sqliteFTS"
	KindVector IndexKind = "sqliteVector"
)

// ContentIndexConfig describes the node's content database.
type ContentIndexConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// EmbeddingsRef names the embedding provider a vector index calls.
type EmbeddingsRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// SearchIndex is implemented by FTSIndexConfig and VectorIndexConfig.
type SearchIndex interface {
	IndexKind() IndexKind
	IndexID() string
	IndexPath() string
	IndexWeight() float32
	IndexRequired() bool
}

// FTSIndexConfig is a `{"type": "sqliteFTS", ...}` entry.
type FTSIndexConfig struct {
	Type           string  `json:"type"`
	ID             string  `json:"id"`
	Path           string  `json:"path"`
	Weight         float32 `json:"weight"`
	Required       bool    `json:"required,omitempty"`
	EnableStemming *bool   `json:"enableStemming,omitempty"`
}

func (c *FTSIndexConfig) IndexKind() IndexKind { return KindFTS }
func (c *FTSIndexConfig) IndexID() string      { return c.ID }
func (c *FTSIndexConfig) IndexPath() string    { return c.Path }
func (c *FTSIndexConfig) IndexWeight() float32 { return c.Weight }
func (c *FTSIndexConfig) IndexRequired() bool  { return c.Required }

// Stemming reports whether the Porter stemmer is enabled, defaulting to on
// per spec §4.2 ("Stemming is on by default").
func (c *FTSIndexConfig) Stemming() bool {
	return c.EnableStemming == nil || *c.EnableStemming
}

// VectorIndexConfig is a `{"type": "sqliteVector", ...}` entry.
type VectorIndexConfig struct {
	Type         string        `json:"type"`
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	Weight       float32       `json:"weight"`
	Required     bool          `json:"required,omitempty"`
	Dimensions   int           `json:"dimensions"`
	UseSqliteVec bool          `json:"useSqliteVec,omitempty"`
	Embeddings   EmbeddingsRef `json:"embeddings"`
}

func (c *VectorIndexConfig) IndexKind() IndexKind { return KindVector }
func (c *VectorIndexConfig) IndexID() string      { return c.ID }
func (c *VectorIndexConfig) IndexPath() string    { return c.Path }
func (c *VectorIndexConfig) IndexWeight() float32 { return c.Weight }
func (c *VectorIndexConfig) IndexRequired() bool  { return c.Required }

// IndexList is the node's ordered `searchIndexes` array. JSON arrays already
// preserve order; this type's job is the polymorphic per-element decode and
// a couple of order-aware lookup helpers.
type IndexList []SearchIndex

// ByID returns the first index with the given id, in declared order.
func (l IndexList) ByID(id string) (SearchIndex, bool) {
	for _, idx := range l {
		if idx.IndexID() == id {
			return idx, true
		}
	}
	return nil, false
}

func (l *IndexList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(IndexList, 0, len(raws))
	for _, raw := range raws {
		var disc struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &disc); err != nil {
			return err
		}

		switch IndexKind(disc.Type) {
		case KindFTS:
			var c FTSIndexConfig
			if err := decodeStrict(raw, &c); err != nil {
				return fmt.Errorf("searchIndexes: sqliteFTS entry: %w", err)
			}
			out = append(out, &c)
		case KindVector:
			var c VectorIndexConfig
			if err := decodeStrict(raw, &c); err != nil {
				return fmt.Errorf("searchIndexes: sqliteVector entry: %w", err)
			}
			out = append(out, &c)
		default:
			return kberrors.Newf(kberrors.InvalidConfiguration, "unknown search index type %q", disc.Type)
		}
	}
	*l = out
	return nil
}

// NodeConfig is one entry of the top-level `nodes` mapping.
type NodeConfig struct {
	ID            string             `json:"id"`
	Access        string             `json:"access"`
	ContentIndex  ContentIndexConfig `json:"contentIndex"`
	SearchIndexes IndexList          `json:"searchIndexes"`
}

// EmbeddingsCacheConfig is the top-level `embeddingsCache` section.
type EmbeddingsCacheConfig struct {
	Path       string `json:"path"`
	AllowRead  bool   `json:"allowRead"`
	AllowWrite bool   `json:"allowWrite"`
}

// NodeMap is the root `nodes` object: an insertion-order-preserving mapping
// from node id to NodeConfig, since "first node" is the default node.
type NodeMap struct {
	order []string
	byID  map[string]*NodeConfig
}

// Keys returns node ids in declaration order.
func (m *NodeMap) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Get looks up a node by id.
func (m *NodeMap) Get(id string) (*NodeConfig, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// First returns the default node: the first declared in the mapping.
func (m *NodeMap) First() (*NodeConfig, bool) {
	if len(m.order) == 0 {
		return nil, false
	}
	return m.byID[m.order[0]], true
}

// Len reports the number of nodes.
func (m *NodeMap) Len() int { return len(m.order) }

// All returns nodes in declaration order.
func (m *NodeMap) All() []*NodeConfig {
	out := make([]*NodeConfig, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func (m *NodeMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return kberrors.New(kberrors.InvalidConfiguration, "nodes must be a JSON object")
	}

	order := make([]string, 0)
	byID := make(map[string]*NodeConfig)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return kberrors.New(kberrors.InvalidConfiguration, "node key must be a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("node %q: %w", key, err)
		}
		var node NodeConfig
		if err := decodeStrict(raw, &node); err != nil {
			return fmt.Errorf("node %q: %w", key, err)
		}
		if node.ID == "" {
			node.ID = key
		} else if node.ID != key {
			return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: id field %q does not match its key", key, node.ID)
		}

		if _, dup := byID[key]; dup {
			return kberrors.Newf(kberrors.InvalidConfiguration, "duplicate node id %q", key)
		}
		order = append(order, key)
		byID[key] = &node
	}

	if _, err := dec.Token(); err != nil { // closing '}'
		return err
	}

	m.order = order
	m.byID = byID
	return nil
}

func (m NodeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.byID[key])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Config is the root configuration document.
type Config struct {
	Nodes           NodeMap               `json:"nodes"`
	EmbeddingsCache EmbeddingsCacheConfig `json:"embeddingsCache"`
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, fmt.Sprintf("config file not found: %s", path))
		}
		return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to read config file")
	}

	var cfg Config
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, kberrors.Wrap(kberrors.InvalidConfiguration, err, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as indented JSON, creating parent directories as
// needed (the CLI auto-recreates the config file on any write if missing).
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks shape invariants: at least one node, known access levels,
// positive weights, valid vector dimensions, and unique index ids per node.
func (c *Config) Validate() error {
	if c.Nodes.Len() == 0 {
		return kberrors.New(kberrors.InvalidConfiguration, "config must declare at least one node")
	}

	for _, node := range c.Nodes.All() {
		switch node.Access {
		case AccessRead, AccessWrite, AccessFull:
		default:
			return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: invalid access %q", node.ID, node.Access)
		}
		if node.ContentIndex.Path == "" {
			return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: contentIndex.path is required", node.ID)
		}

		seen := make(map[string]bool, len(node.SearchIndexes))
		for _, idx := range node.SearchIndexes {
			if idx.IndexID() == "" {
				return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: search index missing id", node.ID)
			}
			if seen[idx.IndexID()] {
				return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: duplicate search index id %q", node.ID, idx.IndexID())
			}
			seen[idx.IndexID()] = true

			if idx.IndexWeight() <= 0 {
				return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: index %q: weight must be positive", node.ID, idx.IndexID())
			}
			if v, ok := idx.(*VectorIndexConfig); ok && v.Dimensions <= 0 {
				return kberrors.Newf(kberrors.InvalidConfiguration, "node %q: index %q: dimensions must be positive", node.ID, idx.IndexID())
			}
		}
	}
	return nil
}

// decodeStrict unmarshals data into v, rejecting unknown fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
