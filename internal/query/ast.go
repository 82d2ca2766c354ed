// Package query defines the shared query AST produced by the infix and
// JSON (Mongo-style) parsers, and the complexity guard both enforce. The
// two parsers are required to produce identical ASTs for semantically
// equivalent inputs; downstream components (the FTS extractor) operate on
// this AST alone and never know which surface syntax produced it.
package query

import (
	"fmt"
	"strings"
)

// Kind discriminates an AST node's shape.
type Kind int

const (
	KindText Kind = iota
	KindField
	KindAnd
	KindOr
	KindNot
	KindPhraseExact
	KindTextSearch
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "Text"
	case KindField:
		return "Field"
	case KindAnd:
		return "And"
	case KindOr:
		return "Or"
	case KindNot:
		return "Not"
	case KindPhraseExact:
		return "PhraseExact"
	case KindTextSearch:
		return "TextSearch"
	default:
		return "Unknown"
	}
}

// Node is one AST node. Which fields are meaningful depends on Kind:
//   - Text, PhraseExact, TextSearch: Value
//   - Field: FieldName, Child
//   - Not: Child
//   - And, Or: Children (len >= 2)
type Node struct {
	Kind      Kind
	Value     string
	FieldName string
	Child     *Node
	Children  []*Node
}

// Text builds a bare-term node.
func Text(v string) *Node { return &Node{Kind: KindText, Value: v} }

// PhraseExact builds a quoted-phrase node.
func PhraseExact(v string) *Node { return &Node{Kind: KindPhraseExact, Value: v} }

// TextSearch builds a Mongo-style `$text.$search` node.
func TextSearch(v string) *Node { return &Node{Kind: KindTextSearch, Value: v} }

// Field restricts child to a named field.
func Field(name string, child *Node) *Node { return &Node{Kind: KindField, FieldName: name, Child: child} }

// Not negates child.
func Not(child *Node) *Node { return &Node{Kind: KindNot, Child: child} }

// And requires every child to match. Panics if fewer than 2 children —
// callers are expected to collapse single-child conjunctions before
// calling this, per the grammar's own production rules.
func And(children ...*Node) *Node {
	if len(children) < 2 {
		panic("query: And requires at least 2 children")
	}
	return &Node{Kind: KindAnd, Children: children}
}

// Or requires any child to match.
func Or(children ...*Node) *Node {
	if len(children) < 2 {
		panic("query: Or requires at least 2 children")
	}
	return &Node{Kind: KindOr, Children: children}
}

// RecognizedFields are the built-in field names every parser accepts
// without needing a tag-key lookup. User-defined tag keys are additionally
// permissive per §4.9 ("tag keys are permissive").
var RecognizedFields = map[string]bool{
	"title":       true,
	"description": true,
	"content":     true,
	"tags":        true,
}

// String renders the AST for diagnostics and test assertions.
func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case KindText:
		return fmt.Sprintf("Text(%q)", n.Value)
	case KindPhraseExact:
		return fmt.Sprintf("Phrase(%q)", n.Value)
	case KindTextSearch:
		return fmt.Sprintf("TextSearch(%q)", n.Value)
	case KindField:
		return fmt.Sprintf("Field(%s, %s)", n.FieldName, n.Child)
	case KindNot:
		return fmt.Sprintf("Not(%s)", n.Child)
	case KindAnd:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = c.String()
		}
		return "And(" + strings.Join(parts, ", ") + ")"
	case KindOr:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = c.String()
		}
		return "Or(" + strings.Join(parts, ", ") + ")"
	default:
		return "?"
	}
}
