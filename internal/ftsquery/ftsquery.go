// Package ftsquery lowers a query AST (internal/query) into an FTS5 MATCH
// string plus a residual predicate, per §4.6. extract walks the AST and,
// for every sub-tree, reports whether the FTS5 fragment it produced fully
// captures that sub-tree's semantics. Where it does (a bare term, a
// title/description/content field, a conjunction or disjunction of such
// terms), the FTS5 match — including its Porter stemming — is trusted
// outright and no residual check runs, since a non-stemmed residual would
// only reject surface-form mismatches FTS5 already resolved correctly
// (see DESIGN.md). Where it does not (tags, user-defined field keys, a
// negation FTS5 can't fold into the query, an Or with an inexpressible
// branch), the residual predicate re-checks exactly that sub-tree against
// a hydrated candidate, and nothing more.
package ftsquery

import (
	"strings"

	"github.com/localkb/localkb/internal/query"
)

// Fields is the subset of a ContentRecord the residual predicate needs.
// Tags are rendered as "key:value" strings.
type Fields struct {
	Title       string
	Description string
	Content     string
	Tags        []string
}

// Predicate evaluates a candidate's fields against a query.
type Predicate func(Fields) bool

// Extraction is the lowered form of one parsed query.
type Extraction struct {
	// FTSQuery is the FTS5 MATCH string to run, or "" if no part of the
	// query could be expressed in FTS5 (the caller must then enumerate
	// candidates some other way, e.g. a full node listing).
	FTSQuery string
	// NegateAll is true for a root-level bare Not: the result set is every
	// row in the node's content store minus FTSQuery's matches.
	NegateAll bool
	// Residual re-checks whatever part of the AST FTSQuery could not fully
	// express. Nil means FTSQuery alone is a complete, exact filter and no
	// further check is needed.
	Residual Predicate
}

// Extract lowers node. A nil node (empty query) yields a zero Extraction.
func Extract(node *query.Node) Extraction {
	if node == nil {
		return Extraction{}
	}

	if node.Kind == query.KindNot {
		childFTS, childComplete, _ := extract(node.Child)
		var residual Predicate
		if !childComplete {
			child := node.Child
			residual = func(f Fields) bool { return evalNode(child, f) }
		}
		return Extraction{FTSQuery: childFTS, NegateAll: true, Residual: residual}
	}

	fragment, complete, residual := extract(node)
	if complete {
		residual = nil
	}
	return Extraction{FTSQuery: fragment, Residual: residual}
}

// extract returns an FTS5 fragment for node, whether that fragment alone
// is a complete, exact equivalent of node's semantics (true), and — when
// it is not — a residual predicate that re-checks node directly. The
// residual is nil whenever complete is true: callers must not attach it.
func extract(node *query.Node) (fragment string, complete bool, residual Predicate) {
	switch node.Kind {
	case query.KindText:
		return quoteTerm(node.Value), true, nil

	case query.KindPhraseExact:
		return quotePhrase(node.Value), true, nil

	case query.KindTextSearch:
		return quoteTerm(node.Value), true, nil

	case query.KindField:
		switch node.FieldName {
		case "title", "description", "content":
			childFrag, childComplete, _ := extract(node.Child)
			if !childComplete || childFrag == "" {
				return "", false, residualOf(node)
			}
			return node.FieldName + ":" + childFrag, true, nil
		default:
			// tags and unrecognized/user-defined field names: not indexed
			// in FTS, handled entirely by the residual.
			return "", false, residualOf(node)
		}

	case query.KindAnd:
		return extractAnd(node)

	case query.KindOr:
		return extractOr(node)

	case query.KindNot:
		// A bare NOT nested below the root, outside And's special-casing
		// below, cannot be expressed as a single positive FTS fragment.
		return "", false, residualOf(node)

	default:
		return "", false, residualOf(node)
	}
}

// extractAnd builds "pos1 AND pos2 ... NOT neg1 NOT neg2" per §4.6: direct
// Not children fold into FTS5's NOT operator instead of an invalid
// "AND NOT" sequence. A child extract can't fully express contributes its
// own residual instead of a fragment.
func extractAnd(node *query.Node) (string, bool, Predicate) {
	var positives, negatives []string
	var residuals []Predicate
	allComplete := true

	for _, child := range node.Children {
		if child.Kind == query.KindNot {
			subFrag, subComplete, _ := extract(child.Child)
			if subComplete && subFrag != "" {
				negatives = append(negatives, subFrag)
				continue
			}
			allComplete = false
			residuals = append(residuals, residualOf(child))
			continue
		}

		frag, complete, res := extract(child)
		if frag != "" {
			positives = append(positives, frag)
		}
		if !complete {
			allComplete = false
			if res == nil {
				res = residualOf(child)
			}
			residuals = append(residuals, res)
		}
	}

	fragment := strings.Join(positives, " AND ")
	for _, neg := range negatives {
		if fragment == "" {
			fragment = "NOT " + neg
		} else {
			fragment += " NOT " + neg
		}
	}
	return fragment, allComplete, combineResiduals(residuals)
}

// extractOr requires every branch to be fully FTS5-expressible: a single
// inexpressible branch means FTS alone could miss a matching document, so
// the whole subtree falls back to the residual rather than narrow via FTS
// with a gap.
func extractOr(node *query.Node) (string, bool, Predicate) {
	var fragments []string
	for _, child := range node.Children {
		frag, complete, _ := extract(child)
		if !complete || frag == "" {
			return "", false, residualOf(node)
		}
		fragments = append(fragments, frag)
	}
	return "(" + strings.Join(fragments, " OR ") + ")", true, nil
}

// residualOf returns a Predicate that re-evaluates node's full, exact
// semantics against a candidate's fields.
func residualOf(node *query.Node) Predicate {
	return func(f Fields) bool {
		return evalNode(node, f)
	}
}

// combineResiduals ANDs every residual together, since each one covers a
// distinct, already-identified inexpressible sub-tree of the same parent.
func combineResiduals(residuals []Predicate) Predicate {
	switch len(residuals) {
	case 0:
		return nil
	case 1:
		return residuals[0]
	default:
		return func(f Fields) bool {
			for _, r := range residuals {
				if !r(f) {
					return false
				}
			}
			return true
		}
	}
}

func quoteTerm(term string) string {
	if strings.ContainsAny(term, " \t\n") {
		return quotePhrase(term)
	}
	return term
}

func quotePhrase(phrase string) string {
	escaped := strings.ReplaceAll(phrase, `"`, `""`)
	return `"` + escaped + `"`
}

func evalNode(node *query.Node, f Fields) bool {
	if node == nil {
		return true
	}
	switch node.Kind {
	case query.KindText, query.KindTextSearch:
		return containsWord(f.Content, node.Value)
	case query.KindPhraseExact:
		return containsPhrase(f.Content, node.Value)
	case query.KindField:
		return evalField(node, f)
	case query.KindAnd:
		for _, c := range node.Children {
			if !evalNode(c, f) {
				return false
			}
		}
		return true
	case query.KindOr:
		for _, c := range node.Children {
			if evalNode(c, f) {
				return true
			}
		}
		return false
	case query.KindNot:
		return !evalNode(node.Child, f)
	default:
		return false
	}
}

func evalField(node *query.Node, f Fields) bool {
	switch node.FieldName {
	case "title":
		return evalLeafAgainstText(node.Child, f.Title)
	case "description":
		return evalLeafAgainstText(node.Child, f.Description)
	case "content":
		return evalLeafAgainstText(node.Child, f.Content)
	case "tags":
		return matchAnyTag(f.Tags, leafValue(node.Child))
	default:
		return matchTagKey(f.Tags, node.FieldName, leafValue(node.Child))
	}
}

func leafValue(n *query.Node) string {
	if n == nil {
		return ""
	}
	return n.Value
}

func evalLeafAgainstText(leaf *query.Node, text string) bool {
	if leaf == nil {
		return false
	}
	if leaf.Kind == query.KindPhraseExact {
		return containsPhrase(text, leaf.Value)
	}
	return containsWord(text, leaf.Value)
}

func containsWord(haystack, term string) bool {
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(term))
}

func containsPhrase(haystack, phrase string) bool {
	return containsWord(haystack, phrase)
}

// matchAnyTag reports whether any "key:value" tag contains value as a
// case-insensitive substring of the whole tag string, colon included.
func matchAnyTag(tags []string, value string) bool {
	needle := strings.ToLower(value)
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// matchTagKey reports whether any tag "k:v" has k matching key
// (case-insensitive) and v containing value as a substring.
func matchTagKey(tags []string, key, value string) bool {
	key = strings.ToLower(key)
	needle := strings.ToLower(value)
	for _, t := range tags {
		k, v, ok := strings.Cut(t, ":")
		if !ok {
			continue
		}
		if strings.ToLower(k) == key && strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
