package query

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/localkb/localkb/internal/kberrors"
)

// ParseJSON parses the Mongo-style JSON query syntax (§4.5). An empty or
// whitespace-only input returns a nil node and nil error, matching
// ParseInfix's handling of an empty query.
func ParseJSON(input string) (*Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, kberrors.Wrap(kberrors.QuerySyntaxError, err, "invalid JSON query")
	}

	b := newBudget()
	return parseDoc(raw, b, 1)
}

func parseDoc(raw json.RawMessage, b *budget, depth int) (*Node, error) {
	if err := b.checkDepth(depth); err != nil {
		return nil, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, kberrors.Wrap(kberrors.QuerySyntaxError, err, "query document must be a JSON object")
	}
	if len(obj) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic: map iteration order is not

	children := make([]*Node, 0, len(keys))
	for _, key := range keys {
		node, err := parseKey(key, obj[key], b, depth)
		if err != nil {
			return nil, err
		}
		if node != nil {
			children = append(children, node)
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		if err := b.addBooleanOp(); err != nil {
			return nil, err
		}
		return And(children...), nil
	}
}

func parseKey(key string, raw json.RawMessage, b *budget, depth int) (*Node, error) {
	switch key {
	case "$and":
		return parseArrayOp(raw, b, depth, boolAnd)
	case "$or":
		return parseArrayOp(raw, b, depth, boolOr)
	case "$nor":
		return parseNor(raw, b, depth)
	case "$not":
		if err := b.addBooleanOp(); err != nil {
			return nil, err
		}
		child, err := parseDoc(raw, b, depth+1)
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	case "$text":
		return parseText(raw)
	default:
		if strings.HasPrefix(key, "$") {
			return nil, kberrors.Newf(kberrors.QuerySyntaxError, "unknown query operator %q", key)
		}
		return parseFieldValue(key, raw, b)
	}
}

type boolOp int

const (
	boolAnd boolOp = iota
	boolOr
)

func parseArrayOp(raw json.RawMessage, b *budget, depth int, op boolOp) (*Node, error) {
	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, kberrors.New(kberrors.QuerySyntaxError, "$and/$or expects a JSON array")
	}
	if err := b.addBooleanOp(); err != nil {
		return nil, err
	}

	children := make([]*Node, 0, len(docs))
	for _, d := range docs {
		node, err := parseDoc(d, b, depth+1)
		if err != nil {
			return nil, err
		}
		if node != nil {
			children = append(children, node)
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return children[0], nil
	default:
		if op == boolAnd {
			return And(children...), nil
		}
		return Or(children...), nil
	}
}

func parseNor(raw json.RawMessage, b *budget, depth int) (*Node, error) {
	var docs []json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, kberrors.New(kberrors.QuerySyntaxError, "$nor expects a JSON array")
	}
	if err := b.addBooleanOp(); err != nil {
		return nil, err
	}

	children := make([]*Node, 0, len(docs))
	for _, d := range docs {
		node, err := parseDoc(d, b, depth+1)
		if err != nil {
			return nil, err
		}
		if node != nil {
			children = append(children, node)
		}
	}

	switch len(children) {
	case 0:
		return nil, nil
	case 1:
		return Not(children[0]), nil
	default:
		return Not(Or(children...)), nil
	}
}

func parseText(raw json.RawMessage) (*Node, error) {
	var body struct {
		Search *string `json:"$search"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil || body.Search == nil {
		return nil, kberrors.New(kberrors.QuerySyntaxError, `$text expects {"$search": "..."}`)
	}
	return TextSearch(*body.Search), nil
}

// defaultField is the field bare terms implicitly target — both parsers
// must agree on this so `{"content": "a"}` and the bare infix term `a`
// produce the identical AST shape (§4.5 equivalence law).
const defaultField = "content"

func parseFieldValue(field string, raw json.RawMessage, b *budget) (*Node, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, kberrors.Newf(kberrors.QuerySyntaxError, "field %q must be a string value", field)
	}
	if err := b.checkValueLen(value); err != nil {
		return nil, err
	}
	if field == defaultField {
		return Text(value), nil
	}
	return Field(field, Text(value)), nil
}
