package query

import (
	"strings"

	"github.com/localkb/localkb/internal/kberrors"
)

// ParseInfix parses the CLI's default query syntax: case-insensitive
// AND/OR/NOT keywords (precedence NOT > AND > OR), parenthesized grouping,
// `field:value`/`field:"phrase"` field restriction, and implicit AND
// between adjacent terms. An empty or whitespace-only input returns a nil
// node and nil error — the caller treats that as "match nothing", not a
// syntax error.
func ParseInfix(input string) (*Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &infixParser{tokens: tokens, budget: newBudget()}
	node, err := p.parseOr(1)
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, kberrors.New(kberrors.QuerySyntaxError, "unexpected trailing input in query")
	}
	return node, nil
}

type infixParser struct {
	tokens []token
	pos    int
	budget *budget
}

func (p *infixParser) peek() token {
	return p.tokens[p.pos]
}

func (p *infixParser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *infixParser) parseOr(depth int) (*Node, error) {
	if err := p.budget.checkDepth(depth); err != nil {
		return nil, err
	}
	left, err := p.parseAnd(depth + 1)
	if err != nil {
		return nil, err
	}

	children := []*Node{left}
	for p.peek().kind == tokOr {
		p.advance()
		if err := p.budget.addBooleanOp(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd(depth + 1)
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return Or(children...), nil
}

func (p *infixParser) parseAnd(depth int) (*Node, error) {
	if err := p.budget.checkDepth(depth); err != nil {
		return nil, err
	}
	left, err := p.parseNot(depth + 1)
	if err != nil {
		return nil, err
	}

	children := []*Node{left}
	for {
		t := p.peek()
		switch t.kind {
		case tokAnd:
			p.advance()
		case tokTerm, tokLParen, tokNot:
			// implicit AND: fall through without consuming, parseNot will.
		default:
			return collapseAnd(children), nil
		}
		if err := p.budget.addBooleanOp(); err != nil {
			return nil, err
		}
		right, err := p.parseNot(depth + 1)
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
}

func collapseAnd(children []*Node) *Node {
	if len(children) == 1 {
		return children[0]
	}
	return And(children...)
}

func (p *infixParser) parseNot(depth int) (*Node, error) {
	if err := p.budget.checkDepth(depth); err != nil {
		return nil, err
	}
	if p.peek().kind == tokNot {
		p.advance()
		if err := p.budget.addBooleanOp(); err != nil {
			return nil, err
		}
		child, err := p.parseNot(depth + 1)
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	}
	return p.parsePrimary(depth)
}

func (p *infixParser) parsePrimary(depth int) (*Node, error) {
	if err := p.budget.checkDepth(depth); err != nil {
		return nil, err
	}

	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.advance()
		node, err := p.parseOr(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, kberrors.New(kberrors.QuerySyntaxError, "expected closing parenthesis")
		}
		p.advance()
		return node, nil

	case tokTerm:
		p.advance()
		if err := p.budget.checkValueLen(t.text); err != nil {
			return nil, err
		}
		var leaf *Node
		if t.phrase {
			leaf = PhraseExact(t.text)
		} else {
			leaf = Text(t.text)
		}
		if t.fieldName != "" {
			return Field(t.fieldName, leaf), nil
		}
		return leaf, nil

	default:
		return nil, kberrors.New(kberrors.QuerySyntaxError, "unexpected token in query")
	}
}
