package query

import (
	"strings"
	"unicode"

	"github.com/localkb/localkb/internal/kberrors"
)

type tokenType int

const (
	tokLParen tokenType = iota
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTerm
	tokEOF
)

// token is one lexical unit of the infix syntax. For tokTerm, fieldName is
// non-empty when the input used `field:value` or `field:"phrase"` shape.
type token struct {
	kind      tokenType
	fieldName string
	phrase    bool
	text      string
}

func isBoundary(r rune) bool {
	return unicode.IsSpace(r) || r == '(' || r == ')'
}

// lex tokenizes an infix query string.
func lex(input string) ([]token, error) {
	runes := []rune(input)
	var tokens []token
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]
		if unicode.IsSpace(r) {
			i++
			continue
		}
		if r == '(' {
			tokens = append(tokens, token{kind: tokLParen})
			i++
			continue
		}
		if r == ')' {
			tokens = append(tokens, token{kind: tokRParen})
			i++
			continue
		}

		if r == '\'' || r == '"' {
			text, next, err := readQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			i = next
			tokens = append(tokens, token{kind: tokTerm, phrase: true, text: text})
			continue
		}

		// Scan a bare run (candidate field name or whole word), stopping at
		// whitespace, parens, or an unescaped colon.
		start := i
		for i < n && !isBoundary(runes[i]) && runes[i] != ':' {
			i++
		}
		word := string(runes[start:i])

		if i < n && runes[i] == ':' && word != "" {
			// field:value or field:"phrase"
			i++ // consume ':'
			if i < n && (runes[i] == '\'' || runes[i] == '"') {
				text, next, err := readQuoted(runes, i)
				if err != nil {
					return nil, err
				}
				i = next
				tokens = append(tokens, token{kind: tokTerm, fieldName: word, phrase: true, text: text})
				continue
			}
			valStart := i
			for i < n && !isBoundary(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokTerm, fieldName: word, text: string(runes[valStart:i])})
			continue
		}

		switch strings.ToUpper(word) {
		case "AND":
			tokens = append(tokens, token{kind: tokAnd})
		case "OR":
			tokens = append(tokens, token{kind: tokOr})
		case "NOT":
			tokens = append(tokens, token{kind: tokNot})
		default:
			tokens = append(tokens, token{kind: tokTerm, text: word})
		}
	}

	tokens = append(tokens, token{kind: tokEOF})
	return tokens, nil
}

func readQuoted(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, kberrors.New(kberrors.QuerySyntaxError, "unterminated quoted phrase")
}
