package fexpr

import (
	"fmt"
)

type tokenKind int

const (
	tokenName tokenKind = iota
	tokenString
	tokenOp
	tokenAnd
	tokenOr
)

type token struct {
	kind  tokenKind
	value string
}

func isNameChar(ch byte) bool {
	return ch == '_' || ch == '.' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func isNameStart(ch byte) bool {
	return ch != '.' && isNameChar(ch)
}

// tokenize splits an expression into NAME / STRING / OP / AND / OR tokens.
// Whitespace is skipped; the two-character operators are matched before
// identifiers; an unterminated string literal is a parse error.
func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case ch == '=' && i+1 < len(expr) && expr[i+1] == '=':
			tokens = append(tokens, token{tokenOp, OpEq})
			i += 2

		case ch == '!' && i+1 < len(expr) && expr[i+1] == '=':
			tokens = append(tokens, token{tokenOp, OpNe})
			i += 2

		case ch == '\'':
			j := i + 1
			for j < len(expr) && expr[j] != '\'' {
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{tokenString, expr[i+1 : j]})
			i = j + 1

		case isNameStart(ch):
			j := i + 1
			for j < len(expr) && isNameChar(expr[j]) {
				j++
			}
			switch value := expr[i:j]; value {
			case "and":
				tokens = append(tokens, token{tokenAnd, value})
			case "or":
				tokens = append(tokens, token{tokenOr, value})
			default:
				tokens = append(tokens, token{tokenName, value})
			}
			i = j

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

// Parse compiles an expression. An empty expression and trailing tokens are
// both errors; callers keep a nil Expr for rules that fail to parse.
func Parse(expr string) (Expr, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}

	p := &parser{tokens: tokens}
	ast, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected tokens at end of expression")
	}
	return ast, nil
}

func (p *parser) parseCmp() (Expr, error) {
	if p.pos+3 > len(p.tokens) {
		return nil, fmt.Errorf("invalid comparison")
	}

	field := p.tokens[p.pos]
	op := p.tokens[p.pos+1]
	value := p.tokens[p.pos+2]

	if field.kind != tokenName {
		return nil, fmt.Errorf("expected field name in comparison")
	}
	if op.kind != tokenOp {
		return nil, fmt.Errorf("expected == or != in comparison")
	}
	if value.kind != tokenString {
		return nil, fmt.Errorf("expected string literal in comparison")
	}

	p.pos += 3
	return &Cmp{Field: field.value, Op: op.value, Value: value.value}, nil
}

func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		kind := p.tokens[p.pos].kind
		if kind != tokenAnd && kind != tokenOr {
			break
		}
		p.pos++
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		if kind == tokenAnd {
			left = &And{Left: left, Right: right}
		} else {
			left = &Or{Left: left, Right: right}
		}
	}
	return left, nil
}
