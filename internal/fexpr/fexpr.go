// Package fexpr implements the tiny filter expression DSL shared by the
// filter and the stream correlator:
//
//	expr := cmp (('and' | 'or') cmp)*
//	cmp  := NAME ('==' | '!=') STRING
//
// NAME is a dotted identifier looked up as a flat key in the event map (UEM
// keys are already dotted strings, there is no path traversal). STRING is a
// single-quoted literal with no escapes. 'and' and 'or' associate left to
// right with no precedence distinction between them.
package fexpr

// Comparison operators.
const (
	OpEq = "=="
	OpNe = "!="
)

// Expr is a compiled filter expression.
type Expr interface {
	// Eval reports whether the event matches. A missing field reads as "".
	Eval(event map[string]string) bool
}

// Cmp compares a flat event field against a string literal.
type Cmp struct {
	Field string
	Op    string
	Value string
}

// And is the conjunction of two expressions.
type And struct {
	Left, Right Expr
}

// Or is the disjunction of two expressions.
type Or struct {
	Left, Right Expr
}

func (c *Cmp) Eval(event map[string]string) bool {
	actual := event[c.Field]
	if c.Op == OpNe {
		return actual != c.Value
	}
	return actual == c.Value
}

func (a *And) Eval(event map[string]string) bool {
	return a.Left.Eval(event) && a.Right.Eval(event)
}

func (o *Or) Eval(event map[string]string) bool {
	return o.Left.Eval(event) || o.Right.Eval(event)
}
