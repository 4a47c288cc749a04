// Package mapexpr compiles the path-extraction expressions used in
// normalizer rule mappings (JMESPath semantics).
//
// Raw events are flat string maps, and raw field names may themselves
// contain dots. An expression is therefore resolved in two steps: the whole
// expression is first tried as an opaque flat key, and only then evaluated
// as a compiled JMESPath against the event.
package mapexpr

import (
	"fmt"
	"strconv"

	"github.com/jmespath/go-jmespath"
)

// Expr is a compiled mapping expression.
type Expr struct {
	text string
	jp   *jmespath.JMESPath
}

// Compile compiles the expression once; rule loaders call this at load time
// and exclude mapping entries that fail to compile.
func Compile(expr string) (*Expr, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile mapping expression %q: %w", expr, err)
	}
	return &Expr{text: expr, jp: jp}, nil
}

// Text returns the original expression source.
func (e *Expr) Text() string {
	return e.text
}

// Search evaluates the expression against a raw event and returns the
// extracted value stringified, or "" when the path resolves to nothing.
func (e *Expr) Search(raw map[string]string) (string, error) {
	// Opaque flat key first: raw field names may contain dots.
	if v, ok := raw[e.text]; ok {
		return v, nil
	}

	data := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		data[k] = v
	}

	result, err := e.jp.Search(data)
	if err != nil {
		return "", fmt.Errorf("evaluate mapping expression %q: %w", e.text, err)
	}
	return Stringify(result), nil
}

// Stringify renders an extracted value the way stream records carry it:
// nulls become empty strings, everything else its string form.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
