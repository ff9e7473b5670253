package doc

import (
	"fmt"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// Parse decodes JSON text into a Node.
func Parse(data []byte) (Node, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return FromAny(v)
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(s string) Node {
	n, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// Marshal encodes n as JSON with object keys sorted so equal trees always
// produce identical bytes. indent of 0 gives compact output. An absent node
// encodes as null.
func Marshal(n Node, indent int) []byte {
	opts := ojg.DefaultOptions
	opts.Sort = true
	opts.Indent = indent
	return []byte(oj.JSON(ToAny(n), &opts))
}

// Format returns the compact JSON encoding of n for logs and diagnostics.
func Format(n Node) string {
	if n == nil {
		return "<absent>"
	}
	return string(Marshal(n, 0))
}
