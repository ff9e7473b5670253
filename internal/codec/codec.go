// Package codec decodes resource bytes into document trees. The format is
// picked from the resource name's extension.
package codec

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/tailscale/hujson"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/strata/internal/doc"
)

// Format names a supported document encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
	FormatHCL   Format = "hcl"
)

var ErrUnsupported = errors.New("unsupported format")

// Detect returns the format implied by name's extension. Names without a
// recognised extension are treated as JSON.
func Detect(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".jsonc", ".json5", ".hujson":
		return FormatJSONC
	case ".yaml", ".yml":
		return FormatYAML
	case ".hcl", ".tfvars":
		return FormatHCL
	default:
		return FormatJSON
	}
}

// Decode parses data named name using the format Detect picks for it.
func Decode(name string, data []byte) (doc.Node, error) {
	return DecodeAs(Detect(name), name, data)
}

// DecodeAs parses data in an explicit format. name is only used in
// diagnostics.
func DecodeAs(f Format, name string, data []byte) (doc.Node, error) {
	var (
		n   doc.Node
		err error
	)
	switch f {
	case FormatJSON:
		n, err = doc.Parse(data)
	case FormatJSONC:
		n, err = decodeJSONC(data)
	case FormatYAML:
		n, err = decodeYAML(data)
	case FormatHCL:
		n, err = decodeHCL(name, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s as %s: %w", name, f, err)
	}
	return n, nil
}

func decodeJSONC(data []byte) (doc.Node, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}
	return doc.Parse(standardized)
}

func decodeYAML(data []byte) (doc.Node, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return doc.FromAny(v)
}

// decodeHCL accepts attribute-only HCL bodies (tfvars style). Blocks are
// rejected since they have no unambiguous tree shape.
func decodeHCL(name string, data []byte) (doc.Node, error) {
	file, diags := hclsyntax.ParseConfig(data, name, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diags
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	out := make(doc.Object, len(attrs))
	for key, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		raw, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		n, err := doc.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		out[key] = n
	}
	return out, nil
}
