package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/aweris/objstore"
)

// readValue resolves the value argument of put. "-" reads stdin and "@path"
// reads a file. Input that parses as JSON (comments and trailing commas
// allowed) is stored structurally, anything else as a plain string.
func readValue(arg string, stdin io.Reader, raw bool) (any, error) {
	var data []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, err
		}
		data = b
	default:
		data = []byte(arg)
	}

	if raw {
		return string(data), nil
	}

	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(data), nil
	}
	return fromJSON(v), nil
}

// fromJSON maps decoded JSON onto storable values: objects become Fields so
// each member is stored as its own fragment, and numbers become int64 when
// they are integral.
func fromJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		fields := make(objstore.Fields, len(t))
		for k, child := range t {
			fields[k] = fromJSON(child)
		}
		return fields
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = plainJSON(child)
		}
		return out
	case json.Number:
		return number(t)
	default:
		return v
	}
}

// plainJSON converts numbers without turning nested objects into Fields;
// objects inside arrays stay part of a single blob.
func plainJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = plainJSON(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = plainJSON(child)
		}
		return t
	case json.Number:
		return number(t)
	default:
		return v
	}
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// parseAttrs turns key=value pairs into commit attributes.
func parseAttrs(pairs []string) (objstore.Attrs, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(objstore.Attrs, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q (expected key=value)", pair)
		}
		attrs[key] = value
	}
	return attrs, nil
}
