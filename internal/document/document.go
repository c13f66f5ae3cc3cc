// Package document holds the opaque JSON datasets handled by datapages and
// the canonical fingerprint used to detect changes between them.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Placeholder is returned by Describe when a field cannot be displayed.
const Placeholder = "n/a"

// Document is one dataset's full decoded content. Its structure is never
// interpreted beyond best-effort diagnostics.
type Document struct {
	root any
}

// Parse decodes a single JSON value from data.
func Parse(data []byte) (Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads exactly one JSON value from r. Numbers are kept verbatim.
func Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("empty document")
		}
		return Document{}, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Document{}, fmt.Errorf("unexpected data after top-level value")
	}

	return Document{root: v}, nil
}

// Value returns the decoded value (map[string]any, []any, string,
// json.Number, bool or nil).
func (d Document) Value() any {
	return d.root
}

// Encode serializes the document in its stored form: sorted keys, two-space
// indentation, UTF-8 kept as is, trailing newline.
func Encode(d Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Describe returns a displayable form of the top-level field key. Missing
// fields, non-object documents and non-scalar values yield Placeholder.
func Describe(d Document, key string) string {
	obj, ok := d.root.(map[string]any)
	if !ok {
		return Placeholder
	}

	v, ok := obj[key]
	if !ok {
		return Placeholder
	}

	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return fmt.Sprintf("%t", val)
	case nil:
		return "null"
	default:
		return Placeholder
	}
}
