package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by WriteDocument.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseFormat normalizes a format name; empty means text.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w %q (want text, json or yaml)", ErrUnknownFormat, s)
	}
}

// WriteDocument encodes doc as JSON or YAML.
func WriteDocument(w io.Writer, format string, doc *StatusDocument) error {
	return WriteValue(w, format, doc)
}

// WriteValue encodes any value as JSON or YAML.
func WriteValue(w io.Writer, format string, doc any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return &WriteError{Op: "encode_json", Err: err}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return &WriteError{Op: "encode_yaml", Err: err}
		}
		if err := enc.Close(); err != nil {
			return &WriteError{Op: "encode_yaml", Err: err}
		}
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}
