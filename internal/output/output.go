// Package output renders CLI result sets as tables, markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Dataset is a result set ready to render. Value is what JSON output
// marshals; Header and Rows feed the table and markdown renderers.
type Dataset struct {
	Header []string
	Rows   [][]any
	Footer []any
	Value  any
}

// Empty reports whether there is nothing to show.
func (d Dataset) Empty() bool {
	return len(d.Rows) == 0
}

// Render formats ds. Table and markdown output for an empty dataset is the
// empty string so callers can print their own notice.
func Render(format Format, ds Dataset) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(ds.Value, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	case FormatMarkdown:
		if ds.Empty() {
			return "", nil
		}
		return newTable(ds).RenderMarkdown(), nil
	default:
		if ds.Empty() {
			return "", nil
		}
		return newTable(ds).Render(), nil
	}
}
