// Package output provides output formatters for daemon state.
package output

import (
	"io"

	"github.com/jmylchreest/archsense/internal/model"
)

// Formatter formats a state snapshot for output.
type Formatter interface {
	// Format writes the formatted snapshot to the writer.
	Format(w io.Writer, snap *model.Snapshot) error
}

// FormatType represents an output format type.
type FormatType string

const (
	FormatPlain  FormatType = "plain"
	FormatJSON   FormatType = "json"
	FormatYAML   FormatType = "yaml"
	FormatWaybar FormatType = "waybar"
)

// FormatTypes lists every supported format.
var FormatTypes = []FormatType{FormatPlain, FormatJSON, FormatYAML, FormatWaybar}

// NewFormatter creates a formatter for the specified format type.
func NewFormatter(format FormatType, opts FormatterOptions) Formatter {
	switch format {
	case FormatJSON:
		return NewJSONFormatter(opts)
	case FormatYAML:
		return NewYAMLFormatter(opts)
	case FormatWaybar:
		return NewWaybarFormatter(opts)
	case FormatPlain:
		fallthrough
	default:
		return NewPlainFormatter(opts)
	}
}

// FormatterOptions configures formatter behavior.
type FormatterOptions struct {
	Template      string // Custom template for plain and waybar text
	ShowTelemetry bool   // Include live readings
	ShowRevision  bool   // Include the state revision
}

// DefaultFormatterOptions returns sensible defaults for terminal output.
func DefaultFormatterOptions() FormatterOptions {
	return FormatterOptions{
		ShowTelemetry: true,
	}
}
