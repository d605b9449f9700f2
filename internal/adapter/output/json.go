package output

import (
	"encoding/json"
	"io"

	"github.com/jmylchreest/archsense/internal/model"
)

// JSONFormatter formats the snapshot as JSON.
type JSONFormatter struct {
	opts FormatterOptions
}

// NewJSONFormatter creates a new JSON formatter.
func NewJSONFormatter(opts FormatterOptions) *JSONFormatter {
	return &JSONFormatter{opts: opts}
}

// Format writes the snapshot as an indented JSON object, using the same
// field names as the wire protocol.
func (f *JSONFormatter) Format(w io.Writer, snap *model.Snapshot) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newStateView(snap, f.opts))
}
