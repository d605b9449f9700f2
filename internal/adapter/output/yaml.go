package output

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/archsense/internal/model"
)

// YAMLFormatter formats the snapshot as YAML.
type YAMLFormatter struct {
	opts FormatterOptions
}

// NewYAMLFormatter creates a new YAML formatter.
func NewYAMLFormatter(opts FormatterOptions) *YAMLFormatter {
	return &YAMLFormatter{opts: opts}
}

// Format writes the snapshot as a YAML document.
func (f *YAMLFormatter) Format(w io.Writer, snap *model.Snapshot) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(newStateView(snap, f.opts)); err != nil {
		return err
	}
	return encoder.Close()
}
