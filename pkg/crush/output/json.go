package output

import (
	"bytes"
	"encoding/json"

	"github.com/jamesainslie/crush/pkg/crush/types"
)

// document is the structure shared by the json and yaml formatters.
type document struct {
	Run   *types.RunReport `json:"run" yaml:"run"`
	Stats stats            `json:"stats" yaml:"stats"`
}

type stats struct {
	Found      int    `json:"found" yaml:"found"`
	Optimized  int    `json:"optimized" yaml:"optimized"`
	Failed     int    `json:"failed" yaml:"failed"`
	BytesSaved int64  `json:"bytes_saved" yaml:"bytes_saved"`
	SavedHuman string `json:"saved_human" yaml:"saved_human"`
	Duration   string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Summary    string `json:"summary" yaml:"summary"`
}

func buildDocument(r *types.RunReport) document {
	return document{
		Run: r,
		Stats: stats{
			Found:      r.Found(),
			Optimized:  r.Optimized(),
			Failed:     r.Failed(),
			BytesSaved: r.BytesSaved(),
			SavedHuman: types.FormatSize(r.BytesSaved()),
			Duration:   durationString(r.Elapsed()),
			Summary:    r.Summary(),
		},
	}
}

// JSONFormatter formats the report as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *types.RunReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(buildDocument(r))
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter writes one compact JSON object per recorded file outcome.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *types.RunReport) error {
	for _, it := range r.Items {
		for _, o := range it.Outcomes {
			data, err := json.Marshal(o)
			if err != nil {
				return err
			}
			w.Write(data)
			w.WriteByte('\n')
		}
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

var _ Formatter = (*JSONLFormatter)(nil)
