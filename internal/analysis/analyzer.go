// Package analysis loads the beat grid and section structure of a track
// from the external audio analyzer.
package analysis

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/beat2video/internal/montage"
)

// Analyzer produces the beat grid and structure of an audio file.
type Analyzer interface {
	Analyze(ctx context.Context, audioPath string) (*Result, error)
}

// Result is the immutable input of one planning run.
type Result struct {
	Grid      montage.BeatGrid
	Structure montage.Structure
}

// Document is the analyzer output format, shared by sidecar files and the
// stdout of analyzer commands. JSON documents decode as well since JSON is
// valid YAML.
type Document struct {
	BPM      float64          `yaml:"bpm"`
	Beats    []float64        `yaml:"beats"`
	Duration float64          `yaml:"duration"`
	Sections []SectionDoc     `yaml:"sections"`
	Energy   []EnergyPointDoc `yaml:"energy"`
}

type SectionDoc struct {
	Type  string  `yaml:"type"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// EnergyPointDoc is a [time, value] pair.
type EnergyPointDoc [2]float64

// Decode parses an analyzer document and validates it.
func Decode(data []byte) (*Result, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &montage.AnalysisInputError{Reason: fmt.Sprintf("decode analysis: %v", err)}
	}
	return doc.Result()
}

// Result converts the document into validated planning input. Unknown
// section labels become "other".
func (d Document) Result() (*Result, error) {
	res := &Result{
		Grid: montage.BeatGrid{BPM: d.BPM, Beats: append([]float64(nil), d.Beats...)},
		Structure: montage.Structure{
			Duration: d.Duration,
			Sections: make([]montage.Section, 0, len(d.Sections)),
			Energy:   make(montage.EnergyCurve, 0, len(d.Energy)),
		},
	}
	for _, s := range d.Sections {
		res.Structure.Sections = append(res.Structure.Sections, montage.Section{
			Type:  montage.ParseSectionType(s.Type),
			Start: s.Start,
			End:   s.End,
		})
	}
	for _, e := range d.Energy {
		if e[1] < 0 || e[1] > 1 {
			return nil, &montage.AnalysisInputError{Reason: fmt.Sprintf("energy %g at %.3fs outside [0, 1]", e[1], e[0])}
		}
		res.Structure.Energy = append(res.Structure.Energy, montage.EnergySample{Time: e[0], Value: e[1]})
	}

	if err := res.Grid.Validate(); err != nil {
		return nil, err
	}
	if err := res.Structure.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}
