// Package montage holds the data model shared by the planning stages:
// analysis inputs, slots, aesthetic queries, clips and assignments.
package montage

import (
	"fmt"
	"sort"
	"strings"
)

// Epsilon is the tolerance used for time comparisons (seconds).
const Epsilon = 1e-6

// SectionType labels a structural region of a track.
type SectionType string

const (
	SectionIntro     SectionType = "intro"
	SectionDrop      SectionType = "drop"
	SectionBreakdown SectionType = "breakdown"
	SectionOutro     SectionType = "outro"
	SectionOther     SectionType = "other"
)

// SectionTypes lists the recognized section labels in canonical order.
var SectionTypes = []SectionType{SectionIntro, SectionDrop, SectionBreakdown, SectionOutro, SectionOther}

// ParseSectionType maps a label to a SectionType. Unknown labels become SectionOther.
func ParseSectionType(s string) SectionType {
	switch SectionType(strings.ToLower(strings.TrimSpace(s))) {
	case SectionIntro:
		return SectionIntro
	case SectionDrop:
		return SectionDrop
	case SectionBreakdown:
		return SectionBreakdown
	case SectionOutro:
		return SectionOutro
	default:
		return SectionOther
	}
}

// Valid reports whether t is one of the recognized labels.
func (t SectionType) Valid() bool {
	for _, known := range SectionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// BeatGrid is the tempo and ordered beat timestamps of a track.
type BeatGrid struct {
	BPM   float64   `yaml:"bpm" json:"bpm"`
	Beats []float64 `yaml:"beats" json:"beats"`
}

// Validate checks that the grid has at least two strictly increasing beats.
func (g BeatGrid) Validate() error {
	if len(g.Beats) < 2 {
		return &AnalysisInputError{Reason: fmt.Sprintf("beat grid needs at least 2 beats, got %d", len(g.Beats))}
	}
	for i := 1; i < len(g.Beats); i++ {
		if g.Beats[i] <= g.Beats[i-1] {
			return &AnalysisInputError{Reason: fmt.Sprintf("beats must be strictly increasing (beat %d at %.3fs follows %.3fs)", i, g.Beats[i], g.Beats[i-1])}
		}
	}
	if g.Beats[0] < 0 {
		return &AnalysisInputError{Reason: "beat timestamps must not be negative"}
	}
	return nil
}

// MeanInterval returns the average distance between consecutive beats.
func (g BeatGrid) MeanInterval() float64 {
	if len(g.Beats) < 2 {
		return 0
	}
	return (g.Beats[len(g.Beats)-1] - g.Beats[0]) / float64(len(g.Beats)-1)
}

// Section is a labeled region [Start, End) of the track.
type Section struct {
	Type  SectionType `yaml:"type" json:"type"`
	Start float64     `yaml:"start" json:"start"`
	End   float64     `yaml:"end" json:"end"`
}

// Contains reports whether t falls inside the section. The end bound is
// inclusive so that a midpoint landing exactly on the last boundary still
// resolves.
func (s Section) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// Structure is the section layout and energy curve of a track.
type Structure struct {
	Sections []Section   `yaml:"sections" json:"sections"`
	Energy   EnergyCurve `yaml:"energy" json:"energy"`
	// Duration is the track length in seconds; 0 when unknown.
	Duration float64 `yaml:"duration" json:"duration"`
}

// Validate checks section ordering and bounds. Gaps are tolerated.
func (s Structure) Validate() error {
	for i, sec := range s.Sections {
		if sec.Start >= sec.End {
			return &AnalysisInputError{Reason: fmt.Sprintf("section %d (%s) has start %.3f >= end %.3f", i, sec.Type, sec.Start, sec.End)}
		}
		if i > 0 && sec.Start < s.Sections[i-1].End-Epsilon {
			return &AnalysisInputError{Reason: fmt.Sprintf("section %d (%s) overlaps section %d", i, sec.Type, i-1)}
		}
	}
	if s.Duration < 0 {
		return &AnalysisInputError{Reason: "track duration must not be negative"}
	}
	for i := 1; i < len(s.Energy); i++ {
		if s.Energy[i].Time < s.Energy[i-1].Time {
			return &AnalysisInputError{Reason: "energy samples must be ordered by time"}
		}
	}
	return nil
}

// SectionAt returns the index of the section whose range contains t, or -1.
func (s Structure) SectionAt(t float64) int {
	idx := sort.Search(len(s.Sections), func(i int) bool {
		return s.Sections[i].End >= t
	})
	for i := idx; i < len(s.Sections); i++ {
		if s.Sections[i].Contains(t) {
			return i
		}
		if s.Sections[i].Start > t {
			break
		}
	}
	return -1
}

// EnergySample is one point of the energy curve.
type EnergySample struct {
	Time  float64 `yaml:"time" json:"time"`
	Value float64 `yaml:"value" json:"value"`
}

// EnergyCurve is an ordered sequence of samples with values in [0,1].
type EnergyCurve []EnergySample

// At linearly interpolates the curve at t. Values outside the sampled range
// clamp to the nearest endpoint; an empty curve reads as 0.5.
func (c EnergyCurve) At(t float64) float64 {
	if len(c) == 0 {
		return 0.5
	}
	if t <= c[0].Time {
		return clamp01(c[0].Value)
	}
	last := c[len(c)-1]
	if t >= last.Time {
		return clamp01(last.Value)
	}
	i := sort.Search(len(c), func(i int) bool { return c[i].Time > t })
	prev, next := c[i-1], c[i]
	span := next.Time - prev.Time
	if span <= 0 {
		return clamp01(next.Value)
	}
	f := (t - prev.Time) / span
	return clamp01(prev.Value + (next.Value-prev.Value)*f)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Slot is one beat-aligned interval to be filled by exactly one clip.
type Slot struct {
	Index        int         `yaml:"index" json:"index"`
	Start        float64     `yaml:"start" json:"start"`
	Duration     float64     `yaml:"duration" json:"duration"`
	Section      SectionType `yaml:"section" json:"section"`
	SectionIndex int         `yaml:"section_index" json:"section_index"`
	// TrimJitter is a seeded factor in [-1,1] scaled by the configured jitter.
	// The trim policy uses it to vary offsets without touching slot bounds.
	TrimJitter float64 `yaml:"trim_jitter" json:"trim_jitter"`
}

// End returns Start + Duration.
func (s Slot) End() float64 { return s.Start + s.Duration }

// Midpoint returns the center of the slot.
func (s Slot) Midpoint() float64 { return s.Start + s.Duration/2 }
