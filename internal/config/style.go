package config

import (
	"fmt"
	"sort"

	"github.com/ivlev/beat2video/internal/montage"
)

// StyleEntry is the aesthetic intent for one section type. Only the keys
// below are recognized; unset bounds stay nil and mean "no filter".
type StyleEntry struct {
	Tags          []string  `yaml:"tags,omitempty"`
	MinMotion     *float64  `yaml:"min_motion,omitempty"`
	MaxMotion     *float64  `yaml:"max_motion,omitempty"`
	MaxSilence    *float64  `yaml:"max_silence,omitempty"`
	Embedding     []float32 `yaml:"embedding,omitempty,flow"`
	MinSimilarity float64   `yaml:"min_similarity,omitempty"`
}

// Style maps section types to their entries.
type Style map[montage.SectionType]StyleEntry

// Entry returns the entry for t, or the empty default entry.
func (s Style) Entry(t montage.SectionType) StyleEntry {
	if e, ok := s[t]; ok {
		return e
	}
	return StyleEntry{}
}

func ptr(v float64) *float64 { return &v }

// DefaultStyle is the section table used when the config file has none.
func DefaultStyle() Style {
	s := Style{
		montage.SectionIntro:     {Tags: []string{"religious", "low motion"}, MaxMotion: ptr(0.3), MaxSilence: ptr(0.8)},
		montage.SectionDrop:      {Tags: []string{"night vision", "authority"}, MinMotion: ptr(0.6)},
		montage.SectionBreakdown: {Tags: []string{"surveillance"}, MaxSilence: ptr(0.5)},
		montage.SectionOutro:     {Tags: []string{"low motion"}, MaxMotion: ptr(0.4)},
	}
	s.Normalize()
	return s
}

// Normalize sorts and dedupes tags so planning sees a canonical form.
func (s Style) Normalize() {
	for k, e := range s {
		seen := map[string]bool{}
		tags := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			tags = append(tags, t)
		}
		sort.Strings(tags)
		if len(tags) == 0 {
			tags = nil
		}
		e.Tags = tags
		s[k] = e
	}
}

// Validate checks section names and bounds.
func (s Style) Validate() error {
	dims := -1
	for _, k := range s.SectionKeys() {
		e := s[k]
		field := "style." + string(k)
		if !k.Valid() {
			return &montage.ConfigError{Field: field, Reason: "unknown section type"}
		}
		bounds := []struct {
			name string
			v    *float64
		}{
			{"min_motion", e.MinMotion},
			{"max_motion", e.MaxMotion},
			{"max_silence", e.MaxSilence},
		}
		for _, b := range bounds {
			if b.v != nil && (*b.v < 0 || *b.v > 1) {
				return &montage.ConfigError{Field: field + "." + b.name, Reason: fmt.Sprintf("must be within [0, 1], got %g", *b.v)}
			}
		}
		if e.MinMotion != nil && e.MaxMotion != nil && *e.MinMotion > *e.MaxMotion {
			return &montage.ConfigError{Field: field, Reason: "min_motion exceeds max_motion"}
		}
		if e.MinSimilarity < 0 || e.MinSimilarity > 1 {
			return &montage.ConfigError{Field: field + ".min_similarity", Reason: "must be within [0, 1]"}
		}
		if e.MinSimilarity > 0 && len(e.Embedding) == 0 {
			return &montage.ConfigError{Field: field + ".min_similarity", Reason: "set without an embedding"}
		}
		if len(e.Embedding) > 0 {
			if dims >= 0 && dims != len(e.Embedding) {
				return &montage.ConfigError{Field: field + ".embedding", Reason: fmt.Sprintf("has %d dimensions, other sections use %d", len(e.Embedding), dims)}
			}
			dims = len(e.Embedding)
		}
	}
	return nil
}
