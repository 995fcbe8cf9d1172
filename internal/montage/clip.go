package montage

import "sort"

// Clip is a catalog entry. Metadata is passed through untouched.
type Clip struct {
	ID           string            `yaml:"id" json:"id"`
	Filepath     string            `yaml:"filepath" json:"filepath"`
	Duration     float64           `yaml:"duration" json:"duration"`
	Tags         []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	MotionScore  float64           `yaml:"motion_score" json:"motion_score"`
	SilenceRatio float64           `yaml:"silence_ratio" json:"silence_ratio"`
	Embedding    []float32         `yaml:"embedding,omitempty" json:"embedding,omitempty"`
	Source       string            `yaml:"source,omitempty" json:"source,omitempty"`
	Year         int               `yaml:"year,omitempty" json:"year,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// HasTag reports whether the clip carries tag.
func (c Clip) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Candidate is a clip together with the score the catalog ranked it by.
type Candidate struct {
	Clip  Clip
	Score float64
}

// SortCandidates orders candidates by descending score, then ascending id.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Clip.ID < cs[j].Clip.ID
	})
}

// Assignment binds one slot to one clip and the portion of it to play.
type Assignment struct {
	Slot            Slot
	Clip            Clip
	TrimStart       float64
	TrimDuration    float64
	RelaxationLevel int
	// Looped is set when a clip shorter than its slot is repeated to length.
	Looped bool
	// Fallback is set when the slot reused the previous clip after every
	// relaxation level came back empty.
	Fallback bool
	Score    float64
}
