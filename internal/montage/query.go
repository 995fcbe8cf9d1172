package montage

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// Range is a closed interval [Min, Max].
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min-Epsilon && v <= r.Max+Epsilon
}

// Constraint names one droppable part of an AestheticQuery.
type Constraint string

const (
	ConstraintEmbedding Constraint = "embedding"
	ConstraintSilence   Constraint = "silence"
	ConstraintMotion    Constraint = "motion"
	ConstraintTags      Constraint = "tags"
)

// DefaultRelaxationOrder drops the similarity hint first and the tags last.
var DefaultRelaxationOrder = []Constraint{ConstraintEmbedding, ConstraintSilence, ConstraintMotion, ConstraintTags}

// ParseConstraint validates a relaxation step name.
func ParseConstraint(s string) (Constraint, error) {
	switch c := Constraint(strings.ToLower(strings.TrimSpace(s))); c {
	case ConstraintEmbedding, ConstraintSilence, ConstraintMotion, ConstraintTags:
		return c, nil
	default:
		return "", fmt.Errorf("unknown relaxation constraint %q", s)
	}
}

// AestheticQuery describes the clip a slot wants.
type AestheticQuery struct {
	// Tags are required: a matching clip carries every one of them.
	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Motion  *Range   `yaml:"motion,omitempty" json:"motion,omitempty"`
	Silence *Range   `yaml:"silence,omitempty" json:"silence,omitempty"`
	// MotionTarget ranks clips by closeness of their motion score. It is
	// derived from track energy and dropped together with Motion.
	MotionTarget  *float64  `yaml:"motion_target,omitempty" json:"motion_target,omitempty"`
	EmbeddingHint []float32 `yaml:"embedding_hint,omitempty" json:"embedding_hint,omitempty"`
	// MinSimilarity excludes clips whose cosine similarity to the hint is
	// lower. Zero means the hint only ranks.
	MinSimilarity float64 `yaml:"min_similarity,omitempty" json:"min_similarity,omitempty"`
	// MinDuration excludes clips shorter than the slot when they cannot be
	// looped. It is never relaxed.
	MinDuration     float64  `yaml:"min_duration,omitempty" json:"min_duration,omitempty"`
	ExcludedClipIDs []string `yaml:"excluded,omitempty" json:"excluded,omitempty"`
}

// Clone returns a deep copy of q.
func (q AestheticQuery) Clone() AestheticQuery {
	out := q
	out.Tags = append([]string(nil), q.Tags...)
	out.ExcludedClipIDs = append([]string(nil), q.ExcludedClipIDs...)
	out.EmbeddingHint = append([]float32(nil), q.EmbeddingHint...)
	if q.Motion != nil {
		m := *q.Motion
		out.Motion = &m
	}
	if q.Silence != nil {
		s := *q.Silence
		out.Silence = &s
	}
	if q.MotionTarget != nil {
		t := *q.MotionTarget
		out.MotionTarget = &t
	}
	return out
}

// Has reports whether the constraint is currently set on q.
func (q AestheticQuery) Has(c Constraint) bool {
	switch c {
	case ConstraintEmbedding:
		return len(q.EmbeddingHint) > 0
	case ConstraintSilence:
		return q.Silence != nil
	case ConstraintMotion:
		return q.Motion != nil || q.MotionTarget != nil
	case ConstraintTags:
		return len(q.Tags) > 0
	}
	return false
}

// Drop returns a copy of q without constraint c. Dropping only ever removes
// a filter, so the result matches every clip q matched.
func (q AestheticQuery) Drop(c Constraint) AestheticQuery {
	out := q.Clone()
	switch c {
	case ConstraintEmbedding:
		out.EmbeddingHint = nil
		out.MinSimilarity = 0
	case ConstraintSilence:
		out.Silence = nil
	case ConstraintMotion:
		out.Motion = nil
		out.MotionTarget = nil
	case ConstraintTags:
		out.Tags = nil
	}
	return out
}

// Relax drops the first level constraints of order from q. Levels beyond the
// length of order return the fully relaxed query.
func (q AestheticQuery) Relax(order []Constraint, level int) AestheticQuery {
	out := q.Clone()
	for i := 0; i < level && i < len(order); i++ {
		out = out.Drop(order[i])
	}
	return out
}

// Excludes reports whether id is listed in ExcludedClipIDs.
func (q AestheticQuery) Excludes(id string) bool {
	for _, ex := range q.ExcludedClipIDs {
		if ex == id {
			return true
		}
	}
	return false
}

// Matches reports whether clip satisfies every filter of q. Exclusions are
// not part of matching; callers apply them separately.
func (q AestheticQuery) Matches(clip Clip) bool {
	if q.MinDuration > 0 && clip.Duration+Epsilon < q.MinDuration {
		return false
	}
	for _, tag := range q.Tags {
		if !clip.HasTag(tag) {
			return false
		}
	}
	if q.Motion != nil && !q.Motion.Contains(clip.MotionScore) {
		return false
	}
	if q.Silence != nil && !q.Silence.Contains(clip.SilenceRatio) {
		return false
	}
	if len(q.EmbeddingHint) > 0 && q.MinSimilarity > 0 {
		sim, ok := Cosine(q.EmbeddingHint, clip.Embedding)
		if !ok || sim < q.MinSimilarity {
			return false
		}
	}
	return true
}

// Score ranks a matching clip. Similarity to the embedding hint counts fully,
// closeness to the motion target counts half. A query with neither scores 0.
func (q AestheticQuery) Score(clip Clip) float64 {
	sim := 0.0
	if len(q.EmbeddingHint) > 0 {
		if s, ok := Cosine(q.EmbeddingHint, clip.Embedding); ok {
			sim = s
		}
	}
	return q.ScoreWithSimilarity(clip, sim)
}

// ScoreWithSimilarity is Score with the hint similarity already computed,
// for catalogs that get it from a vector index.
func (q AestheticQuery) ScoreWithSimilarity(clip Clip, similarity float64) float64 {
	score := 0.0
	if len(q.EmbeddingHint) > 0 {
		score += similarity
	}
	if q.MotionTarget != nil {
		score += 0.5 * (1 - math.Abs(clip.MotionScore-*q.MotionTarget))
	}
	return score
}

// Fingerprint is a stable key for q, used for caching search results.
func (q AestheticQuery) Fingerprint() string {
	var b strings.Builder
	tags := append([]string(nil), q.Tags...)
	sort.Strings(tags)
	fmt.Fprintf(&b, "t=%s", strings.Join(tags, ","))
	if q.Motion != nil {
		fmt.Fprintf(&b, "|m=%g:%g", q.Motion.Min, q.Motion.Max)
	}
	if q.MotionTarget != nil {
		fmt.Fprintf(&b, "|mt=%g", *q.MotionTarget)
	}
	if q.Silence != nil {
		fmt.Fprintf(&b, "|s=%g:%g", q.Silence.Min, q.Silence.Max)
	}
	if len(q.EmbeddingHint) > 0 {
		h := fnv.New64a()
		for _, v := range q.EmbeddingHint {
			fmt.Fprintf(h, "%g,", v)
		}
		fmt.Fprintf(&b, "|e=%x:%g", h.Sum64(), q.MinSimilarity)
	}
	if q.MinDuration > 0 {
		fmt.Fprintf(&b, "|d=%g", q.MinDuration)
	}
	if len(q.ExcludedClipIDs) > 0 {
		ex := append([]string(nil), q.ExcludedClipIDs...)
		sort.Strings(ex)
		fmt.Fprintf(&b, "|x=%s", strings.Join(ex, ","))
	}
	return b.String()
}

// Cosine returns the cosine similarity of a and b. ok is false when either
// vector is empty, zero, or the dimensions differ.
func Cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
