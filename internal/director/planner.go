package director

import (
	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/montage"
)

// Planner turns slots into aesthetic queries using the style table.
type Planner struct {
	Style config.Style
}

// NewPlanner creates a planner over a validated style table.
func NewPlanner(style config.Style) *Planner {
	return &Planner{Style: style}
}

// Plan builds the query for slot. The result depends only on the slot,
// the style table and the energy curve.
func (p *Planner) Plan(slot montage.Slot, energy montage.EnergyCurve) montage.AestheticQuery {
	entry := p.Style.Entry(slot.Section)

	q := montage.AestheticQuery{
		Tags:          append([]string(nil), entry.Tags...),
		EmbeddingHint: append([]float32(nil), entry.Embedding...),
		MinSimilarity: entry.MinSimilarity,
	}
	if len(q.Tags) == 0 {
		q.Tags = nil
	}
	if len(q.EmbeddingHint) == 0 {
		q.EmbeddingHint = nil
		q.MinSimilarity = 0
	}

	switch {
	case entry.MinMotion != nil && entry.MaxMotion != nil:
		window, target := scaleMotion(*entry.MinMotion, *entry.MaxMotion, energy.At(slot.Midpoint()))
		q.Motion = &window
		q.MotionTarget = &target
	case entry.MaxMotion != nil:
		q.Motion = &montage.Range{Min: 0, Max: *entry.MaxMotion}
	case entry.MinMotion != nil:
		q.Motion = &montage.Range{Min: *entry.MinMotion, Max: 1}
	}

	if entry.MaxSilence != nil {
		q.Silence = &montage.Range{Min: 0, Max: *entry.MaxSilence}
	}
	return q
}

// scaleMotion moves a declared motion interval toward its high end on loud
// passages and its low end on quiet ones. The returned window is half the
// declared width, centred on the target and kept inside [lo, hi].
func scaleMotion(lo, hi, energy float64) (montage.Range, float64) {
	switch {
	case energy < 0:
		energy = 0
	case energy > 1:
		energy = 1
	}
	target := lo + energy*(hi-lo)
	half := (hi - lo) / 2

	r := montage.Range{Min: target - half/2, Max: target + half/2}
	if r.Min < lo {
		r = montage.Range{Min: lo, Max: lo + half}
	}
	if r.Max > hi {
		r = montage.Range{Min: hi - half, Max: hi}
	}
	return r, target
}
