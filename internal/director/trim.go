package director

import (
	"math"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/montage"
)

// TrimPolicy decides which part of a clip plays in a slot. Footage is never
// sped up or slowed down: a long clip is cut, a short one is either looped
// or rejected.
type TrimPolicy struct {
	Mode string // config.TrimRandom or config.TrimStart
	Loop bool
	Seed int64
}

// Viable reports whether clip can fill slot under this policy.
func (t TrimPolicy) Viable(clip montage.Clip, slot montage.Slot) bool {
	return t.Loop || clip.Duration+montage.Epsilon >= slot.Duration
}

// Fit returns the trim start and whether the clip has to be looped. The
// trim duration always equals the slot duration.
func (t TrimPolicy) Fit(clip montage.Clip, slot montage.Slot) (start float64, looped bool) {
	slack := clip.Duration - slot.Duration
	if slack < -montage.Epsilon {
		return 0, true
	}
	if slack <= montage.Epsilon || t.Mode == config.TrimStart {
		return 0, false
	}

	u := montage.SlotRand(t.Seed, montage.StreamTrimOff, slot.Index).Float64() + slot.TrimJitter
	u -= math.Floor(u)
	return u * slack, false
}
