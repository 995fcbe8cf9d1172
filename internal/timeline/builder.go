// Package timeline turns a beat grid into the ordered, contiguous slots a
// montage is cut on.
package timeline

import (
	"fmt"

	"github.com/ivlev/beat2video/internal/montage"
)

// Options tune slot construction.
type Options struct {
	// BeatsPerClip groups this many beats into one slot.
	BeatsPerClip int
	// Jitter is the amplitude (fraction of slot duration, 0.05..0.10 is
	// typical) of the seeded per-slot trim variation. Slot bounds never move.
	Jitter float64
	Seed   int64
	// CoverLeadIn stretches the first slot back to 0 so the slots cover the
	// audio from its very start.
	CoverLeadIn bool
}

// Build partitions the beat grid into slots of BeatsPerClip beats, tagging
// each with the section that contains its midpoint.
func Build(grid montage.BeatGrid, structure montage.Structure, opts Options) ([]montage.Slot, error) {
	if opts.BeatsPerClip <= 0 {
		return nil, &montage.ConfigError{Field: "beats_per_clip", Reason: fmt.Sprintf("must be positive, got %d", opts.BeatsPerClip)}
	}
	if opts.Jitter < 0 || opts.Jitter > 0.5 {
		return nil, &montage.ConfigError{Field: "jitter", Reason: fmt.Sprintf("must be within [0, 0.5], got %g", opts.Jitter)}
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if err := structure.Validate(); err != nil {
		return nil, err
	}

	beats := grid.Beats
	n := len(beats)
	k := opts.BeatsPerClip
	count := (n + k - 1) / k
	mean := grid.MeanInterval()
	trackEnd := structure.Duration

	slots := make([]montage.Slot, 0, count)
	for i := 0; i < count; i++ {
		first := i * k
		start := beats[first]
		var end float64
		if first+k < n {
			end = beats[first+k]
		} else {
			// No following beat: extend by the mean interval for every beat
			// in the group, but never past the end of the track.
			end = start + mean*float64(n-first)
			if trackEnd > 0 && trackEnd < end {
				end = trackEnd
			}
		}
		if i == 0 && opts.CoverLeadIn {
			start = 0
		}
		if end-start <= montage.Epsilon {
			return nil, &montage.AnalysisInputError{Reason: fmt.Sprintf("slot %d has no duration (track ends at %.3fs, group starts at %.3fs)", i, trackEnd, start)}
		}

		slot := montage.Slot{
			Index:        i,
			Start:        start,
			Duration:     end - start,
			Section:      montage.SectionOther,
			SectionIndex: -1,
		}
		if idx := structure.SectionAt(slot.Midpoint()); idx >= 0 {
			slot.Section = structure.Sections[idx].Type
			slot.SectionIndex = idx
		}
		if opts.Jitter > 0 {
			r := montage.SlotRand(opts.Seed, montage.StreamJitter, i)
			slot.TrimJitter = (r.Float64()*2 - 1) * opts.Jitter
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// Span returns the start of the first slot and the end of the last one.
func Span(slots []montage.Slot) (start, end float64) {
	if len(slots) == 0 {
		return 0, 0
	}
	return slots[0].Start, slots[len(slots)-1].End()
}

// Verify checks the ordering and contiguity invariants of a slot sequence.
func Verify(slots []montage.Slot) error {
	for i, s := range slots {
		if s.Index != i {
			return fmt.Errorf("slot %d carries index %d", i, s.Index)
		}
		if s.Duration <= 0 {
			return fmt.Errorf("slot %d has non-positive duration %g", i, s.Duration)
		}
		if i > 0 {
			gap := s.Start - slots[i-1].End()
			if gap > 1e-6 || gap < -1e-6 {
				return fmt.Errorf("slot %d starts at %.6f but slot %d ends at %.6f", i, s.Start, i-1, slots[i-1].End())
			}
		}
	}
	return nil
}
