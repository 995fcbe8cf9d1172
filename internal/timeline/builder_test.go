package timeline

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/beat2video/internal/montage"
)

func TestBuildExampleGrid(t *testing.T) {
	grid := montage.BeatGrid{BPM: 132, Beats: []float64{0.47, 0.94, 1.41, 1.88}}
	structure := montage.Structure{Sections: []montage.Section{
		{Type: montage.SectionIntro, Start: 0, End: 1.41},
		{Type: montage.SectionDrop, Start: 1.41, End: 3},
	}}

	slots, err := Build(grid, structure, Options{BeatsPerClip: 1})
	require.NoError(t, err)
	require.Len(t, slots, 4)

	for _, s := range slots {
		assert.InDelta(t, 0.47, s.Duration, 1e-9, "slot %d", s.Index)
	}
	assert.Equal(t, montage.SectionIntro, slots[0].Section)
	assert.Equal(t, montage.SectionIntro, slots[1].Section)
	assert.Equal(t, montage.SectionDrop, slots[2].Section)
	assert.Equal(t, montage.SectionDrop, slots[3].Section)
	require.NoError(t, Verify(slots))
}

func TestBuildSlotCountAndCoverage(t *testing.T) {
	beats := make([]float64, 0, 37)
	for i := 0; i < 37; i++ {
		beats = append(beats, 0.5+float64(i)*0.5+0.01*math.Sin(float64(i)))
	}
	grid := montage.BeatGrid{BPM: 120, Beats: beats}

	for k := 1; k <= 6; k++ {
		slots, err := Build(grid, montage.Structure{}, Options{BeatsPerClip: k, Jitter: 0.08, Seed: 7})
		require.NoError(t, err)
		assert.Len(t, slots, (len(beats)+k-1)/k, "k=%d", k)
		require.NoError(t, Verify(slots))

		start, end := Span(slots)
		assert.InDelta(t, beats[0], start, 1e-9)
		groupStart := beats[(len(slots)-1)*k]
		expectedEnd := groupStart + grid.MeanInterval()*float64(len(beats)-(len(slots)-1)*k)
		assert.InDelta(t, expectedEnd, end, 1e-6, "k=%d", k)

		total := 0.0
		for _, s := range slots {
			total += s.Duration
			assert.LessOrEqual(t, math.Abs(s.TrimJitter), 0.08)
		}
		assert.InDelta(t, end-start, total, 1e-6)
	}
}

func TestBuildTruncatesToTrackEnd(t *testing.T) {
	grid := montage.BeatGrid{BPM: 60, Beats: []float64{0, 1, 2, 3}}
	slots, err := Build(grid, montage.Structure{Duration: 3.4}, Options{BeatsPerClip: 1})
	require.NoError(t, err)
	require.Len(t, slots, 4)
	assert.InDelta(t, 0.4, slots[3].Duration, 1e-9)

	slots, err = Build(grid, montage.Structure{Duration: 10}, Options{BeatsPerClip: 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, slots[3].Duration, 1e-9, "mean interval is shorter than the remaining track")
}

func TestBuildCoverLeadIn(t *testing.T) {
	grid := montage.BeatGrid{BPM: 132, Beats: []float64{0.47, 0.94, 1.41, 1.88}}
	slots, err := Build(grid, montage.Structure{Duration: 2.35}, Options{BeatsPerClip: 1, CoverLeadIn: true})
	require.NoError(t, err)
	assert.Zero(t, slots[0].Start)
	assert.InDelta(t, 0.94, slots[0].Duration, 1e-9)

	start, end := Span(slots)
	assert.InDelta(t, 2.35, end-start, 1e-6)
}

func TestBuildGapsBecomeOther(t *testing.T) {
	grid := montage.BeatGrid{BPM: 60, Beats: []float64{0, 1, 2, 3, 4}}
	structure := montage.Structure{Sections: []montage.Section{
		{Type: montage.SectionDrop, Start: 1, End: 3},
	}}
	slots, err := Build(grid, structure, Options{BeatsPerClip: 1})
	require.NoError(t, err)
	assert.Equal(t, montage.SectionOther, slots[0].Section)
	assert.Equal(t, -1, slots[0].SectionIndex)
	assert.Equal(t, montage.SectionDrop, slots[1].Section)
	assert.Equal(t, montage.SectionOther, slots[4].Section)
}

func TestBuildJitterIsDeterministic(t *testing.T) {
	grid := montage.BeatGrid{BPM: 60, Beats: []float64{0, 1, 2, 3, 4, 5}}
	a, err := Build(grid, montage.Structure{}, Options{BeatsPerClip: 2, Jitter: 0.1, Seed: 42})
	require.NoError(t, err)
	b, err := Build(grid, montage.Structure{}, Options{BeatsPerClip: 2, Jitter: 0.1, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Build(grid, montage.Structure{}, Options{BeatsPerClip: 2, Jitter: 0.1, Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, a[0].TrimJitter, c[0].TrimJitter)
	for i := range a {
		assert.Equal(t, a[i].Start, c[i].Start, "jitter never moves slot bounds")
		assert.Equal(t, a[i].Duration, c[i].Duration)
	}
}

func TestBuildErrors(t *testing.T) {
	var ae *montage.AnalysisInputError
	_, err := Build(montage.BeatGrid{Beats: []float64{1}}, montage.Structure{}, Options{BeatsPerClip: 1})
	assert.True(t, errors.As(err, &ae))

	_, err = Build(montage.BeatGrid{Beats: []float64{0, 1, 2}}, montage.Structure{Duration: 2}, Options{BeatsPerClip: 1})
	assert.True(t, errors.As(err, &ae), "last beat at the very end of the track leaves an empty slot")

	var ce *montage.ConfigError
	_, err = Build(montage.BeatGrid{Beats: []float64{0, 1}}, montage.Structure{}, Options{BeatsPerClip: 0})
	assert.True(t, errors.As(err, &ce))
}
