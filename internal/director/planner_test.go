package director

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/montage"
)

func f(v float64) *float64 { return &v }

func TestPlannerIntroCeilingIsCarriedVerbatim(t *testing.T) {
	style := config.Style{
		montage.SectionIntro: {Tags: []string{"religious", "low motion"}, MaxMotion: f(0.3)},
	}
	style.Normalize()
	slot := montage.Slot{Index: 0, Start: 0.47, Duration: 0.47, Section: montage.SectionIntro}
	energy := montage.EnergyCurve{{Time: 0, Value: 0.2}, {Time: 2, Value: 0.2}}

	q := NewPlanner(style).Plan(slot, energy)

	assert.Equal(t, []string{"low motion", "religious"}, q.Tags)
	require.NotNil(t, q.Motion)
	assert.Equal(t, montage.Range{Min: 0, Max: 0.3}, *q.Motion)
	assert.Nil(t, q.MotionTarget)
	assert.Nil(t, q.Silence)
	assert.Nil(t, q.EmbeddingHint)
}

func TestPlannerScalesMotionIntervalByEnergy(t *testing.T) {
	style := config.Style{montage.SectionDrop: {MinMotion: f(0.6), MaxMotion: f(1), MaxSilence: f(0.4)}}
	p := NewPlanner(style)
	slot := montage.Slot{Start: 10, Duration: 1, Section: montage.SectionDrop}

	tests := []struct {
		energy float64
		want   montage.Range
		target float64
	}{
		{energy: 0, want: montage.Range{Min: 0.6, Max: 0.8}, target: 0.6},
		{energy: 0.5, want: montage.Range{Min: 0.7, Max: 0.9}, target: 0.8},
		{energy: 1, want: montage.Range{Min: 0.8, Max: 1}, target: 1},
	}
	for _, tt := range tests {
		q := p.Plan(slot, montage.EnergyCurve{{Time: 0, Value: tt.energy}})
		require.NotNil(t, q.Motion)
		require.NotNil(t, q.MotionTarget)
		assert.InDelta(t, tt.want.Min, q.Motion.Min, 1e-9, "energy %g", tt.energy)
		assert.InDelta(t, tt.want.Max, q.Motion.Max, 1e-9, "energy %g", tt.energy)
		assert.InDelta(t, tt.target, *q.MotionTarget, 1e-9)
		assert.Equal(t, &montage.Range{Min: 0, Max: 0.4}, q.Silence)
	}
}

func TestPlannerFloorAndMissingSection(t *testing.T) {
	style := config.Style{montage.SectionDrop: {Tags: []string{"authority"}, MinMotion: f(0.6)}}
	p := NewPlanner(style)

	q := p.Plan(montage.Slot{Duration: 1, Section: montage.SectionDrop}, nil)
	assert.Equal(t, &montage.Range{Min: 0.6, Max: 1}, q.Motion)

	q = p.Plan(montage.Slot{Duration: 1, Section: montage.SectionOther}, nil)
	assert.Equal(t, montage.AestheticQuery{}, q)
}

func TestPlannerCarriesEmbeddingAndIsPure(t *testing.T) {
	style := config.Style{montage.SectionOutro: {Embedding: []float32{0.1, 0.9}, MinSimilarity: 0.4, MinMotion: f(0), MaxMotion: f(0.4)}}
	p := NewPlanner(style)
	slot := montage.Slot{Index: 3, Start: 4, Duration: 2, Section: montage.SectionOutro}
	energy := montage.EnergyCurve{{Time: 0, Value: 0}, {Time: 10, Value: 1}}

	a := p.Plan(slot, energy)
	b := p.Plan(slot, energy)
	assert.Equal(t, a, b)
	assert.Equal(t, []float32{0.1, 0.9}, a.EmbeddingHint)
	assert.Equal(t, 0.4, a.MinSimilarity)
	assert.InDelta(t, 0.2, *a.MotionTarget, 1e-9)

	a.EmbeddingHint[0] = 5
	assert.Equal(t, float32(0.1), style[montage.SectionOutro].Embedding[0], "plan must not alias the style table")
}
