package montage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeatGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		beats   []float64
		wantErr bool
	}{
		{"ok", []float64{0.47, 0.94, 1.41}, false},
		{"empty", nil, true},
		{"single", []float64{1}, true},
		{"not increasing", []float64{0, 1, 1}, true},
		{"negative", []float64{-1, 0.5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BeatGrid{BPM: 120, Beats: tt.beats}.Validate()
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var ae *AnalysisInputError
			require.True(t, errors.As(err, &ae), "got %v", err)
		})
	}
}

func TestStructureSectionAt(t *testing.T) {
	s := Structure{Sections: []Section{
		{Type: SectionIntro, Start: 0, End: 10},
		{Type: SectionDrop, Start: 10, End: 20},
		{Type: SectionOutro, Start: 25, End: 30},
	}}
	require.NoError(t, s.Validate())

	assert.Equal(t, 0, s.SectionAt(5))
	assert.Equal(t, 1, s.SectionAt(15))
	assert.Equal(t, -1, s.SectionAt(22), "gap between drop and outro")
	assert.Equal(t, 2, s.SectionAt(30))
	assert.Equal(t, -1, s.SectionAt(31))
}

func TestStructureValidateRejectsOverlap(t *testing.T) {
	s := Structure{Sections: []Section{
		{Type: SectionIntro, Start: 0, End: 10},
		{Type: SectionDrop, Start: 9, End: 20},
	}}
	var ae *AnalysisInputError
	assert.True(t, errors.As(s.Validate(), &ae))
}

func TestEnergyCurveAt(t *testing.T) {
	c := EnergyCurve{{Time: 0, Value: 0}, {Time: 2, Value: 1}, {Time: 4, Value: 0.5}}

	assert.InDelta(t, 0.0, c.At(-1), 1e-9)
	assert.InDelta(t, 0.5, c.At(1), 1e-9)
	assert.InDelta(t, 1.0, c.At(2), 1e-9)
	assert.InDelta(t, 0.75, c.At(3), 1e-9)
	assert.InDelta(t, 0.5, c.At(10), 1e-9)
	assert.InDelta(t, 0.5, EnergyCurve(nil).At(3), 1e-9)
}

func TestParseSectionType(t *testing.T) {
	assert.Equal(t, SectionDrop, ParseSectionType("DROP"))
	assert.Equal(t, SectionOther, ParseSectionType("verse"))
	assert.True(t, SectionBreakdown.Valid())
	assert.False(t, SectionType("verse").Valid())
}
