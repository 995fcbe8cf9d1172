package director

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/beat2video/internal/catalog"
	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
	"github.com/ivlev/beat2video/internal/timeline"
)

// countingCatalog records every search and can inject failures.
type countingCatalog struct {
	next catalog.Catalog
	fail func(q montage.AestheticQuery, limit int, excluded []string) error

	mu     sync.Mutex
	limits []int
}

func (c *countingCatalog) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	c.mu.Lock()
	c.limits = append(c.limits, limit)
	c.mu.Unlock()
	if c.fail != nil {
		if err := c.fail(q, limit, excluded); err != nil {
			return nil, err
		}
	}
	return c.next.Search(ctx, q, limit, excluded)
}

func (c *countingCatalog) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limits)
}

func (c *countingCatalog) callsWithLimit(limit int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.limits {
		if l == limit {
			n++
		}
	}
	return n
}

func library() []montage.Clip {
	tagSets := [][]string{
		{"low motion", "religious"},
		{"authority", "night vision"},
		{"surveillance"},
		{"low motion"},
		{"low motion", "surveillance"},
	}
	clips := make([]montage.Clip, 0, 40)
	for i := 0; i < 40; i++ {
		clips = append(clips, montage.Clip{
			ID:           fmt.Sprintf("clip%02d", i),
			Filepath:     fmt.Sprintf("/clips/clip%02d.mp4", i),
			Duration:     0.4 + float64(i%5)*0.6,
			Tags:         tagSets[i%len(tagSets)],
			MotionScore:  float64((i*37)%100) / 100,
			SilenceRatio: float64((i*53)%100) / 100,
		})
	}
	return clips
}

func track(t *testing.T) ([]montage.Slot, montage.Structure) {
	t.Helper()
	beats := make([]float64, 32)
	for i := range beats {
		beats[i] = 0.25 + float64(i)*0.5
	}
	structure := montage.Structure{
		Sections: []montage.Section{
			{Type: montage.SectionIntro, Start: 0, End: 4},
			{Type: montage.SectionDrop, Start: 4, End: 10},
			{Type: montage.SectionBreakdown, Start: 10, End: 13},
			{Type: montage.SectionOutro, Start: 13, End: 16.5},
		},
		Energy: montage.EnergyCurve{
			{Time: 0, Value: 0.1}, {Time: 4, Value: 0.9}, {Time: 10, Value: 0.3}, {Time: 16.5, Value: 0},
		},
		Duration: 16.5,
	}
	slots, err := timeline.Build(montage.BeatGrid{BPM: 120, Beats: beats}, structure, timeline.Options{
		BeatsPerClip: 1, Jitter: 0.08, Seed: 42, CoverLeadIn: true,
	})
	require.NoError(t, err)
	return slots, structure
}

func newTestDirector(t *testing.T, cat catalog.Catalog, style config.Style, mutate func(p *config.Planning)) *Director {
	t.Helper()
	p := config.Default().Planning
	seed := int64(42)
	p.Seed = &seed
	p.PrefetchWindow = 0
	if mutate != nil {
		mutate(&p)
	}
	d, err := NewDirector(cat, style, p)
	require.NoError(t, err)
	return d
}

func flatSlots(n int, dur float64, section montage.SectionType) []montage.Slot {
	slots := make([]montage.Slot, n)
	for i := range slots {
		slots[i] = montage.Slot{Index: i, Start: float64(i) * dur, Duration: dur, Section: section}
	}
	return slots
}

func TestPlanIsDeterministicForSeed(t *testing.T) {
	slots, structure := track(t)
	run := func(seed int64) *Scenario {
		d := newTestDirector(t, catalog.NewMemory(library()), config.DefaultStyle(), func(p *config.Planning) {
			p.Seed = &seed
			p.LoopShortClips = true
		})
		out, err := d.Plan(context.Background(), slots, structure)
		require.NoError(t, err)
		require.Len(t, out, len(slots))
		return NewScenario("run", seed, "track.wav", out)
	}

	first, second := run(42), run(42)
	assert.Equal(t, first, second)
	require.NoError(t, first.Validate())

	other := run(7)
	assert.NotEqual(t, first.Records, other.Records)
}

func TestPlanHonoursRepetitionWindow(t *testing.T) {
	clips := library()[:10]
	for i := range clips {
		clips[i].Duration = 5
	}
	d := newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) {
		p.RepetitionWindow = 4
	})
	slots := flatSlots(40, 0.5, montage.SectionOther)

	out, err := d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	for i := range out {
		assert.False(t, out[i].Fallback)
		for j := i + 1; j < i+4 && j < len(out); j++ {
			assert.NotEqual(t, out[i].Clip.ID, out[j].Clip.ID, "slots %d and %d", i, j)
		}
	}
}

func TestPlanTerminatesAfterRPlusOneAttempts(t *testing.T) {
	for _, fallback := range []string{config.FallbackNone, config.FallbackReuseLast} {
		t.Run(fallback, func(t *testing.T) {
			cat := &countingCatalog{next: catalog.NewMemory(nil)}
			d := newTestDirector(t, cat, config.DefaultStyle(), func(p *config.Planning) {
				p.MaxRelaxationLevels = 3
				p.Fallback = fallback
			})

			out, err := d.Plan(context.Background(), flatSlots(4, 0.5, montage.SectionIntro), montage.Structure{})
			assert.Nil(t, out)

			var fatal *montage.FatalPlanningError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, 0, fatal.SlotIndex)
			var unfulfilled *montage.UnfulfillableSlotError
			require.ErrorAs(t, err, &unfulfilled)
			assert.Equal(t, 3, unfulfilled.LevelsTried)
			assert.Equal(t, fallback == config.FallbackReuseLast, unfulfilled.FallbackTried)
			assert.Equal(t, 4, cat.calls())
		})
	}
}

func TestPlanRelaxesInConfiguredOrder(t *testing.T) {
	style := config.Style{montage.SectionIntro: {Tags: []string{"religious"}, MaxSilence: f(0.1)}}
	clips := []montage.Clip{{ID: "church", Filepath: "/c.mp4", Duration: 3, Tags: []string{"religious"}, SilenceRatio: 0.5}}
	slots := flatSlots(1, 1, montage.SectionIntro)

	d := newTestDirector(t, catalog.NewMemory(clips), style, nil)
	out, err := d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	assert.Equal(t, 2, out[0].RelaxationLevel, "embedding is dropped first, then silence")

	d = newTestDirector(t, catalog.NewMemory(clips), style, func(p *config.Planning) {
		p.RelaxationOrder = []string{"silence", "embedding", "motion", "tags"}
	})
	out, err = d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	assert.Equal(t, 1, out[0].RelaxationLevel)

	d = newTestDirector(t, catalog.NewMemory(clips), style, func(p *config.Planning) {
		p.MaxRelaxationLevels = 1
		p.Fallback = config.FallbackNone
	})
	_, err = d.Plan(context.Background(), slots, montage.Structure{})
	var unfulfilled *montage.UnfulfillableSlotError
	assert.ErrorAs(t, err, &unfulfilled)
}

func TestPlanFallsBackToPreviousClip(t *testing.T) {
	clips := []montage.Clip{{ID: "only", Filepath: "/only.mp4", Duration: 10}}
	slots := flatSlots(3, 1, montage.SectionOther)

	d := newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) {
		p.RepetitionWindow = 3
	})
	out, err := d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.False(t, out[0].Fallback)
	assert.Equal(t, 0, out[0].RelaxationLevel)
	for _, a := range out[1:] {
		assert.Equal(t, "only", a.Clip.ID)
		assert.True(t, a.Fallback)
		assert.Equal(t, d.MaxRelaxationLevels, a.RelaxationLevel)
	}

	d = newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) {
		p.RepetitionWindow = 3
		p.Fallback = config.FallbackNone
	})
	_, err = d.Plan(context.Background(), slots, montage.Structure{})
	var fatal *montage.FatalPlanningError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, fatal.SlotIndex)
	assert.Contains(t, err.Error(), "slot 1")
}

func TestPlanSkipsShortClipsUnlessLooping(t *testing.T) {
	clips := []montage.Clip{
		{ID: "a-short", Filepath: "/a.mp4", Duration: 0.2},
		{ID: "b-long", Filepath: "/b.mp4", Duration: 4},
	}
	slots := flatSlots(1, 0.5, montage.SectionOther)

	d := newTestDirector(t, catalog.NewMemory(clips[:1]), config.Style{}, func(p *config.Planning) {
		p.Fallback = config.FallbackNone
	})
	_, err := d.Plan(context.Background(), slots, montage.Structure{})
	require.Error(t, err)

	d = newTestDirector(t, catalog.NewMemory(clips[:1]), config.Style{}, func(p *config.Planning) {
		p.LoopShortClips = true
	})
	out, err := d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	assert.True(t, out[0].Looped)
	assert.Equal(t, 0.5, out[0].TrimDuration)

	d = newTestDirector(t, catalog.NewMemory(clips), config.Style{}, nil)
	out, err = d.Plan(context.Background(), slots, montage.Structure{})
	require.NoError(t, err)
	assert.Equal(t, "b-long", out[0].Clip.ID)
	assert.LessOrEqual(t, out[0].TrimStart+out[0].TrimDuration, 4.0)
}

func TestPlanSearchesPastShortClips(t *testing.T) {
	var clips []montage.Clip
	for i := 0; i < 25; i++ {
		clips = append(clips, montage.Clip{ID: fmt.Sprintf("a%02d", i), Filepath: "/a.mp4", Duration: 0.2})
	}
	for i := 0; i < 10; i++ {
		clips = append(clips, montage.Clip{ID: fmt.Sprintf("z%02d", i), Filepath: "/z.mp4", Duration: 5})
	}

	for _, window := range []int{0, 3} {
		t.Run(fmt.Sprintf("prefetch=%d", window), func(t *testing.T) {
			d := newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) {
				p.RepetitionWindow = 4
				p.Fallback = config.FallbackNone
				p.PrefetchWindow = window
			})
			require.Equal(t, 20, d.CandidateLimit)

			out, err := d.Plan(context.Background(), flatSlots(12, 0.5, montage.SectionOther), montage.Structure{})
			require.NoError(t, err)
			require.Len(t, out, 12)
			for i, a := range out {
				assert.Equal(t, 5.0, a.Clip.Duration, "slot %d", i)
				assert.Equal(t, 0, a.RelaxationLevel)
				assert.False(t, a.Looped)
				for j := i + 1; j < i+4 && j < len(out); j++ {
					assert.NotEqual(t, a.Clip.ID, out[j].Clip.ID)
				}
			}
		})
	}
}

func TestPlanBreaksTiesWithSeed(t *testing.T) {
	clips := make([]montage.Clip, 6)
	for i := range clips {
		clips[i] = montage.Clip{ID: fmt.Sprintf("tie%d", i), Filepath: "/t.mp4", Duration: 2}
	}
	slots := flatSlots(24, 1, montage.SectionOther)
	pick := func(seed int64) []string {
		d := newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) {
			p.Seed = &seed
			p.AvoidRepetition = false
		})
		out, err := d.Plan(context.Background(), slots, montage.Structure{})
		require.NoError(t, err)
		ids := make([]string, len(out))
		for i, a := range out {
			ids[i] = a.Clip.ID
		}
		return ids
	}

	a := pick(42)
	assert.Equal(t, a, pick(42))
	assert.NotEqual(t, a, pick(1))

	distinct := map[string]bool{}
	for _, id := range a {
		distinct[id] = true
	}
	assert.Greater(t, len(distinct), 1, "ties must not always resolve to the lowest id")
}

func TestPlanPrefersHigherScore(t *testing.T) {
	style := config.Style{montage.SectionDrop: {MinMotion: f(0), MaxMotion: f(1)}}
	clips := []montage.Clip{
		{ID: "calm", Filepath: "/calm.mp4", Duration: 2, MotionScore: 0.5},
		{ID: "wild", Filepath: "/wild.mp4", Duration: 2, MotionScore: 0.95},
	}
	slots := flatSlots(1, 1, montage.SectionDrop)
	energy := montage.Structure{Energy: montage.EnergyCurve{{Time: 0, Value: 1}}}

	d := newTestDirector(t, catalog.NewMemory(clips), style, nil)
	out, err := d.Plan(context.Background(), slots, energy)
	require.NoError(t, err)
	assert.Equal(t, "wild", out[0].Clip.ID)
	assert.InDelta(t, 0.475, out[0].Score, 1e-9)
}

func TestPrefetchMatchesSequentialPlanning(t *testing.T) {
	slots, structure := track(t)
	plan := func(window int, cat catalog.Catalog) []montage.Assignment {
		d := newTestDirector(t, cat, config.DefaultStyle(), func(p *config.Planning) {
			p.PrefetchWindow = window
			p.PrefetchWorkers = 3
			p.LoopShortClips = true
			p.CandidateLimit = 3
		})
		out, err := d.Plan(context.Background(), slots, structure)
		require.NoError(t, err)
		return out
	}

	sequential := plan(0, catalog.NewMemory(library()))

	counted := &countingCatalog{next: catalog.NewMemory(library())}
	assert.Equal(t, sequential, plan(4, counted))
	assert.Equal(t, len(slots), counted.callsWithLimit(3+8), "one wide prefetch per slot")

	// Failed prefetches are searched again synchronously.
	flaky := &countingCatalog{
		next: catalog.NewMemory(library()),
		fail: func(_ montage.AestheticQuery, limit int, _ []string) error {
			if limit > 3 {
				return errors.New("prefetch lost")
			}
			return nil
		},
	}
	assert.Equal(t, sequential, plan(2, flaky))
}

func TestPlanEscalatesCatalogFailure(t *testing.T) {
	boom := errors.New("catalog offline")
	cat := &countingCatalog{
		next: catalog.NewMemory(library()),
		fail: func(montage.AestheticQuery, int, []string) error { return boom },
	}
	d := newTestDirector(t, cat, config.DefaultStyle(), func(p *config.Planning) { p.PrefetchWindow = 3 })
	slots, structure := track(t)

	_, err := d.Plan(context.Background(), slots, structure)
	var fatal *montage.FatalPlanningError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 0, fatal.SlotIndex)
	assert.ErrorIs(t, err, boom)
}

func TestPlanStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := newTestDirector(t, catalog.NewMemory(library()), config.DefaultStyle(), nil)
	slots, structure := track(t)

	_, err := d.Plan(ctx, slots, structure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlanRejectsBadSlots(t *testing.T) {
	d := newTestDirector(t, catalog.NewMemory(library()), config.Style{}, nil)
	_, err := d.Plan(context.Background(), nil, montage.Structure{})
	var input *montage.AnalysisInputError
	assert.ErrorAs(t, err, &input)

	slots := flatSlots(2, 1, montage.SectionOther)
	slots[1].Index = 5
	_, err = d.Plan(context.Background(), slots, montage.Structure{})
	var fatal *montage.FatalPlanningError
	assert.ErrorAs(t, err, &fatal)
}

func TestPlanRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New("test", reg)
	require.NoError(t, err)

	clips := []montage.Clip{{ID: "only", Filepath: "/only.mp4", Duration: 10}}
	d := newTestDirector(t, catalog.NewMemory(clips), config.Style{}, func(p *config.Planning) { p.RepetitionWindow = 2 })
	d.Recorder = rec
	_, err = d.Plan(context.Background(), flatSlots(3, 1, montage.SectionOther), montage.Structure{})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				values[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["test_slot_assignments_total"])
	assert.Equal(t, 2.0, values["test_slot_fallbacks_total"])
	assert.Equal(t, 1.0, values["test_plans_total"])
}

func TestNewDirectorValidates(t *testing.T) {
	_, err := NewDirector(nil, config.Style{}, config.Default().Planning)
	var ce *montage.ConfigError
	assert.ErrorAs(t, err, &ce)

	p := config.Default().Planning
	p.RelaxationOrder = []string{"colour"}
	_, err = NewDirector(catalog.NewMemory(nil), config.Style{}, p)
	assert.ErrorAs(t, err, &ce)
}
