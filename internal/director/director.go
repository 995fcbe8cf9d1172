// Package director assigns clips to beat slots. It plans a query per slot,
// searches the catalog, relaxes the query when nothing fits and records how
// every choice was made.
package director

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivlev/beat2video/internal/catalog"
	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
)

// Director resolves slots strictly in order. Repetition and tie-break
// decisions depend on that order, so one Director plans one run at a time.
type Director struct {
	Catalog catalog.Catalog
	Planner *Planner
	Trim    TrimPolicy

	Seed                int64
	Order               []montage.Constraint
	MaxRelaxationLevels int
	CandidateLimit      int
	TieEpsilon          float64
	AvoidRepetition     bool
	RepetitionWindow    int
	Fallback            string
	PrefetchWindow      int
	PrefetchWorkers     int

	Logger   logging.Logger
	Recorder *metrics.Recorder
}

// NewDirector creates a Director from validated planning settings.
func NewDirector(cat catalog.Catalog, style config.Style, p config.Planning) (*Director, error) {
	if cat == nil {
		return nil, &montage.ConfigError{Field: "catalog", Reason: "no catalog configured"}
	}
	order, err := p.Order()
	if err != nil {
		return nil, err
	}
	d := &Director{
		Catalog:             cat,
		Planner:             NewPlanner(style),
		Trim:                TrimPolicy{Mode: p.Trim, Loop: p.LoopShortClips, Seed: p.SeedValue()},
		Seed:                p.SeedValue(),
		Order:               order,
		MaxRelaxationLevels: p.MaxRelaxationLevels,
		CandidateLimit:      p.CandidateLimit,
		TieEpsilon:          p.TieEpsilon,
		AvoidRepetition:     p.AvoidRepetition,
		RepetitionWindow:    p.RepetitionWindow,
		Fallback:            p.Fallback,
		PrefetchWindow:      p.PrefetchWindow,
		PrefetchWorkers:     p.PrefetchWorkers,
	}
	if d.CandidateLimit <= 0 {
		d.CandidateLimit = 20
	}
	if d.Fallback == "" {
		d.Fallback = config.FallbackReuseLast
	}
	return d, nil
}

// SetSeed changes the run seed for tie-breaks and trim offsets.
func (d *Director) SetSeed(seed int64) {
	d.Seed = seed
	d.Trim.Seed = seed
}

// Plan assigns a clip to every slot. Any error is returned as a
// *montage.FatalPlanningError and no assignments are produced.
func (d *Director) Plan(ctx context.Context, slots []montage.Slot, structure montage.Structure) (assignments []montage.Assignment, err error) {
	defer func() { d.Recorder.ObservePlan(err) }()
	log := logging.OrNop(d.Logger)

	if len(slots) == 0 {
		return nil, &montage.FatalPlanningError{SlotIndex: -1, Cause: &montage.AnalysisInputError{Reason: "no slots to plan"}}
	}

	queries := make([]montage.AestheticQuery, len(slots))
	for i, s := range slots {
		if s.Index != i {
			return nil, &montage.FatalPlanningError{SlotIndex: i, Cause: fmt.Errorf("slot index %d out of order", s.Index)}
		}
		queries[i] = d.Planner.Plan(s, structure.Energy)
		if !d.Trim.Loop {
			queries[i].MinDuration = s.Duration
		}
	}

	var pf *prefetcher
	if d.PrefetchWindow > 0 {
		wide := d.CandidateLimit
		if d.AvoidRepetition {
			wide += d.RepetitionWindow
		}
		pf = newPrefetcher(ctx, d.Catalog, queries, wide, d.PrefetchWindow, d.PrefetchWorkers)
		defer pf.close()
	}

	run := &planRun{
		Director: d,
		log:      log,
		guard:    NewRepetitionGuard(d.AvoidRepetition, d.RepetitionWindow),
		pf:       pf,
	}
	out := make([]montage.Assignment, 0, len(slots))
	for i, slot := range slots {
		if err := ctx.Err(); err != nil {
			return nil, &montage.FatalPlanningError{SlotIndex: i, Cause: err}
		}
		if pf != nil {
			pf.advance(i)
		}
		a, err := run.resolve(ctx, slot, queries[i])
		if err != nil {
			return nil, &montage.FatalPlanningError{SlotIndex: i, Cause: err}
		}
		run.guard.Register(a.Clip.ID, slot.Index)
		prev := a.Clip
		run.previous = &prev
		out = append(out, a)

		d.Recorder.ObserveAssignment(string(slot.Section), a.RelaxationLevel, a.Fallback)
		log.Info("slot %d %s %.3fs+%.3fs -> %s (%s) trim=%.3f/%.3f level=%d loop=%t fallback=%t",
			slot.Index, slot.Section, slot.Start, slot.Duration, a.Clip.ID, a.Clip.Filepath,
			a.TrimStart, a.TrimDuration, a.RelaxationLevel, a.Looped, a.Fallback)
	}
	return out, nil
}

// planRun is the state of one Plan call.
type planRun struct {
	*Director
	log      logging.Logger
	guard    *RepetitionGuard
	pf       *prefetcher
	previous *montage.Clip
}

func (r *planRun) resolve(ctx context.Context, slot montage.Slot, base montage.AestheticQuery) (montage.Assignment, error) {
	forbidden := r.guard.Forbidden(slot.Index)

	for level := 0; level <= r.MaxRelaxationLevels; level++ {
		q := base.Relax(r.Order, level)
		cands, err := r.search(ctx, slot, q, level, forbidden)
		if err != nil {
			return montage.Assignment{}, err
		}
		if c, ok := r.choose(slot, cands); ok {
			return r.assign(slot, c.Clip, c.Score, level, false), nil
		}
		r.log.Debug("slot %d: no viable candidate at relaxation level %d", slot.Index, level)
	}

	unfulfilled := &montage.UnfulfillableSlotError{
		Slot:          slot,
		LevelsTried:   r.MaxRelaxationLevels,
		FallbackTried: r.Fallback == config.FallbackReuseLast,
	}
	if r.Fallback != config.FallbackReuseLast || r.previous == nil || !r.Trim.Viable(*r.previous, slot) {
		return montage.Assignment{}, unfulfilled
	}
	r.log.Warn("slot %d: relaxation exhausted, reusing clip %s", slot.Index, r.previous.ID)
	return r.assign(slot, *r.previous, 0, r.MaxRelaxationLevels, true), nil
}

// search returns at most CandidateLimit candidates for q, none of them in
// forbidden. Level 0 uses the prefetched result when there is one.
func (r *planRun) search(ctx context.Context, slot montage.Slot, q montage.AestheticQuery, level int, forbidden []string) ([]montage.Candidate, error) {
	if level == 0 && r.pf != nil {
		if res, ok := r.pf.take(ctx, slot.Index); ok {
			if res.err == nil {
				return excludeAndLimit(res.candidates, forbidden, r.CandidateLimit), nil
			}
			if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("slot %d: prefetch failed, searching again: %v", slot.Index, res.err)
		}
	}
	cands, err := r.Catalog.Search(ctx, q, r.CandidateLimit, forbidden)
	if err != nil {
		return nil, fmt.Errorf("catalog search at relaxation level %d: %w", level, err)
	}
	return cands, nil
}

func excludeAndLimit(cands []montage.Candidate, forbidden []string, limit int) []montage.Candidate {
	skip := make(map[string]bool, len(forbidden))
	for _, id := range forbidden {
		skip[id] = true
	}
	out := make([]montage.Candidate, 0, limit)
	for _, c := range cands {
		if len(out) == limit {
			break
		}
		if !skip[c.Clip.ID] {
			out = append(out, c)
		}
	}
	return out
}

// choose drops candidates the guard or the trim policy rejects and picks
// the best one. Candidates whose score is within TieEpsilon of the best are
// tied; a draw seeded from (seed, slot) decides between them.
func (r *planRun) choose(slot montage.Slot, cands []montage.Candidate) (montage.Candidate, bool) {
	viable := make([]montage.Candidate, 0, len(cands))
	for _, c := range cands {
		if r.guard.Allows(c.Clip.ID, slot.Index) && r.Trim.Viable(c.Clip, slot) {
			viable = append(viable, c)
		}
	}
	if len(viable) == 0 {
		return montage.Candidate{}, false
	}
	montage.SortCandidates(viable)

	tied := 1
	for tied < len(viable) && viable[0].Score-viable[tied].Score <= r.TieEpsilon {
		tied++
	}
	if tied == 1 {
		return viable[0], true
	}
	rng := montage.SlotRand(r.Seed, montage.StreamTieBreak, slot.Index)
	return viable[rng.Intn(tied)], true
}

func (r *planRun) assign(slot montage.Slot, clip montage.Clip, score float64, level int, fallback bool) montage.Assignment {
	start, looped := r.Trim.Fit(clip, slot)
	return montage.Assignment{
		Slot:            slot,
		Clip:            clip,
		TrimStart:       start,
		TrimDuration:    slot.Duration,
		RelaxationLevel: level,
		Looped:          looped,
		Fallback:        fallback,
		Score:           score,
	}
}
