package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ivlev/beat2video/internal/analysis"
	"github.com/ivlev/beat2video/internal/catalog"
	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/director"
	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/system"
	"github.com/ivlev/beat2video/internal/timeline"
	"github.com/ivlev/beat2video/internal/video"
)

// MontageProject runs analysis, planning, the scenario write and rendering
// for one track.
type MontageProject struct {
	Config   *config.Config
	Analyzer analysis.Analyzer
	Catalog  catalog.Catalog
	// Renderer is optional; without one Run stops after writing the plan.
	Renderer video.Renderer

	Logger   logging.Logger
	Recorder *metrics.Recorder
	Gatherer prometheus.Gatherer
	Out      io.Writer
	RunID    string

	// ProbeDuration measures the track when the analysis leaves the
	// duration unset.
	ProbeDuration func(path string) (float64, error)

	stats Stats
}

// Stats are the timings and outcome counts of the last run.
type Stats struct {
	Slots     int
	Relaxed   int
	Fallbacks int
	Looped    int
	Seed      int64

	Analysis time.Duration
	Planning time.Duration
	Render   time.Duration
	Total    time.Duration
}

func NewMontageProject(cfg *config.Config, an analysis.Analyzer, cat catalog.Catalog, r video.Renderer) *MontageProject {
	return &MontageProject{
		Config:        cfg,
		Analyzer:      an,
		Catalog:       cat,
		Renderer:      r,
		Logger:        logging.Nop(),
		Out:           os.Stdout,
		RunID:         uuid.NewString(),
		ProbeDuration: system.GetMediaDuration,
	}
}

func (p *MontageProject) Stats() Stats { return p.stats }

func (p *MontageProject) printf(format string, args ...any) {
	if p.Out != nil {
		fmt.Fprintf(p.Out, format, args...)
	}
}

// ScenarioPath is where the plan of this run is written.
func (p *MontageProject) ScenarioPath() string {
	if p.Config.ScenarioPath != "" {
		return p.Config.ScenarioPath
	}
	return director.ScenarioPathFor(p.Config.OutputVideo)
}

// Run plans the montage, writes the scenario and renders it when a
// renderer is set. A planning failure leaves no scenario behind.
func (p *MontageProject) Run(ctx context.Context) error {
	start := time.Now()
	p.stats = Stats{}

	scenario, err := p.Plan(ctx)
	if err != nil {
		return err
	}
	scenarioPath := p.ScenarioPath()
	if err := director.WriteScenario(scenario, scenarioPath); err != nil {
		return fmt.Errorf("write scenario: %w", err)
	}
	p.printf("[*] Plan written: %s\n", scenarioPath)

	if p.Renderer != nil {
		if err := p.render(ctx, scenario); err != nil {
			return err
		}
	}
	p.stats.Total = time.Since(start)
	p.report()
	return nil
}

// Plan analyzes the track and assigns a clip to every slot.
func (p *MontageProject) Plan(ctx context.Context) (*director.Scenario, error) {
	cfg := p.Config
	logger := logging.OrNop(p.Logger)

	t0 := time.Now()
	res, err := p.Analyzer.Analyze(ctx, cfg.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("analysis of %s: %w", cfg.AudioPath, err)
	}
	if res.Structure.Duration == 0 && p.ProbeDuration != nil {
		if d, err := p.ProbeDuration(cfg.AudioPath); err != nil {
			logger.Warn("track duration unknown, last slot uses the mean beat interval: %v", err)
		} else {
			res.Structure.Duration = d
		}
	}
	p.stats.Analysis = time.Since(t0)

	seed := p.resolveSeed()
	p.stats.Seed = seed

	p.printf("--- [PROJECT: BEAT MONTAGE] ---\n")
	p.printf("[*] Track: %s | BPM: %.1f | Beats: %d | Sections: %d\n",
		cfg.AudioPath, res.Grid.BPM, len(res.Grid.Beats), len(res.Structure.Sections))

	slots, err := timeline.Build(res.Grid, res.Structure, timeline.Options{
		BeatsPerClip: cfg.Planning.BeatsPerClip,
		Jitter:       cfg.Planning.Jitter,
		Seed:         seed,
		CoverLeadIn:  cfg.Planning.CoverLeadIn,
	})
	if err != nil {
		return nil, err
	}
	if err := timeline.Verify(slots); err != nil {
		return nil, fmt.Errorf("slot timeline: %w", err)
	}
	from, to := timeline.Span(slots)
	p.printf("[*] Slots: %d x %d beat(s) covering %.2f-%.2fs | Seed: %d\n",
		len(slots), cfg.Planning.BeatsPerClip, from, to, seed)

	dir, err := director.NewDirector(p.Catalog, cfg.Style, cfg.Planning)
	if err != nil {
		return nil, err
	}
	dir.SetSeed(seed)
	dir.PrefetchWorkers = system.ResolveWorkers(cfg.Planning.PrefetchWorkers)
	dir.Logger = logger
	dir.Recorder = p.Recorder

	t1 := time.Now()
	assignments, err := dir.Plan(ctx, slots, res.Structure)
	if err != nil {
		return nil, err
	}
	p.stats.Planning = time.Since(t1)

	scenario := director.NewScenario(p.RunID, seed, cfg.AudioPath, assignments)
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("planned scenario is inconsistent: %w", err)
	}
	p.count(scenario)
	p.printf("[*] Planned %d slots: %d relaxed, %d fallback, %d looped\n",
		p.stats.Slots, p.stats.Relaxed, p.stats.Fallbacks, p.stats.Looped)
	return scenario, nil
}

// resolveSeed returns the configured seed or picks one from the clock. The
// chosen value is recorded in the scenario so the run can be repeated.
func (p *MontageProject) resolveSeed() int64 {
	if p.Config.Planning.Seed != nil {
		return *p.Config.Planning.Seed
	}
	return time.Now().UnixNano()
}

func (p *MontageProject) count(s *director.Scenario) {
	p.stats.Slots = len(s.Records)
	for _, r := range s.Records {
		if r.RelaxationLevel > 0 {
			p.stats.Relaxed++
		}
		if r.Fallback {
			p.stats.Fallbacks++
		}
		if r.Looped {
			p.stats.Looped++
		}
	}
}

// RenderScenario renders a previously written plan.
func (p *MontageProject) RenderScenario(ctx context.Context, path string) error {
	if p.Renderer == nil {
		return fmt.Errorf("no renderer configured")
	}
	start := time.Now()
	p.stats = Stats{}
	scenario, err := director.ReadScenario(path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	p.printf("[*] Using plan: %s (run %s, seed %d)\n", path, scenario.RunID, scenario.Seed)
	p.count(scenario)
	p.stats.Seed = scenario.Seed
	if err := p.render(ctx, scenario); err != nil {
		return err
	}
	p.stats.Total = time.Since(start)
	p.report()
	return nil
}

func (p *MontageProject) render(ctx context.Context, scenario *director.Scenario) error {
	audio := p.Config.AudioPath
	if audio == "" {
		audio = scenario.Audio
	}
	p.printf("[*] Rendering %d segments at %dx%d @ %d FPS...\n",
		len(scenario.Records), p.Config.Render.Width, p.Config.Render.Height, p.Config.Render.FPS)
	t := time.Now()
	if err := p.Renderer.Render(ctx, scenario, audio, p.Config.OutputVideo); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	p.stats.Render = time.Since(t)
	p.printf("[+++] Done: %s\n", p.Config.OutputVideo)
	return nil
}

func (p *MontageProject) report() {
	logger := logging.OrNop(p.Logger)
	if p.Config.MetricsPath != "" && p.Gatherer != nil {
		if err := metrics.WriteTextfile(p.Config.MetricsPath, p.Gatherer); err != nil {
			logger.Warn("could not write metrics to %s: %v", p.Config.MetricsPath, err)
		}
	}
	if !p.Config.ShowStats {
		return
	}
	s := p.stats
	p.printf("--- [PERFORMANCE REPORT] ---\n"+
		"Build: %s\n"+
		"Run: %s\n"+
		"System: %s\n"+
		"Total Time: %.2fs\n"+
		"Analysis: %.2fs\n"+
		"Planning: %.2fs\n"+
		"Rendering: %.2fs\n"+
		"Slots: %d (relaxed %d, fallback %d, looped %d)\n"+
		"----------------------------\n",
		p.Config.BuildVersion, p.RunID, system.Describe(), s.Total.Seconds(), s.Analysis.Seconds(),
		s.Planning.Seconds(), s.Render.Seconds(), s.Slots, s.Relaxed, s.Fallbacks, s.Looped)

	entry := fmt.Sprintf("[%s] Build: %s | Audio: %s | Seed: %d | Slots: %d | Total: %.2fs | Plan: %.2fs | Render: %.2fs\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion,
		filepath.Base(p.Config.AudioPath),
		s.Seed,
		s.Slots,
		s.Total.Seconds(),
		s.Planning.Seconds(),
		s.Render.Seconds(),
	)
	logPath := filepath.Join(filepath.Dir(p.Config.OutputVideo), "benchmark.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.printf("[!] Could not write %s: %v\n", logPath, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		p.printf("[!] Could not write %s: %v\n", logPath, err)
	}
}
