package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/ivlev/beat2video/internal/montage"
)

// Fallback policies applied when every relaxation level comes back empty.
const (
	FallbackReuseLast = "reuse-last"
	FallbackNone      = "none"
)

// Frame fit modes for clips whose aspect differs from the output.
const (
	FitCover   = "cover"
	FitContain = "contain"
)

// Trim offset policies for clips longer than their slot.
const (
	TrimRandom = "random"
	TrimStart  = "start"
)

type Config struct {
	AudioPath    string `yaml:"audio"`
	AnalysisPath string `yaml:"analysis"`
	OutputVideo  string `yaml:"output"`
	ScenarioPath string `yaml:"scenario"`

	Planning Planning `yaml:"planning"`
	Style    Style    `yaml:"style"`
	Catalog  Catalog  `yaml:"catalog"`
	Analyzer Analyzer `yaml:"analyzer"`
	Render   Render   `yaml:"render"`
	Log      Log      `yaml:"log"`

	ShowStats    bool   `yaml:"show_stats"`
	MetricsPath  string `yaml:"metrics"`
	BuildVersion string `yaml:"-"`
}

// Planning holds the values the assignment engine consumes.
type Planning struct {
	BeatsPerClip        int      `yaml:"beats_per_clip"`
	Seed                *int64   `yaml:"seed"`
	AvoidRepetition     bool     `yaml:"avoid_repetition"`
	RepetitionWindow    int      `yaml:"repetition_window"`
	MaxRelaxationLevels int      `yaml:"max_relaxation_levels"`
	RelaxationOrder     []string `yaml:"relaxation_order"`
	LoopShortClips      bool     `yaml:"loop_short_clips"`
	Fallback            string   `yaml:"fallback"`
	Trim                string   `yaml:"trim"`
	CandidateLimit      int      `yaml:"candidate_limit"`
	TieEpsilon          float64  `yaml:"tie_epsilon"`
	Jitter              float64  `yaml:"jitter"`
	CoverLeadIn         bool     `yaml:"cover_lead_in"`
	PrefetchWindow      int      `yaml:"prefetch_window"`
	PrefetchWorkers     int      `yaml:"prefetch_workers"`
}

// Catalog selects and tunes the clip catalog backend.
type Catalog struct {
	Path        string        `yaml:"path"`
	VectorPath  string        `yaml:"vector_path"`
	ClipsDir    string        `yaml:"clips_dir"`
	CacheSize   int           `yaml:"cache_size"`
	Retries     int           `yaml:"retries"`
	Timeout     time.Duration `yaml:"timeout"`
	BaseBackoff time.Duration `yaml:"backoff"`
}

// Analyzer selects the audio analysis collaborator.
type Analyzer struct {
	Variant string   `yaml:"variant"`
	Command []string `yaml:"command"`
}

type Render struct {
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
	FPS     int `yaml:"fps"`
	Workers int `yaml:"workers"`
	// VideoEncoder is empty to pick the best available H.264 encoder.
	VideoEncoder string `yaml:"encoder,omitempty"`
	// Quality is CRF for x264, CQ for NVENC and Q*100 kbit/s for
	// VideoToolbox; 0 picks a default for the encoder.
	Quality  int    `yaml:"quality"`
	Fit      string `yaml:"fit"`
	Debug    bool   `yaml:"debug"`
	KeepTemp bool   `yaml:"keep_temp"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SegmentParams describes one trimmed clip segment for the encoder.
type SegmentParams struct {
	Width, Height int
	FPS           int
	Duration      float64
	TrimStart     float64
	Loop          bool
	SlotIndex     int
	Label         string
	Debug         bool
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Planning: Planning{
			BeatsPerClip:        1,
			AvoidRepetition:     true,
			RepetitionWindow:    8,
			MaxRelaxationLevels: 4,
			RelaxationOrder:     constraintNames(montage.DefaultRelaxationOrder),
			LoopShortClips:      false,
			Fallback:            FallbackReuseLast,
			Trim:                TrimRandom,
			CandidateLimit:      20,
			TieEpsilon:          1e-6,
			Jitter:              0.08,
			CoverLeadIn:         true,
			PrefetchWindow:      4,
		},
		Style: DefaultStyle(),
		Catalog: Catalog{
			CacheSize:   512,
			Retries:     3,
			Timeout:     5 * time.Second,
			BaseBackoff: 200 * time.Millisecond,
		},
		Analyzer: Analyzer{Variant: "file"},
		Render: Render{
			Width:  1920,
			Height: 1080,
			FPS:    30,
			Fit:    FitCover,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// SeedValue returns the configured seed, or 0 when unset.
func (p Planning) SeedValue() int64 {
	if p.Seed == nil {
		return 0
	}
	return *p.Seed
}

// Order parses RelaxationOrder into constraints.
func (p Planning) Order() ([]montage.Constraint, error) {
	order := make([]montage.Constraint, 0, len(p.RelaxationOrder))
	seen := map[montage.Constraint]bool{}
	for _, name := range p.RelaxationOrder {
		c, err := montage.ParseConstraint(name)
		if err != nil {
			return nil, &montage.ConfigError{Field: "planning.relaxation_order", Reason: err.Error()}
		}
		if seen[c] {
			return nil, &montage.ConfigError{Field: "planning.relaxation_order", Reason: fmt.Sprintf("%q listed twice", name)}
		}
		seen[c] = true
		order = append(order, c)
	}
	return order, nil
}

// Validate reports the first invalid value as a ConfigError.
func (c *Config) Validate() error {
	p := c.Planning
	switch {
	case p.BeatsPerClip <= 0:
		return &montage.ConfigError{Field: "planning.beats_per_clip", Reason: "must be positive"}
	case p.RepetitionWindow < 0:
		return &montage.ConfigError{Field: "planning.repetition_window", Reason: "must not be negative"}
	case p.MaxRelaxationLevels < 0:
		return &montage.ConfigError{Field: "planning.max_relaxation_levels", Reason: "must not be negative"}
	case p.CandidateLimit <= 0:
		return &montage.ConfigError{Field: "planning.candidate_limit", Reason: "must be positive"}
	case p.TieEpsilon < 0:
		return &montage.ConfigError{Field: "planning.tie_epsilon", Reason: "must not be negative"}
	case p.Jitter < 0 || p.Jitter > 0.5:
		return &montage.ConfigError{Field: "planning.jitter", Reason: "must be within [0, 0.5]"}
	case p.PrefetchWindow < 0:
		return &montage.ConfigError{Field: "planning.prefetch_window", Reason: "must not be negative"}
	case p.PrefetchWorkers < 0:
		return &montage.ConfigError{Field: "planning.prefetch_workers", Reason: "must not be negative (0 picks the CPU count)"}
	}
	if p.Fallback != FallbackReuseLast && p.Fallback != FallbackNone {
		return &montage.ConfigError{Field: "planning.fallback", Reason: fmt.Sprintf("unknown policy %q (want %s or %s)", p.Fallback, FallbackReuseLast, FallbackNone)}
	}
	if p.Trim != TrimRandom && p.Trim != TrimStart {
		return &montage.ConfigError{Field: "planning.trim", Reason: fmt.Sprintf("unknown policy %q (want %s or %s)", p.Trim, TrimRandom, TrimStart)}
	}
	if _, err := p.Order(); err != nil {
		return err
	}
	if err := c.Style.Validate(); err != nil {
		return err
	}
	if c.Catalog.Retries < 0 {
		return &montage.ConfigError{Field: "catalog.retries", Reason: "must not be negative"}
	}
	if c.Render.Workers < 0 {
		return &montage.ConfigError{Field: "render.workers", Reason: "must not be negative (0 picks the CPU count)"}
	}
	if c.Render.Quality < 0 {
		return &montage.ConfigError{Field: "render.quality", Reason: "must not be negative"}
	}
	if c.Render.Fit != FitCover && c.Render.Fit != FitContain {
		return &montage.ConfigError{Field: "render.fit", Reason: fmt.Sprintf("unknown mode %q (want %s or %s)", c.Render.Fit, FitCover, FitContain)}
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 || c.Render.FPS <= 0 {
		return &montage.ConfigError{Field: "render", Reason: "width, height and fps must be positive"}
	}
	return nil
}

func constraintNames(cs []montage.Constraint) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// SectionKeys returns the configured section types in a stable order.
func (s Style) SectionKeys() []montage.SectionType {
	keys := make([]montage.SectionType, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// DefaultQuality is the quality used for encoder when none is configured.
func DefaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75
	case "h264_nvenc":
		return 28
	default:
		return 23
	}
}
