package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ivlev/beat2video/internal/analysis"
	"github.com/ivlev/beat2video/internal/catalog"
	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/director"
	"github.com/ivlev/beat2video/internal/effects"
	"github.com/ivlev/beat2video/internal/engine"
	"github.com/ivlev/beat2video/internal/logging"
	"github.com/ivlev/beat2video/internal/metrics"
	"github.com/ivlev/beat2video/internal/montage"
	"github.com/ivlev/beat2video/internal/system"
	"github.com/ivlev/beat2video/internal/video"
)

func newPlanCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Plan the montage and write the plan file without rendering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMontage(cmd, v, false)
		},
	}
}

func newRenderCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "render [plan.yaml]",
		Short: "Render a previously written plan (default: newest plan in output/)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			path := cfg.ScenarioPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				if path, err = director.FindLatestScenario("output"); err != nil {
					return err
				}
				fmt.Printf("[*] Selected plan: %s\n", path)
			}
			if cfg.OutputVideo == "" {
				cfg.OutputVideo = outputForScenario(path)
			}

			env, err := newSession(cfg)
			if err != nil {
				return err
			}
			renderer, err := newRenderer(cfg, env.base)
			if err != nil {
				return err
			}
			project := engine.NewMontageProject(cfg, nil, nil, renderer)
			env.attach(project)
			if err := project.RenderScenario(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Println(green("[+++] Success! Result: " + cfg.OutputVideo))
			return nil
		},
	}
}

func outputForScenario(path string) string {
	if strings.HasSuffix(path, ".plan.yaml") {
		return strings.TrimSuffix(path, ".plan.yaml") + ".mp4"
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join("output", base+".mp4")
}

func newIndexCommand(v *viper.Viper) *cobra.Command {
	var scanDirs []string
	cmd := &cobra.Command{
		Use:   "index [manifest.yaml...]",
		Short: "Load clip manifests into the SQLite catalog",
		Long: "index upserts the clips of each manifest into the SQLite catalog named by --catalog. " +
			"--scan adds every video in a directory as an untagged clip, replacing any entry with the same path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(scanDirs) == 0 {
				return errors.New("nothing to index: pass manifests or --scan")
			}
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), cfg, args, scanDirs)
		},
	}
	cmd.Flags().StringSliceVar(&scanDirs, "scan", nil, "directory of video files to add without metadata")
	return cmd
}

func runIndex(ctx context.Context, cfg *config.Config, manifests, scanDirs []string) error {
	if cfg.Catalog.Path == "" {
		return &montage.ConfigError{Field: "catalog.path", Reason: "index needs a SQLite database"}
	}
	switch strings.ToLower(filepath.Ext(cfg.Catalog.Path)) {
	case ".yaml", ".yml":
		return &montage.ConfigError{Field: "catalog.path", Reason: "index writes to a SQLite database, not a manifest"}
	}
	logger := logging.Component(newLogger(cfg), "catalog")

	var index *catalog.VectorIndex
	if cfg.Catalog.VectorPath != "" {
		var err error
		if index, err = catalog.NewVectorIndex(cfg.Catalog.VectorPath); err != nil {
			return err
		}
	}
	db, err := catalog.OpenSQLite(ctx, cfg.Catalog.Path, index, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range manifests {
		clips, err := catalog.ReadManifest(path)
		if err != nil {
			return err
		}
		if err := db.Upsert(ctx, clips...); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		fmt.Printf("[*] %s: %d clips\n", path, len(clips))
	}

	for _, dir := range scanDirs {
		clips, err := scanClips(dir, logger)
		if err != nil {
			return err
		}
		if err := db.Upsert(ctx, clips...); err != nil {
			return fmt.Errorf("index %s: %w", dir, err)
		}
		fmt.Printf("[*] %s: %d clips\n", dir, len(clips))
	}

	total, err := db.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Println(green(fmt.Sprintf("[+++] Catalog %s holds %d clips", cfg.Catalog.Path, total)))
	return nil
}

func scanClips(dir string, logger logging.Logger) ([]montage.Clip, error) {
	files, err := system.ListVideos(dir)
	if err != nil {
		return nil, err
	}
	clips := make([]montage.Clip, 0, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		d, err := system.GetMediaDuration(abs)
		if err != nil || d <= 0 {
			logger.Warn("skipping %s: no duration (%v)", abs, err)
			continue
		}
		clips = append(clips, montage.Clip{ID: catalog.ClipID(abs), Filepath: abs, Duration: d})
	}
	return clips, nil
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration (default: beat2video.yaml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "beat2video.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.Write(config.Default(), path); err != nil {
				return err
			}
			fmt.Println(green("[+++] Wrote " + path))
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func runMontage(cmd *cobra.Command, v *viper.Viper, render bool) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	if err := resolveInputs(cfg, time.Now()); err != nil {
		return err
	}
	env, err := newSession(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	stack, err := catalog.Open(ctx, cfg.Catalog, logging.Component(env.base, "catalog"), env.recorder)
	if err != nil {
		return err
	}
	defer stack.Close()

	an, err := analysis.NewAnalyzer(cfg.Analyzer, cfg.AnalysisPath)
	if err != nil {
		return &montage.ConfigError{Field: "analyzer", Reason: err.Error()}
	}

	var renderer video.Renderer
	if render {
		system.InitResourceLimits(logging.Component(env.base, "system"))
		if renderer, err = newRenderer(cfg, env.base); err != nil {
			return err
		}
	}

	project := engine.NewMontageProject(cfg, an, stack.Catalog, renderer)
	env.attach(project)
	if err := project.Run(ctx); err != nil {
		return err
	}
	if !render {
		fmt.Println(yellow("[*] Render it with: beat2video render " + project.ScenarioPath()))
		return nil
	}
	fmt.Println(green("[+++] Success! Result: " + cfg.OutputVideo))
	return nil
}

// session carries the logger and metrics shared by one command.
type session struct {
	base     *slog.Logger
	registry *prometheus.Registry
	recorder *metrics.Recorder
}

func newSession(cfg *config.Config) (*session, error) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New("beat2video", reg)
	if err != nil {
		return nil, err
	}
	return &session{base: newLogger(cfg), registry: reg, recorder: rec}, nil
}

func (s *session) attach(p *engine.MontageProject) {
	p.Logger = logging.Component(s.base, "director")
	p.Recorder = s.recorder
	p.Gatherer = s.registry
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
}

func newRenderer(cfg *config.Config, base *slog.Logger) (*video.FFmpegRenderer, error) {
	eff, err := effects.NewEffect(cfg.Render.Fit)
	if err != nil {
		return nil, &montage.ConfigError{Field: "render.fit", Reason: err.Error()}
	}
	encoder := cfg.Render.VideoEncoder
	if encoder == "" {
		encoder = system.GetBestH264Encoder()
		if encoder != "libx264" {
			fmt.Printf("[*] Hardware encoder detected: %s\n", encoder)
		}
	}
	if cfg.Render.Quality == 0 {
		cfg.Render.Quality = config.DefaultQuality(encoder)
	}
	workers := system.ResolveWorkers(cfg.Render.Workers)

	r := video.NewFFmpegRenderer(cfg.Render, encoder, workers, eff)
	r.Logger = logging.Component(base, "video")
	r.Progress = func(done, total int) {
		fmt.Printf("[>] Ready: %d/%d\n", done, total)
	}
	return r, nil
}
