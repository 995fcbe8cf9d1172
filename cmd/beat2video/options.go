package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/director"
	"github.com/ivlev/beat2video/internal/system"
)

var envReplacer = strings.NewReplacer("-", "_", ".", "_")

// loadConfig reads the config file (explicit or discovered by viper) and
// applies flag and BEAT2VIDEO_* overrides on top.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		finder := viper.New()
		finder.SetConfigName("beat2video")
		finder.SetConfigType("yaml")
		finder.AddConfigPath(".")
		if err := finder.ReadInConfig(); err == nil {
			path = finder.ConfigFileUsed()
		} else {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config discovery: %w", err)
			}
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyOverrides(cfg, v)
	cfg.BuildVersion = buildVersion
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every flag or environment value that was actually
// set onto cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setString("audio", &cfg.AudioPath)
	setString("analysis", &cfg.AnalysisPath)
	setString("analyzer", &cfg.Analyzer.Variant)
	setString("output", &cfg.OutputVideo)
	setString("scenario", &cfg.ScenarioPath)
	setString("catalog", &cfg.Catalog.Path)
	setString("vectors", &cfg.Catalog.VectorPath)
	setString("metrics", &cfg.MetricsPath)
	setString("log-level", &cfg.Log.Level)
	setString("log-format", &cfg.Log.Format)
	setString("encoder", &cfg.Render.VideoEncoder)
	setString("fit", &cfg.Render.Fit)

	setInt("beats-per-clip", &cfg.Planning.BeatsPerClip)
	setInt("prefetch-workers", &cfg.Planning.PrefetchWorkers)
	setInt("workers", &cfg.Render.Workers)
	setInt("width", &cfg.Render.Width)
	setInt("height", &cfg.Render.Height)
	setInt("fps", &cfg.Render.FPS)
	setInt("quality", &cfg.Render.Quality)

	setBool("stats", &cfg.ShowStats)
	setBool("keep-temp", &cfg.Render.KeepTemp)
	setBool("debug", &cfg.Render.Debug)

	if v.IsSet("seed") {
		seed := v.GetInt64("seed")
		cfg.Planning.Seed = &seed
	}
}

// resolveInputs fills the audio and output paths the way the input/ and
// output/ folders are laid out.
func resolveInputs(cfg *config.Config, now time.Time) error {
	if cfg.AudioPath == "" {
		latest, err := system.FindLatestAudio(filepath.Join("input", "audio"))
		if err != nil {
			return fmt.Errorf("%w: put a track into input/audio/ or pass --audio", err)
		}
		cfg.AudioPath = latest
		fmt.Printf("[*] Selected audio: %s\n", latest)
	}
	if cfg.OutputVideo == "" {
		cfg.OutputVideo = defaultOutput(cfg.AudioPath, now)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputVideo), 0755); err != nil {
		return err
	}
	cfg.ScenarioPath = scenarioPath(cfg.ScenarioPath, now)
	return nil
}

// scenarioPath turns a --scenario that names a directory into a
// timestamped plan file inside it.
func scenarioPath(path string, now time.Time) string {
	if path == "" {
		return ""
	}
	if info, err := os.Stat(path); (err == nil && info.IsDir()) || strings.HasSuffix(path, string(os.PathSeparator)) {
		return director.GenerateScenarioPath(path, now)
	}
	return path
}

func defaultOutput(audioPath string, now time.Time) string {
	base := filepath.Base(audioPath)
	name := strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), " ", "_")
	return filepath.Join("output", fmt.Sprintf("%s_%s.mp4", name, now.Format("2006-01-02_15-04-05")))
}
