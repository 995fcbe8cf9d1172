package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ivlev/beat2video/internal/montage"
)

var buildVersion = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("[-] "+describe(err)))
		stop()
		os.Exit(1)
	}
}

// describe prefixes planning failures with the slot they stopped at.
func describe(err error) string {
	var fatal *montage.FatalPlanningError
	var cfgErr *montage.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return "Configuration error: " + err.Error()
	case errors.As(err, &fatal):
		return "Planning failed: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "beat2video",
		Short:         "Cut a beat-synchronized montage from a clip catalog",
		Long:          "beat2video analyzes a track, plans one clip per beat slot from the catalog and renders the montage with ffmpeg.",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMontage(cmd, v, true)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default: ./beat2video.yaml when present)")
	flags.StringP("audio", "a", "", "audio track (default: newest file in input/audio/)")
	flags.String("analysis", "", "analysis document (default: <audio>.analysis.yaml)")
	flags.String("analyzer", "", "analyzer variant: file, command")
	flags.StringP("output", "o", "", "output video (default: output/<audio>_<timestamp>.mp4)")
	flags.String("scenario", "", "plan file (default: <output>.plan.yaml)")
	flags.String("catalog", "", "clip catalog: manifest .yaml or SQLite database")
	flags.String("vectors", "", "directory of the persistent embedding index")
	flags.Int64("seed", 0, "random seed (default: picked from the clock and recorded in the plan)")
	flags.Int("beats-per-clip", 0, "beats per slot")
	flags.Int("prefetch-workers", 0, "concurrent catalog searches (0: CPU count)")
	flags.IntP("workers", "w", 0, "concurrent segment encoders (0: CPU count)")
	flags.Int("width", 0, "output width")
	flags.Int("height", 0, "output height")
	flags.Int("fps", 0, "output frame rate")
	flags.Int("quality", 0, "encoder quality (0: encoder default)")
	flags.String("encoder", "", "video encoder (default: best available H.264)")
	flags.String("fit", "", "frame fit: cover, contain")
	flags.Bool("stats", false, "print a performance report")
	flags.String("metrics", "", "write prometheus metrics to this textfile")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.Bool("keep-temp", false, "keep rendered segments")
	flags.Bool("debug", false, "burn slot labels into the video")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	v.SetEnvPrefix("BEAT2VIDEO")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	root.AddCommand(newPlanCommand(v))
	root.AddCommand(newRenderCommand(v))
	root.AddCommand(newIndexCommand(v))
	root.AddCommand(newConfigCommand())
	return root
}
