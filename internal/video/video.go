// Package video renders a montage scenario with ffmpeg: every record is cut
// from its clip and normalized into a segment, segments are concatenated
// and the track is muxed on top.
package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/director"
	"github.com/ivlev/beat2video/internal/effects"
	"github.com/ivlev/beat2video/internal/logging"
)

type Renderer interface {
	Render(ctx context.Context, scenario *director.Scenario, audioPath, outputPath string) error
}

// RunFunc executes ffmpeg with args and returns its combined output.
type RunFunc func(ctx context.Context, args []string) ([]byte, error)

func runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, "ffmpeg", args...).CombinedOutput()
}

type FFmpegRenderer struct {
	Config   config.Render
	Encoder  string
	Workers  int
	Effect   effects.Effect
	Logger   logging.Logger
	Progress func(done, total int)
	Run      RunFunc
}

func NewFFmpegRenderer(cfg config.Render, encoder string, workers int, eff effects.Effect) *FFmpegRenderer {
	if encoder == "" {
		encoder = cfg.VideoEncoder
	}
	if encoder == "" {
		encoder = "libx264"
	}
	if cfg.Quality == 0 {
		cfg.Quality = config.DefaultQuality(encoder)
	}
	if workers <= 0 {
		workers = 1
	}
	if eff == nil {
		eff = &effects.CoverEffect{}
	}
	return &FFmpegRenderer{
		Config:  cfg,
		Encoder: encoder,
		Workers: workers,
		Effect:  eff,
		Logger:  logging.Nop(),
		Run:     runFFmpeg,
	}
}

func (r *FFmpegRenderer) Render(ctx context.Context, scenario *director.Scenario, audioPath, outputPath string) error {
	if err := scenario.Validate(); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	logger := logging.OrNop(r.Logger)
	run := r.Run
	if run == nil {
		run = runFFmpeg
	}

	tmpDir, err := os.MkdirTemp("", "beat2video_")
	if err != nil {
		return err
	}
	if r.Config.KeepTemp {
		logger.Info("keeping segments in %s", tmpDir)
	} else {
		defer os.RemoveAll(tmpDir)
	}

	total := len(scenario.Records)
	segments := make([]string, total)
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers)
	for i, rec := range scenario.Records {
		segPath := filepath.Join(tmpDir, fmt.Sprintf("s%05d.mp4", i))
		params := config.SegmentParams{
			Width:     r.Config.Width,
			Height:    r.Config.Height,
			FPS:       r.Config.FPS,
			Duration:  rec.Duration,
			TrimStart: rec.TrimStart,
			Loop:      rec.Looped,
			SlotIndex: rec.Slot,
			Label:     string(rec.Section),
			Debug:     r.Config.Debug,
		}
		g.Go(func() error {
			args := r.segmentArgs(rec.Filepath, segPath, params)
			if out, err := run(gctx, args); err != nil {
				return fmt.Errorf("segment %d (%s): %w: %s", rec.Slot, rec.ClipID, err, tail(out))
			}
			segments[i] = segPath
			n := int(done.Add(1))
			logger.Debug("segment %d/%d ready", n, total)
			if r.Progress != nil {
				r.Progress(n, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	video := filepath.Join(tmpDir, "video.mp4")
	if err := r.concatenate(ctx, run, segments, tmpDir, video); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	if out, err := run(ctx, muxArgs(video, audioPath, outputPath)); err != nil {
		return fmt.Errorf("ffmpeg mux error: %w: %s", err, tail(out))
	}
	return nil
}

// segmentArgs cuts [TrimStart, TrimStart+Duration) from the clip, looping
// the input when the clip is shorter than the slot. Audio is dropped.
func (r *FFmpegRenderer) segmentArgs(clipPath, segPath string, p config.SegmentParams) []string {
	args := []string{"-y"}
	if p.Loop {
		args = append(args, "-stream_loop", "-1")
	}
	args = append(args,
		"-ss", fmt.Sprintf("%.6f", p.TrimStart),
		"-i", clipPath,
		"-t", fmt.Sprintf("%.6f", p.Duration),
		"-vf", r.Effect.GenerateFilter(p),
		"-an",
		"-r", fmt.Sprintf("%d", p.FPS),
		"-pix_fmt", "yuv420p",
		"-c:v", r.Encoder,
	)
	args = append(args, qualityArgs(r.Encoder, r.Config.Quality)...)
	return append(args, segPath)
}

func qualityArgs(encoder string, quality int) []string {
	switch encoder {
	case "h264_videotoolbox":
		// VideoToolbox ignores -crf; quality maps to a bitrate in kbit/s.
		return []string{"-b:v", fmt.Sprintf("%dk", quality*100)}
	case "h264_nvenc":
		return []string{"-cq", fmt.Sprintf("%d", quality)}
	default:
		return []string{"-crf", fmt.Sprintf("%d", quality), "-preset", "medium"}
	}
}

func (r *FFmpegRenderer) concatenate(ctx context.Context, run RunFunc, segments []string, tmpDir, out string) error {
	listPath := filepath.Join(tmpDir, "inputs.txt")
	if err := writeConcatList(listPath, segments); err != nil {
		return err
	}
	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out}
	if output, err := run(ctx, args); err != nil {
		return fmt.Errorf("ffmpeg concat error: %w: %s", err, tail(output))
	}
	return nil
}

func writeConcatList(path string, segments []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, p := range segments {
		abs, err := filepath.Abs(p)
		if err != nil {
			f.Close()
			return err
		}
		fmt.Fprintf(f, "file '%s'\n", abs)
	}
	return f.Close()
}

// muxArgs copies the video stream and encodes the track; -shortest trims
// whichever runs long.
func muxArgs(video, audio, out string) []string {
	return []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		out,
	}
}

func tail(out []byte) string {
	const limit = 2000
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return string(out)
}
