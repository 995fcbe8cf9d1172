package effects

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ivlev/beat2video/internal/config"
	"github.com/ivlev/beat2video/internal/system"
)

// Effect builds the -vf chain that brings one trimmed clip to the output
// frame size and rate.
type Effect interface {
	GenerateFilter(params config.SegmentParams) string
}

// CoverEffect scales the clip to fill the frame and crops the overflow.
type CoverEffect struct{}

func (e *CoverEffect) GenerateFilter(p config.SegmentParams) string {
	fit := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		p.Width, p.Height, p.Width, p.Height)
	return finish(fit, p)
}

// ContainEffect letterboxes the clip inside the frame.
type ContainEffect struct{}

func (e *ContainEffect) GenerateFilter(p config.SegmentParams) string {
	fit := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		p.Width, p.Height, p.Width, p.Height)
	return finish(fit, p)
}

// NewEffect returns the effect for a render.fit mode.
func NewEffect(fit string) (Effect, error) {
	switch fit {
	case config.FitCover, "":
		return &CoverEffect{}, nil
	case config.FitContain:
		return &ContainEffect{}, nil
	default:
		return nil, fmt.Errorf("unknown fit mode: %s", fit)
	}
}

var drawtextSupported = sync.OnceValue(func() bool {
	return system.CheckFilterSupport("drawtext")
})

func finish(fit string, p config.SegmentParams) string {
	chain := []string{
		fit,
		"setsar=1",
		fmt.Sprintf("fps=%d", p.FPS),
		"setpts=PTS-STARTPTS",
	}
	if p.Debug && drawtextSupported() {
		chain = append(chain, debugLabel(p))
	}
	return strings.Join(chain, ",")
}

func debugLabel(p config.SegmentParams) string {
	text := fmt.Sprintf("Slot %d", p.SlotIndex)
	if p.Label != "" {
		text += " " + p.Label
	}
	return fmt.Sprintf("drawtext=text='%s':x=10:y=10:fontsize=24:fontcolor=yellow:box=1:boxcolor=black@0.5", text)
}
