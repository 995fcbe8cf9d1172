package analysis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/beat2video/internal/montage"
)

var sidecarExts = []string{".analysis.yaml", ".analysis.yml", ".analysis.json"}

// FileAnalyzer reads a precomputed analysis document. With no Path set it
// looks for a sidecar next to the audio file, e.g. track.analysis.yaml for
// track.wav.
type FileAnalyzer struct {
	Path string
}

func NewFileAnalyzer(path string) *FileAnalyzer {
	return &FileAnalyzer{Path: path}
}

func (a *FileAnalyzer) Analyze(ctx context.Context, audioPath string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := a.Path
	if path == "" {
		var err error
		if path, err = FindSidecar(audioPath); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &montage.AnalysisInputError{Reason: fmt.Sprintf("read analysis: %v", err)}
	}
	return Decode(data)
}

// FindSidecar returns the first analysis document found next to audioPath.
func FindSidecar(audioPath string) (string, error) {
	base := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	for _, stem := range []string{base, audioPath} {
		for _, ext := range sidecarExts {
			p := stem + ext
			if _, err := os.Stat(p); err == nil {
				return p, nil
			} else if !errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("stat %s: %w", p, err)
			}
		}
	}
	return "", &montage.AnalysisInputError{Reason: fmt.Sprintf("no analysis sidecar for %s (want %s%s)", audioPath, base, sidecarExts[0])}
}
