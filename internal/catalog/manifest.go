package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/beat2video/internal/montage"
)

// Manifest is the YAML clip list the index command loads.
type Manifest struct {
	// ClipsDir is the base for relative clip paths. It defaults to the
	// manifest's own directory.
	ClipsDir string         `yaml:"clips_dir,omitempty"`
	Clips    []montage.Clip `yaml:"clips"`
}

// ReadManifest loads and validates a manifest. Clips without an id get a
// stable one derived from their absolute path.
func ReadManifest(path string) ([]montage.Clip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	base := m.ClipsDir
	if base == "" {
		base = filepath.Dir(path)
	} else if !filepath.IsAbs(base) {
		base = filepath.Join(filepath.Dir(path), base)
	}

	seen := make(map[string]int, len(m.Clips))
	clips := make([]montage.Clip, 0, len(m.Clips))
	for i, c := range m.Clips {
		if c.Filepath == "" {
			return nil, fmt.Errorf("manifest clip %d: missing filepath", i)
		}
		if !filepath.IsAbs(c.Filepath) {
			c.Filepath = filepath.Join(base, c.Filepath)
		}
		if c.ID == "" {
			c.ID = ClipID(c.Filepath)
		}
		if err := validateClip(c); err != nil {
			return nil, fmt.Errorf("manifest clip %d: %w", i, err)
		}
		if j, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("manifest clip %d: id %s already used by clip %d", i, c.ID, j)
		}
		seen[c.ID] = i
		c.Tags = uniqueTags(c.Tags)
		sort.Strings(c.Tags)
		clips = append(clips, c)
	}
	return clips, nil
}

// ClipID derives the id of a clip that was listed without one.
func ClipID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(path))).String()
}

func validateClip(c montage.Clip) error {
	switch {
	case c.Duration <= 0:
		return fmt.Errorf("clip %s: duration must be positive", c.ID)
	case c.MotionScore < 0 || c.MotionScore > 1:
		return fmt.Errorf("clip %s: motion_score %g outside [0, 1]", c.ID, c.MotionScore)
	case c.SilenceRatio < 0 || c.SilenceRatio > 1:
		return fmt.Errorf("clip %s: silence_ratio %g outside [0, 1]", c.ID, c.SilenceRatio)
	}
	return nil
}
