// Package catalog holds the clip libraries the director searches.
//
// Every implementation ranks by descending score and then ascending clip
// id. The order does not depend on which clips are excluded, so a longer
// unexcluded result filtered locally equals a shorter excluded one.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/ivlev/beat2video/internal/montage"
)

// Catalog answers aesthetic queries with ranked candidates.
type Catalog interface {
	// Search returns at most limit clips matching q, skipping any id listed
	// in excluded or in q.ExcludedClipIDs. An empty result is not an error.
	Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error)
}

// Closer is implemented by catalogs that hold external resources.
type Closer interface {
	Close() error
}

// Memory is an in-process catalog.
type Memory struct {
	mu    sync.RWMutex
	clips []montage.Clip
	byID  map[string]int
}

// NewMemory returns a catalog over clips. Later duplicates replace earlier
// entries with the same id.
func NewMemory(clips []montage.Clip) *Memory {
	m := &Memory{byID: make(map[string]int, len(clips))}
	for _, c := range clips {
		m.put(c)
	}
	return m
}

// Add inserts or replaces a clip.
func (m *Memory) Add(c montage.Clip) error {
	if c.ID == "" {
		return fmt.Errorf("clip %q: empty id", c.Filepath)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(c)
	return nil
}

func (m *Memory) put(c montage.Clip) {
	if i, ok := m.byID[c.ID]; ok {
		m.clips[i] = c
		return
	}
	m.byID[c.ID] = len(m.clips)
	m.clips = append(m.clips, c)
}

// Len returns the number of clips.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clips)
}

// Clips returns a copy of the catalog contents in insertion order.
func (m *Memory) Clips() []montage.Clip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]montage.Clip(nil), m.clips...)
}

func (m *Memory) Search(ctx context.Context, q montage.AestheticQuery, limit int, excluded []string) ([]montage.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	skip := excludeSet(q, excluded)

	m.mu.RLock()
	var out []montage.Candidate
	for _, c := range m.clips {
		if skip[c.ID] || !q.Matches(c) {
			continue
		}
		out = append(out, montage.Candidate{Clip: c, Score: q.Score(c)})
	}
	m.mu.RUnlock()

	return rank(out, limit), nil
}

func excludeSet(q montage.AestheticQuery, excluded []string) map[string]bool {
	skip := make(map[string]bool, len(excluded)+len(q.ExcludedClipIDs))
	for _, id := range excluded {
		skip[id] = true
	}
	for _, id := range q.ExcludedClipIDs {
		skip[id] = true
	}
	return skip
}

func rank(cs []montage.Candidate, limit int) []montage.Candidate {
	montage.SortCandidates(cs)
	if len(cs) > limit {
		cs = cs[:limit]
	}
	return cs
}
