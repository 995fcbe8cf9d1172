package director

import "sort"

// RepetitionGuard remembers where each clip was last used so that no clip
// appears twice within Window consecutive slots. It belongs to one planning
// run and is not safe for concurrent use.
type RepetitionGuard struct {
	Enabled bool
	Window  int

	last map[string]int
}

func NewRepetitionGuard(enabled bool, window int) *RepetitionGuard {
	return &RepetitionGuard{Enabled: enabled, Window: window, last: make(map[string]int)}
}

func (g *RepetitionGuard) active() bool {
	return g.Enabled && g.Window > 1
}

// Forbidden returns, sorted, the clips that slot current may not use.
func (g *RepetitionGuard) Forbidden(current int) []string {
	if !g.active() {
		return nil
	}
	var out []string
	for id, slot := range g.last {
		if current-slot < g.Window {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Allows reports whether slot current may use clip id.
func (g *RepetitionGuard) Allows(id string, current int) bool {
	if !g.active() {
		return true
	}
	slot, ok := g.last[id]
	return !ok || current-slot >= g.Window
}

// Register records that clip id fills slot.
func (g *RepetitionGuard) Register(id string, slot int) {
	g.last[id] = slot
}
