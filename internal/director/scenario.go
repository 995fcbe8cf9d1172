package director

import (
	"fmt"

	"github.com/ivlev/beat2video/internal/montage"
)

// ScenarioVersion is bumped when the record layout changes.
const ScenarioVersion = "1.0"

// Scenario is the plan of one run: enough to render it again and to see
// why each clip was picked.
type Scenario struct {
	Version  string   `yaml:"version"`
	RunID    string   `yaml:"run_id"`
	Seed     int64    `yaml:"seed"`
	Audio    string   `yaml:"audio"`
	Duration float64  `yaml:"duration"`
	Records  []Record `yaml:"records"`
}

// Record is one assignment as written to the scenario file.
type Record struct {
	Slot            int                 `yaml:"slot"`
	Start           float64             `yaml:"start"`
	Duration        float64             `yaml:"duration"`
	Section         montage.SectionType `yaml:"section"`
	ClipID          string              `yaml:"clip_id"`
	Filepath        string              `yaml:"filepath"`
	ClipDuration    float64             `yaml:"clip_duration"`
	TrimStart       float64             `yaml:"trim_start"`
	TrimDuration    float64             `yaml:"trim_duration"`
	Looped          bool                `yaml:"looped,omitempty"`
	RelaxationLevel int                 `yaml:"relaxation_level"`
	Fallback        bool                `yaml:"fallback,omitempty"`
	Score           float64             `yaml:"score"`
}

// NewScenario records assignments in slot order.
func NewScenario(runID string, seed int64, audio string, assignments []montage.Assignment) *Scenario {
	s := &Scenario{
		Version: ScenarioVersion,
		RunID:   runID,
		Seed:    seed,
		Audio:   audio,
		Records: make([]Record, 0, len(assignments)),
	}
	for _, a := range assignments {
		s.Records = append(s.Records, Record{
			Slot:            a.Slot.Index,
			Start:           a.Slot.Start,
			Duration:        a.Slot.Duration,
			Section:         a.Slot.Section,
			ClipID:          a.Clip.ID,
			Filepath:        a.Clip.Filepath,
			ClipDuration:    a.Clip.Duration,
			TrimStart:       a.TrimStart,
			TrimDuration:    a.TrimDuration,
			Looped:          a.Looped,
			RelaxationLevel: a.RelaxationLevel,
			Fallback:        a.Fallback,
			Score:           a.Score,
		})
		if end := a.Slot.End(); end > s.Duration {
			s.Duration = end
		}
	}
	return s
}

// Validate checks that the records form a gap-free sequence the renderer
// can play.
func (s *Scenario) Validate() error {
	if len(s.Records) == 0 {
		return fmt.Errorf("scenario has no records")
	}
	for i, r := range s.Records {
		if r.Slot != i {
			return fmt.Errorf("record %d: slot index %d out of order", i, r.Slot)
		}
		if r.Filepath == "" {
			return fmt.Errorf("record %d: missing filepath", i)
		}
		if r.TrimDuration <= 0 {
			return fmt.Errorf("record %d: trim duration must be positive", i)
		}
		if !r.Looped && r.TrimStart+r.TrimDuration > r.ClipDuration+montage.Epsilon {
			return fmt.Errorf("record %d: trim %.3f+%.3f exceeds clip %s (%.3fs)", i, r.TrimStart, r.TrimDuration, r.ClipID, r.ClipDuration)
		}
		if i > 0 {
			prev := s.Records[i-1]
			if d := r.Start - (prev.Start + prev.Duration); d > montage.Epsilon || d < -montage.Epsilon {
				return fmt.Errorf("record %d: starts at %.6f, previous ends at %.6f", i, r.Start, prev.Start+prev.Duration)
			}
		}
	}
	return nil
}
