package montage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AnalysisInputError reports a malformed or empty beat grid or structure.
type AnalysisInputError struct {
	Reason string
}

func (e *AnalysisInputError) Error() string {
	return "analysis input: " + e.Reason
}

// ConfigError reports invalid or missing planning configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// UnfulfillableSlotError is raised when no candidate survives any relaxation
// level. The engine handles it locally via fallback when one is configured.
type UnfulfillableSlotError struct {
	Slot          Slot
	LevelsTried   int
	FallbackTried bool
}

func (e *UnfulfillableSlotError) Error() string {
	fallback := "no fallback"
	if e.FallbackTried {
		fallback = "fallback to previous clip not possible"
	}
	return fmt.Sprintf("slot %d (%s at %.3fs, %.3fs): no candidate after %d relaxation levels, %s",
		e.Slot.Index, e.Slot.Section, e.Slot.Start, e.Slot.Duration, e.LevelsTried, fallback)
}

// FatalPlanningError aborts a planning run. Nothing is handed to the renderer.
type FatalPlanningError struct {
	SlotIndex int
	Cause     error
}

func (e *FatalPlanningError) Error() string {
	if e.SlotIndex < 0 {
		return fmt.Sprintf("planning failed: %v", e.Cause)
	}
	return fmt.Sprintf("planning failed at slot %d: %v", e.SlotIndex, e.Cause)
}

func (e *FatalPlanningError) Unwrap() error { return e.Cause }

// TransientError marks a catalog failure worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried: explicit transient
// errors, per-call deadlines and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
