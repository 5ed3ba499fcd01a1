package item

import "fmt"

// State is the materialization state reported by a provider.
type State int

const (
	// NotMaterialized means the item is a placeholder with no local bytes.
	NotMaterialized State = iota
	// Materializing means a download is in flight.
	Materializing
	// Materialized means the bytes are resident locally.
	Materialized
)

func (s State) String() string {
	switch s {
	case NotMaterialized:
		return "not_materialized"
	case Materializing:
		return "materializing"
	case Materialized:
		return "materialized"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseState is the inverse of State.String. ok is false for unknown names.
func ParseState(s string) (State, bool) {
	switch s {
	case "not_materialized":
		return NotMaterialized, true
	case "materializing":
		return Materializing, true
	case "materialized":
		return Materialized, true
	default:
		return NotMaterialized, false
	}
}

// Status is a point-in-time materialization report for one item.
// Progress is in [0, 1] and is always 1 for Materialized.
type Status struct {
	State    State   `json:"-"`
	Progress float64 `json:"progress"`
}

// NotMaterializedStatus returns the placeholder status.
func NotMaterializedStatus() Status {
	return Status{State: NotMaterialized}
}

// MaterializingStatus returns an in-flight status with progress clamped to [0, 1).
// A progress of 1 or more is still reported as in flight until the provider
// says the item is materialized.
func MaterializingStatus(progress float64) Status {
	return Status{State: Materializing, Progress: clampProgress(progress)}
}

// MaterializedStatus returns the terminal status.
func MaterializedStatus() Status {
	return Status{State: Materialized, Progress: 1}
}

// IsMaterialized reports whether the bytes are local.
func (s Status) IsMaterialized() bool {
	return s.State == Materialized
}

// Normalize enforces the Progress invariants for the State.
func (s Status) Normalize() Status {
	switch s.State {
	case Materialized:
		s.Progress = 1
	case NotMaterialized:
		s.Progress = 0
	default:
		s.Progress = clampProgress(s.Progress)
	}
	return s
}

func (s Status) String() string {
	if s.State == Materializing {
		return fmt.Sprintf("%s(%.2f)", s.State, s.Progress)
	}
	return s.State.String()
}

func clampProgress(p float64) float64 {
	switch {
	case p != p: // NaN
		return 0
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
