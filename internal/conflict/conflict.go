// Package conflict resolves impossible game states. Resolution runs
// rule hooks first, falls back to structured AI generation, and bottoms
// out in a failsafe. Resolve never returns an error: the game must keep
// running no matter how the resolution path fails.
package conflict

import (
	"time"
)

// Conflict kinds.
const (
	KindPhysics          = "physics"
	KindNPCBehavior      = "npc_behavior"
	KindObjectState      = "object_state"
	KindPlayerAction     = "player_action"
	KindWorldConsistency = "world_consistency"
)

// Severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Context describes one conflict to resolve.
type Context struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	EntityIDs   []string       `json:"entity_ids"`
	Location    string         `json:"location"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Attempt     int            `json:"attempt"`
	Snapshot    map[string]any `json:"snapshot,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	Kind              string         `json:"kind"`
	Success           bool           `json:"success"`
	Action            string         `json:"action"`
	Explanation       string         `json:"explanation"`
	Changes           map[string]any `json:"changes,omitempty"`
	SideEffects       []string       `json:"side_effects,omitempty"`
	Alternatives      []string       `json:"alternatives,omitempty"`
	Narrative         string         `json:"narrative,omitempty"`
	Confidence        float64        `json:"confidence"`
	NeedsConfirmation bool           `json:"needs_confirmation"`
	ResolvedBy        string         `json:"resolved_by"`
}

// Details is the caller-supplied description of a conflict. Severity is
// optional; when empty it is derived from the kind.
type Details struct {
	Description string
	EntityIDs   []string
	Location    string
	Action      string
	Severity    string
	Snapshot    map[string]any
}

// deriveSeverity maps a kind to a default severity. World consistency
// breaks are the most dangerous; failed player actions the least.
func deriveSeverity(kind string) string {
	switch kind {
	case KindWorldConsistency:
		return SeverityHigh
	case KindPlayerAction:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// failsafe is the resolution of last resort.
func failsafe(kind string) Resolution {
	return Resolution{
		Kind:        kind,
		Success:     false,
		Action:      "Reset to safe state",
		Explanation: "Automatic resolution failed; the affected state was reverted.",
		Narrative:   "Reality flickers for a moment, then settles back the way it was.",
		Confidence:  1.0,
		ResolvedBy:  "failsafe",
	}
}
