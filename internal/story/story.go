// Package story drives interactive story creation through fixed phases:
// planning, world building, character creation, content generation,
// refinement, and completion. Each phase surfaces a decision to the
// caller; processing a decision advances the session.
package story

import (
	"time"

	"github.com/loreweave/loreweave/internal/content"
)

// Phase names in creation order.
const (
	PhasePlanning          = "planning"
	PhaseWorldBuilding     = "world_building"
	PhaseCharacterCreation = "character_creation"
	PhaseContentGeneration = "content_generation"
	PhaseRefinement        = "refinement"
	PhaseCompleted         = "completed"
)

// Decision types.
const (
	DecisionQuestion   = "question"
	DecisionSuggestion = "suggestion"
	DecisionAction     = "action"
)

const totalSteps = 6

// Decision is one choice surfaced to the caller.
type Decision struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Priority  int           `json:"priority"`
	Prompt    string        `json:"prompt"`
	Options   []string      `json:"options,omitempty"`
	Default   string        `json:"default,omitempty"`
	AutoAfter time.Duration `json:"auto_after,omitempty"`
}

// DecisionRecord logs one processed decision.
type DecisionRecord struct {
	DecisionID string    `json:"decision_id"`
	Choice     string    `json:"choice"`
	Feedback   string    `json:"feedback,omitempty"`
	Phase      string    `json:"phase"`
	At         time.Time `json:"at"`
}

// Content accumulates the artifacts generated during a session.
type Content struct {
	WorldSketch map[string]any           `json:"world_sketch,omitempty"`
	Narrative   string                   `json:"narrative,omitempty"`
	Rooms       []content.GeneratedRoom  `json:"rooms,omitempty"`
	NPCs        []content.GeneratedNPC   `json:"npcs,omitempty"`
	Quests      []content.GeneratedQuest `json:"quests,omitempty"`
	Report      *QualityReport           `json:"report,omitempty"`
}

// Issue is one problem found by story validation.
type Issue struct {
	Category    string `json:"category"`
	Severity    string `json:"severity"` // error | warning | info
	Description string `json:"description"`
	AutoFixable bool   `json:"auto_fixable"`
	Fixed       bool   `json:"fixed,omitempty"`
}

// QualityReport is the structured outcome of story validation.
type QualityReport struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []Issue  `json:"issues"`
	Score           float64  `json:"score"` // 0 to 100
	Recommendations []string `json:"recommendations,omitempty"`
}

// qualityThreshold is the score at which refinement may complete.
const qualityThreshold = 70.0

// Session is one in-progress story creation.
type Session struct {
	ID          string           `json:"id"`
	Theme       string           `json:"theme"`
	Genre       string           `json:"genre"`
	Phase       string           `json:"phase"`
	PlayerLevel int              `json:"player_level"`
	Preferences map[string]any   `json:"preferences,omitempty"`
	Content     Content          `json:"content"`
	Decisions   []DecisionRecord `json:"decisions"`
	Step        int              `json:"step"`
	TotalSteps  int              `json:"total_steps"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Progress reports how far a session has advanced.
type Progress struct {
	Phase      string `json:"phase"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
}

// Summary is the result of finalizing a session.
type Summary struct {
	SessionID   string   `json:"session_id"`
	Theme       string   `json:"theme"`
	Genre       string   `json:"genre"`
	DeployedIDs []string `json:"deployed_ids"`
	Rooms       int      `json:"rooms"`
	NPCs        int      `json:"npcs"`
	Quests      int      `json:"quests"`
}
