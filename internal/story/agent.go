package story

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/internal/content"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
	"github.com/loreweave/loreweave/internal/world"
)

// ErrNotFound is returned for unknown session or decision ids.
var ErrNotFound = fmt.Errorf("session not found")

// Dispatcher is the slice of the provider dispatcher the agent needs.
type Dispatcher interface {
	Generate(ctx context.Context, p string, opts provider.RequestOptions) (*provider.Response, error)
	GenerateStructured(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error)
}

// Compiler is the slice of the template registry the agent needs.
type Compiler interface {
	Compile(id string, vars map[string]any) (string, error)
}

// ContentGenerator is the slice of the content generator the agent needs.
type ContentGenerator interface {
	Room(ctx context.Context, wc prompt.WorldContext, overrides map[string]any) (*content.GeneratedRoom, error)
	NPC(ctx context.Context, wc prompt.WorldContext, overrides map[string]any) (*content.GeneratedNPC, error)
	Quest(ctx context.Context, theme string, playerLevel int, overrides map[string]any) (*content.GeneratedQuest, error)
}

// Agent manages story creation sessions. The session table is in-memory
// and mutex guarded; sessions live until the process exits.
type Agent struct {
	dispatcher Dispatcher
	compiler   Compiler
	generator  ContentGenerator
	writer     world.Writer
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewAgent creates an Agent.
func NewAgent(d Dispatcher, c Compiler, g ContentGenerator, w world.Writer, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		dispatcher: d,
		compiler:   c,
		generator:  g,
		writer:     w,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Start creates a session in the planning phase and returns it with its
// first decision.
func (a *Agent) Start(theme, genre string, playerLevel int, prefs map[string]any) (*Session, *Decision, error) {
	if theme == "" || genre == "" {
		return nil, nil, fmt.Errorf("theme and genre are required")
	}
	if playerLevel <= 0 {
		playerLevel = 1
	}

	now := time.Now().UTC()
	s := &Session{
		ID:          uuid.New().String(),
		Theme:       theme,
		Genre:       genre,
		Phase:       PhasePlanning,
		PlayerLevel: playerLevel,
		Preferences: prefs,
		Step:        1,
		TotalSteps:  totalSteps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	a.mu.Lock()
	a.sessions[s.ID] = s
	a.mu.Unlock()

	a.logger.Info("story session started", "session_id", s.ID, "theme", theme, "genre", genre)
	return a.snapshot(s.ID), a.NextDecision(s), nil
}

// Get returns a copy of the session, or ErrNotFound.
func (a *Agent) Get(sessionID string) (*Session, error) {
	s := a.snapshot(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return s, nil
}

// List returns copies of all sessions.
func (a *Agent) List() []*Session {
	a.mu.Lock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s := a.snapshot(id); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// NextDecision returns the decision the current phase calls for, or nil
// when the session is completed.
func (a *Agent) NextDecision(s *Session) *Decision {
	switch s.Phase {
	case PhasePlanning:
		return &Decision{
			ID:        "plan-order",
			Type:      DecisionQuestion,
			Priority:  1,
			Prompt:    "Flesh out the world first, or the characters first?",
			Options:   []string{"world_first", "characters_first"},
			Default:   "world_first",
			AutoAfter: 2 * time.Minute,
		}
	case PhaseWorldBuilding:
		return &Decision{
			ID:       "build-world",
			Type:     DecisionSuggestion,
			Priority: 2,
			Prompt:   "Sketch the world regions now?",
			Options:  []string{"generate", "skip"},
			Default:  "generate",
		}
	case PhaseCharacterCreation:
		return &Decision{
			ID:       "create-characters",
			Type:     DecisionAction,
			Priority: 2,
			Prompt:   "Generate the story's key characters.",
			Options:  []string{"generate"},
			Default:  "generate",
		}
	case PhaseContentGeneration:
		return &Decision{
			ID:       "generate-content",
			Type:     DecisionAction,
			Priority: 3,
			Prompt:   "Generate rooms, quests, and the connecting narrative.",
			Options:  []string{"generate"},
			Default:  "generate",
		}
	case PhaseRefinement:
		return &Decision{
			ID:       "refine",
			Type:     DecisionQuestion,
			Priority: 4,
			Prompt:   "Validate the story and fix problems, or accept it as is?",
			Options:  []string{"validate", "auto_fix", "accept"},
			Default:  "validate",
		}
	default:
		return nil
	}
}

// ProcessDecision applies a choice to the session, runs the phase's work,
// and returns the next decision plus progress.
func (a *Agent) ProcessDecision(ctx context.Context, sessionID, decisionID, choice, feedback string) (*Decision, Progress, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return nil, Progress{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	expected := a.NextDecision(s)
	if expected == nil {
		a.mu.Unlock()
		return nil, Progress{}, fmt.Errorf("session %s is already completed", sessionID)
	}
	if decisionID != expected.ID {
		a.mu.Unlock()
		return nil, Progress{}, fmt.Errorf("decision %s is not pending for session %s", decisionID, sessionID)
	}
	if choice == "" {
		choice = expected.Default
	}
	s.Decisions = append(s.Decisions, DecisionRecord{
		DecisionID: decisionID,
		Choice:     choice,
		Feedback:   feedback,
		Phase:      s.Phase,
		At:         time.Now().UTC(),
	})
	phase := s.Phase
	a.mu.Unlock()

	// Phase work runs outside the lock: it may call providers.
	if err := a.advance(ctx, s, phase, choice); err != nil {
		return nil, a.progress(s), err
	}

	a.mu.Lock()
	s.Step++
	if s.Step > s.TotalSteps {
		s.Step = s.TotalSteps
	}
	s.UpdatedAt = time.Now().UTC()
	next := a.NextDecision(s)
	p := Progress{Phase: s.Phase, Step: s.Step, TotalSteps: s.TotalSteps}
	a.mu.Unlock()

	return next, p, nil
}

// advance runs the phase-specific work and moves the session forward.
func (a *Agent) advance(ctx context.Context, s *Session, phase, choice string) error {
	switch phase {
	case PhasePlanning:
		if choice == "characters_first" {
			a.setPhase(s, PhaseCharacterCreation)
		} else {
			a.setPhase(s, PhaseWorldBuilding)
		}
		return nil

	case PhaseWorldBuilding:
		if choice != "skip" {
			if err := a.buildWorld(ctx, s); err != nil {
				return fmt.Errorf("building world: %w", err)
			}
		}
		a.setPhase(s, PhaseCharacterCreation)
		return nil

	case PhaseCharacterCreation:
		if err := a.createCharacters(ctx, s); err != nil {
			return fmt.Errorf("creating characters: %w", err)
		}
		a.setPhase(s, PhaseContentGeneration)
		return nil

	case PhaseContentGeneration:
		if err := a.generateContent(ctx, s); err != nil {
			return fmt.Errorf("generating content: %w", err)
		}
		a.setPhase(s, PhaseRefinement)
		return nil

	case PhaseRefinement:
		return a.refine(ctx, s, choice)

	default:
		return fmt.Errorf("no work defined for phase %s", phase)
	}
}

func (a *Agent) setPhase(s *Session, phase string) {
	a.mu.Lock()
	s.Phase = phase
	a.mu.Unlock()
}

func (a *Agent) buildWorld(ctx context.Context, s *Session) error {
	compiled, err := a.compiler.Compile("world_building", map[string]any{
		"genre":       s.Genre,
		"theme":       s.Theme,
		"preferences": s.Preferences,
	})
	if err != nil {
		return err
	}

	schema := structured.Object(map[string]*structured.Schema{
		"regions": structured.Array("world regions with name, danger level, landmark"),
		"summary": structured.String("one-paragraph world summary"),
	}, "regions", "summary")

	resp, err := a.dispatcher.GenerateStructured(ctx, compiled, schema, provider.RequestOptions{Temperature: 0.8})
	if err != nil {
		return err
	}
	if len(resp.ValidationErrors) > 0 {
		return fmt.Errorf("world sketch failed validation: %s", strings.Join(resp.ValidationErrors, "; "))
	}

	a.mu.Lock()
	s.Content.WorldSketch = resp.Parsed
	a.mu.Unlock()
	return nil
}

func (a *Agent) createCharacters(ctx context.Context, s *Session) error {
	wc := prompt.WorldContext{
		RoomName:    s.Theme,
		PlayerLevel: s.PlayerLevel,
	}
	for _, hint := range []string{"ally", "antagonist"} {
		npc, err := a.generator.NPC(ctx, wc, map[string]any{"role_hint": hint})
		if err != nil {
			return err
		}
		a.mu.Lock()
		s.Content.NPCs = append(s.Content.NPCs, *npc)
		a.mu.Unlock()
	}
	return nil
}

func (a *Agent) generateContent(ctx context.Context, s *Session) error {
	// Rooms first so the narrative and quests can reference them.
	for _, name := range []string{s.Theme + " threshold", s.Theme + " heart"} {
		room, err := a.generator.Room(ctx, prompt.WorldContext{
			RoomName:    name,
			PlayerLevel: s.PlayerLevel,
		}, nil)
		if err != nil {
			return err
		}
		a.mu.Lock()
		s.Content.Rooms = append(s.Content.Rooms, *room)
		a.mu.Unlock()
	}

	quest, err := a.generator.Quest(ctx, s.Theme, s.PlayerLevel, nil)
	if err != nil {
		return err
	}
	a.mu.Lock()
	s.Content.Quests = append(s.Content.Quests, *quest)
	characters := make([]string, 0, len(s.Content.NPCs))
	for _, npc := range s.Content.NPCs {
		characters = append(characters, npc.Name)
	}
	worldSummary := ""
	if summary, ok := s.Content.WorldSketch["summary"].(string); ok {
		worldSummary = summary
	}
	a.mu.Unlock()

	compiled, err := a.compiler.Compile("story_narrative", map[string]any{
		"genre":         s.Genre,
		"theme":         s.Theme,
		"world_summary": worldSummary,
		"characters":    characters,
	})
	if err != nil {
		return err
	}
	resp, err := a.dispatcher.Generate(ctx, compiled, provider.RequestOptions{Temperature: 0.9})
	if err != nil {
		return err
	}

	a.mu.Lock()
	s.Content.Narrative = resp.Content
	a.mu.Unlock()
	return nil
}

func (a *Agent) refine(ctx context.Context, s *Session, choice string) error {
	switch choice {
	case "accept":
		a.setPhase(s, PhaseCompleted)
		return nil
	case "auto_fix":
		if _, err := a.AutoFix(ctx, s.ID); err != nil {
			return err
		}
	default:
		if _, err := a.Validate(ctx, s.ID); err != nil {
			return err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s.Content.Report != nil && s.Content.Report.Score >= qualityThreshold {
		s.Phase = PhaseCompleted
	}
	return nil
}

// Validate runs story validation and stores the quality report.
func (a *Agent) Validate(ctx context.Context, sessionID string) (*QualityReport, error) {
	s := a.snapshot(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	compiled, err := a.compiler.Compile("story_validation", map[string]any{
		"genre":           s.Genre,
		"content_summary": contentSummary(s),
	})
	if err != nil {
		return nil, fmt.Errorf("validating story: %w", err)
	}

	schema := structured.Object(map[string]*structured.Schema{
		"is_valid":        structured.Boolean("whether the story is playable as is"),
		"issues":          structured.Array("problems found, each with category, severity, description, auto_fixable"),
		"score":           structured.Number("overall quality, 0 to 100"),
		"recommendations": structured.Array("suggested improvements"),
	}, "is_valid", "issues", "score")

	resp, err := a.dispatcher.GenerateStructured(ctx, compiled, schema, provider.RequestOptions{Temperature: 0.3})
	if err != nil {
		return nil, fmt.Errorf("validating story: %w", err)
	}
	if len(resp.ValidationErrors) > 0 {
		return nil, fmt.Errorf("validating story: invalid report: %s", strings.Join(resp.ValidationErrors, "; "))
	}

	report := mapReport(resp.Parsed)

	a.mu.Lock()
	if live, ok := a.sessions[sessionID]; ok {
		live.Content.Report = report
		live.UpdatedAt = time.Now().UTC()
	}
	a.mu.Unlock()
	return report, nil
}

// mapReport decodes the parsed validation output. Issue entries are
// arrays of loose objects; the structured validator does not descend
// into them, so they are mapped field by field here.
func mapReport(parsed map[string]any) *QualityReport {
	r := &QualityReport{}
	if v, ok := parsed["is_valid"].(bool); ok {
		r.IsValid = v
	}
	if score, ok := parsed["score"].(float64); ok {
		r.Score = score
	}
	if recs, ok := parsed["recommendations"].([]any); ok {
		for _, rec := range recs {
			if str, ok := rec.(string); ok {
				r.Recommendations = append(r.Recommendations, str)
			}
		}
	}
	if issues, ok := parsed["issues"].([]any); ok {
		for _, raw := range issues {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			issue := Issue{}
			issue.Category, _ = m["category"].(string)
			issue.Severity, _ = m["severity"].(string)
			issue.Description, _ = m["description"].(string)
			issue.AutoFixable, _ = m["auto_fixable"].(bool)
			if issue.Severity == "" {
				issue.Severity = "warning"
			}
			r.Issues = append(r.Issues, issue)
		}
	}
	return r
}

// AutoFix validates if needed, then marks auto-fixable issues fixed and
// bumps the score. Issues that need a human stay open.
func (a *Agent) AutoFix(ctx context.Context, sessionID string) (*QualityReport, error) {
	s := a.snapshot(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Content.Report == nil {
		if _, err := a.Validate(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	live, ok := a.sessions[sessionID]
	if !ok || live.Content.Report == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	report := live.Content.Report
	fixed := 0
	for i := range report.Issues {
		if report.Issues[i].AutoFixable && !report.Issues[i].Fixed {
			report.Issues[i].Fixed = true
			fixed++
		}
	}
	if fixed > 0 {
		report.Score += float64(fixed) * 5
		if report.Score > 100 {
			report.Score = 100
		}
		a.logger.Info("auto-fixed story issues", "session_id", sessionID, "fixed", fixed)
	}
	out := *report
	return &out, nil
}

// Finalize deploys the session's content into the world. The session
// must be completed and must have no unresolved error-severity issues.
func (a *Agent) Finalize(ctx context.Context, sessionID string) (*Summary, error) {
	s := a.snapshot(sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Phase != PhaseCompleted {
		return nil, fmt.Errorf("session %s is in phase %s, not completed", sessionID, s.Phase)
	}
	if s.Content.Report != nil {
		for _, issue := range s.Content.Report.Issues {
			if issue.Severity == "error" && !issue.Fixed {
				return nil, fmt.Errorf("session %s has an unresolved error: %s", sessionID, issue.Description)
			}
		}
	}
	if a.writer == nil {
		return nil, fmt.Errorf("no world writer configured")
	}

	summary := &Summary{SessionID: s.ID, Theme: s.Theme, Genre: s.Genre}

	var firstRoomID string
	for _, room := range s.Content.Rooms {
		id, err := a.writer.CreateEntity(ctx, world.Entity{
			Kind:   world.KindRoom,
			Name:   room.Name,
			RoomID: "",
			Attributes: map[string]any{
				"description": room.Description,
				"objects":     room.Objects,
				"exits":       room.Exits,
				"atmosphere":  room.Atmosphere,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("deploying room %s: %w", room.Name, err)
		}
		if firstRoomID == "" {
			firstRoomID = id
		}
		summary.DeployedIDs = append(summary.DeployedIDs, id)
		summary.Rooms++
	}

	for _, npc := range s.Content.NPCs {
		id, err := a.writer.CreateEntity(ctx, world.Entity{
			Kind:   world.KindNPC,
			Name:   npc.Name,
			RoomID: firstRoomID,
			Attributes: map[string]any{
				"description": npc.Description,
				"personality": npc.Personality,
				"role":        npc.Role,
				"greeting":    npc.Greeting,
				"topics":      npc.Topics,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("deploying NPC %s: %w", npc.Name, err)
		}
		summary.DeployedIDs = append(summary.DeployedIDs, id)
		summary.NPCs++
	}

	for _, quest := range s.Content.Quests {
		id, err := a.writer.CreateEntity(ctx, world.Entity{
			Kind: world.KindQuest,
			Name: quest.Title,
			Attributes: map[string]any{
				"description": quest.Description,
				"objectives":  quest.Objectives,
				"reward":      quest.Reward,
				"difficulty":  quest.Difficulty,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("deploying quest %s: %w", quest.Title, err)
		}
		summary.DeployedIDs = append(summary.DeployedIDs, id)
		summary.Quests++
	}

	a.logger.Info("story finalized", "session_id", sessionID,
		"rooms", summary.Rooms, "npcs", summary.NPCs, "quests", summary.Quests)
	return summary, nil
}

// snapshot returns a deep-enough copy of the session for callers to read
// without holding the agent lock.
func (a *Agent) snapshot(sessionID string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	cp.Decisions = append([]DecisionRecord(nil), s.Decisions...)
	cp.Content.Rooms = append([]content.GeneratedRoom(nil), s.Content.Rooms...)
	cp.Content.NPCs = append([]content.GeneratedNPC(nil), s.Content.NPCs...)
	cp.Content.Quests = append([]content.GeneratedQuest(nil), s.Content.Quests...)
	if s.Content.Report != nil {
		report := *s.Content.Report
		report.Issues = append([]Issue(nil), s.Content.Report.Issues...)
		cp.Content.Report = &report
	}
	return &cp
}

func (a *Agent) progress(s *Session) Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Progress{Phase: s.Phase, Step: s.Step, TotalSteps: s.TotalSteps}
}

func contentSummary(s *Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s (%s)\n", s.Theme, s.Genre)
	if len(s.Content.WorldSketch) > 0 {
		if sketch, err := json.Marshal(s.Content.WorldSketch); err == nil {
			fmt.Fprintf(&b, "World: %s\n", sketch)
		}
	}
	for _, room := range s.Content.Rooms {
		fmt.Fprintf(&b, "Room: %s - %s\n", room.Name, room.Description)
	}
	for _, npc := range s.Content.NPCs {
		fmt.Fprintf(&b, "Character: %s (%s)\n", npc.Name, npc.Personality)
	}
	for _, quest := range s.Content.Quests {
		fmt.Fprintf(&b, "Quest: %s - %s\n", quest.Title, quest.Description)
	}
	if s.Content.Narrative != "" {
		fmt.Fprintf(&b, "Narrative: %s\n", s.Content.Narrative)
	}
	return b.String()
}
