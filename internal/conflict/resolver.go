package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
	"github.com/loreweave/loreweave/internal/world"
)

const (
	aiTemperature = 0.6
	historyPerKey = 20
	templateID    = "conflict_resolution"
)

// Generator is the slice of the dispatcher the resolver needs.
type Generator interface {
	GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error)
}

// Compiler is the slice of the template registry the resolver needs.
type Compiler interface {
	Compile(id string, vars map[string]any) (string, error)
}

// Resolver resolves conflicts with registered hooks first and AI second.
type Resolver struct {
	gen      Generator
	compiler Compiler
	writer   world.Writer
	logger   *slog.Logger
	hooks    hookRegistry

	mu      sync.Mutex
	history map[string][]Resolution
	counts  map[string]int
	success int
	total   int
}

// NewResolver creates a Resolver. gen and compiler may be nil, in which
// case unmatched conflicts go straight to the failsafe. writer may be nil
// to skip side-effect application.
func NewResolver(gen Generator, compiler Compiler, writer world.Writer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		gen:      gen,
		compiler: compiler,
		writer:   writer,
		logger:   logger,
		history:  make(map[string][]Resolution),
		counts:   make(map[string]int),
	}
}

// RegisterHook adds a rule hook. Higher priority hooks run first.
func (r *Resolver) RegisterHook(h Hook) {
	r.hooks.add(h)
}

// resolutionSchema is the fixed shape the AI path must produce.
func resolutionSchema() *structured.Schema {
	return structured.Object(map[string]*structured.Schema{
		"primary_solution": structured.Object(map[string]*structured.Schema{
			"action":      structured.String("short imperative description of the fix"),
			"explanation": structured.String("why this fix keeps the game consistent"),
			"changes":     structured.Object(nil),
			"confidence":  structured.Number("confidence in the fix, 0 to 1"),
		}, "action", "explanation"),
		"alternative_solutions": structured.Array("other viable fixes, as strings"),
		"narrative_description": structured.String("in-world narration of the fix"),
	}, "primary_solution", "narrative_description")
}

// Resolve resolves a conflict. It never returns an error: hook failures
// fall through to the AI path, AI failures fall through to the failsafe,
// and panics anywhere are converted to the failsafe resolution.
func (r *Resolver) Resolve(ctx context.Context, kind string, details Details) (res Resolution) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("conflict resolution panicked", "kind", kind, "panic", p)
			res = failsafe(kind)
			r.record(details.EntityIDs, res)
		}
	}()

	c := Context{
		ID:          uuid.New().String(),
		Kind:        kind,
		Severity:    details.Severity,
		EntityIDs:   details.EntityIDs,
		Location:    details.Location,
		Description: details.Description,
		Action:      details.Action,
		Snapshot:    details.Snapshot,
		OccurredAt:  time.Now().UTC(),
	}
	if c.Severity == "" {
		c.Severity = deriveSeverity(kind)
	}

	if res, ok := r.tryHooks(ctx, c); ok {
		r.applySideEffects(ctx, c, &res)
		r.record(c.EntityIDs, res)
		return res
	}

	res, err := r.tryAI(ctx, c)
	if err != nil {
		r.logger.Warn("AI conflict resolution failed, using failsafe",
			"kind", kind, "conflict_id", c.ID, "error", err)
		res = failsafe(kind)
		r.record(c.EntityIDs, res)
		return res
	}

	r.applySideEffects(ctx, c, &res)
	r.record(c.EntityIDs, res)
	return res
}

func (r *Resolver) tryHooks(ctx context.Context, c Context) (Resolution, bool) {
	for _, h := range r.hooks.matching(c) {
		res := r.runHook(ctx, h, c)
		if res == nil {
			continue
		}
		res.Kind = c.Kind
		if res.ResolvedBy == "" {
			res.ResolvedBy = "hook:" + h.Name
		}
		r.logger.Debug("conflict resolved by hook", "hook", h.Name, "conflict_id", c.ID)
		return *res, true
	}
	return Resolution{}, false
}

// runHook isolates hook panics so a bad rule cannot take down resolution.
func (r *Resolver) runHook(ctx context.Context, h Hook, c Context) (res *Resolution) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hook panicked", "hook", h.Name, "panic", p)
			res = nil
		}
	}()
	return h.Resolve(ctx, c)
}

func (r *Resolver) tryAI(ctx context.Context, c Context) (Resolution, error) {
	if r.gen == nil || r.compiler == nil {
		return Resolution{}, fmt.Errorf("no generator configured")
	}

	prompt, err := r.compiler.Compile(templateID, map[string]any{
		"conflict_type": c.Kind,
		"severity":      c.Severity,
		"description":   c.Description,
		"entities":      c.EntityIDs,
		"location":      c.Location,
		"action":        c.Action,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("compiling resolution prompt: %w", err)
	}

	resp, err := r.gen.GenerateStructured(ctx, prompt, resolutionSchema(), provider.RequestOptions{
		Temperature: aiTemperature,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("generating resolution: %w", err)
	}
	if len(resp.ValidationErrors) > 0 {
		return Resolution{}, fmt.Errorf("resolution failed validation: %s", strings.Join(resp.ValidationErrors, "; "))
	}

	res, err := mapResolution(c, resp.Parsed)
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

// mapResolution converts the parsed AI output into a Resolution.
func mapResolution(c Context, parsed map[string]any) (Resolution, error) {
	primary, ok := parsed["primary_solution"].(map[string]any)
	if !ok {
		return Resolution{}, fmt.Errorf("resolution missing primary_solution")
	}

	res := Resolution{
		Kind:       c.Kind,
		Success:    true,
		ResolvedBy: "ai",
		Confidence: 0.5,
	}
	if action, ok := primary["action"].(string); ok {
		res.Action = action
	}
	if explanation, ok := primary["explanation"].(string); ok {
		res.Explanation = explanation
	}
	if changes, ok := primary["changes"].(map[string]any); ok {
		res.Changes = changes
	}
	if confidence, ok := primary["confidence"].(float64); ok && confidence > 0 && confidence <= 1 {
		res.Confidence = confidence
	}
	if alts, ok := parsed["alternative_solutions"].([]any); ok {
		for _, a := range alts {
			if s, ok := a.(string); ok {
				res.Alternatives = append(res.Alternatives, s)
			}
		}
	}
	if narrative, ok := parsed["narrative_description"].(string); ok {
		res.Narrative = narrative
	}
	if res.Action == "" {
		return Resolution{}, fmt.Errorf("resolution has empty action")
	}

	// Low-confidence fixes to critical conflicts need a human in the loop.
	if c.Severity == SeverityCritical || (c.Severity == SeverityHigh && res.Confidence < 0.6) {
		res.NeedsConfirmation = true
	}
	return res, nil
}

// applySideEffects writes the resolution's entity changes through the
// world collaborator. Changes maps entity id to an attribute patch. All
// routines are no-op safe: missing writer, empty changes, or unknown
// entities reduce the resolution's confidence but never fail it.
func (r *Resolver) applySideEffects(ctx context.Context, c Context, res *Resolution) {
	if r.writer == nil || len(res.Changes) == 0 || res.NeedsConfirmation {
		return
	}

	apply := r.patchFunc(c.Kind)
	for entityID, raw := range res.Changes {
		patch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if err := apply(ctx, entityID, patch); err != nil {
			r.logger.Warn("side effect not applied",
				"conflict_id", c.ID, "entity", entityID, "error", err)
			res.SideEffects = append(res.SideEffects,
				fmt.Sprintf("change to %s was not applied", entityID))
		} else {
			res.SideEffects = append(res.SideEffects,
				fmt.Sprintf("updated %s", entityID))
		}
	}
}

func (r *Resolver) patchFunc(kind string) func(ctx context.Context, id string, patch map[string]any) error {
	switch kind {
	case KindPhysics, KindObjectState:
		return r.writer.UpdateObject
	case KindPlayerAction:
		return r.writer.UpdatePlayer
	default:
		return r.writer.UpdateEntity
	}
}

// record appends to the bounded per-entity-set history and bumps counters.
func (r *Resolver) record(entityIDs []string, res Resolution) {
	key := historyKey(entityIDs)

	r.mu.Lock()
	defer r.mu.Unlock()

	h := append(r.history[key], res)
	if len(h) > historyPerKey {
		h = h[len(h)-historyPerKey:]
	}
	r.history[key] = h

	r.counts[res.Kind]++
	r.total++
	if res.Success {
		r.success++
	}
}

func historyKey(entityIDs []string) string {
	if len(entityIDs) == 0 {
		return "(none)"
	}
	ids := make([]string, len(entityIDs))
	copy(ids, entityIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// History returns recent resolutions touching the given entity set.
func (r *Resolver) History(entityIDs []string) []Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[historyKey(entityIDs)]
	out := make([]Resolution, len(h))
	copy(out, h)
	return out
}

// Stats summarizes resolution activity.
type Stats struct {
	Total       int            `json:"total"`
	ByKind      map[string]int `json:"by_kind"`
	SuccessRate float64        `json:"success_rate"`
}

// Stats returns counts by kind and the overall success rate.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKind := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		byKind[k] = v
	}
	s := Stats{Total: r.total, ByKind: byKind}
	if r.total > 0 {
		s.SuccessRate = float64(r.success) / float64(r.total)
	}
	return s
}
