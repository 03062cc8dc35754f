package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
)

// Generator produces typed game content. Results are cached under the
// content namespace keyed by template id and variables, so repeated
// requests for the same room or NPC come back without a provider call.
type Generator struct {
	dispatcher Dispatcher
	compiler   Compiler
	store      cache.Store
	ttl        cache.TTLPolicy
	logger     *slog.Logger
}

// NewGenerator creates a Generator. store may be nil to disable caching.
func NewGenerator(d Dispatcher, c Compiler, store cache.Store, ttl cache.TTLPolicy, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{dispatcher: d, compiler: c, store: store, ttl: ttl, logger: logger}
}

// Room generates a room description for the given world context.
func (g *Generator) Room(ctx context.Context, wc prompt.WorldContext, overrides map[string]any) (*GeneratedRoom, error) {
	var room GeneratedRoom
	vars := mergeVars(wc.Vars(), overrides)
	err := g.generate(ctx, "room_description", vars, roomSchema(), &room)
	if err != nil {
		return nil, fmt.Errorf("generating room: %w", err)
	}
	if room.Name == "" {
		room.Name = wc.RoomName
	}
	return &room, nil
}

// NPC generates a character for the given world context.
func (g *Generator) NPC(ctx context.Context, wc prompt.WorldContext, overrides map[string]any) (*GeneratedNPC, error) {
	var npc GeneratedNPC
	vars := mergeVars(wc.Vars(), overrides)
	if _, ok := vars["role_hint"]; !ok {
		vars["role_hint"] = "any"
	}
	err := g.generate(ctx, "npc_generation", vars, npcSchema(), &npc)
	if err != nil {
		return nil, fmt.Errorf("generating NPC: %w", err)
	}
	return &npc, nil
}

// Quest generates a quest around a theme.
func (g *Generator) Quest(ctx context.Context, theme string, playerLevel int, overrides map[string]any) (*GeneratedQuest, error) {
	vars := map[string]any{
		"theme":        theme,
		"player_level": playerLevel,
	}
	vars = mergeVars(vars, overrides)

	var quest GeneratedQuest
	err := g.generate(ctx, "quest_generation", vars, questSchema(), &quest)
	if err != nil {
		return nil, fmt.Errorf("generating quest: %w", err)
	}
	return &quest, nil
}

// Dialogue generates the next line an NPC speaks. Dialogue is never
// cached: the same question should not always get the same answer.
func (g *Generator) Dialogue(ctx context.Context, npcName, personality, playerLine, mood string) (*DialogueLine, error) {
	compiled, err := g.compiler.Compile("dialogue_generation", map[string]any{
		"npc_name":        npcName,
		"npc_personality": personality,
		"player_line":     playerLine,
		"mood":            mood,
	})
	if err != nil {
		return nil, fmt.Errorf("generating dialogue: %w", err)
	}

	resp, err := g.dispatcher.GenerateStructured(ctx, compiled, dialogueSchema(), provider.RequestOptions{
		Temperature: 0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("generating dialogue: %w", err)
	}
	if len(resp.ValidationErrors) > 0 {
		return nil, fmt.Errorf("generating dialogue: invalid output: %s", strings.Join(resp.ValidationErrors, "; "))
	}

	var line DialogueLine
	if err := remap(resp.Parsed, &line); err != nil {
		return nil, fmt.Errorf("generating dialogue: %w", err)
	}
	if line.Speaker == "" {
		line.Speaker = npcName
	}
	return &line, nil
}

// BatchRequest names one generation in a batch.
type BatchRequest struct {
	Kind      string // room | npc | quest
	World     prompt.WorldContext
	Theme     string
	Level     int
	Overrides map[string]any
}

// BatchResult pairs a request with its outcome.
type BatchResult struct {
	Request BatchRequest
	Room    *GeneratedRoom
	NPC     *GeneratedNPC
	Quest   *GeneratedQuest
	Err     error
}

// Batch runs independent generations concurrently. Individual failures
// land in the matching result's Err; Batch itself only fails on ctx
// cancellation.
func (g *Generator) Batch(ctx context.Context, reqs []BatchRequest) ([]BatchResult, error) {
	results := make([]BatchResult, len(reqs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)

	for i, req := range reqs {
		eg.Go(func() error {
			results[i].Request = req
			switch req.Kind {
			case "room":
				results[i].Room, results[i].Err = g.Room(ctx, req.World, req.Overrides)
			case "npc":
				results[i].NPC, results[i].Err = g.NPC(ctx, req.World, req.Overrides)
			case "quest":
				results[i].Quest, results[i].Err = g.Quest(ctx, req.Theme, req.Level, req.Overrides)
			default:
				results[i].Err = fmt.Errorf("unknown batch kind %q", req.Kind)
			}
			return ctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return results, fmt.Errorf("batch generation: %w", err)
	}
	return results, nil
}

// generate compiles, checks the content cache, dispatches, validates,
// and decodes into out.
func (g *Generator) generate(ctx context.Context, templateID string, vars map[string]any, schema *structured.Schema, out any) error {
	key := g.cacheKey(templateID, vars)
	if key != "" {
		if cached, ok := g.store.Get(ctx, key); ok {
			return json.Unmarshal([]byte(cached), out)
		}
	}

	compiled, err := g.compiler.Compile(templateID, vars)
	if err != nil {
		return err
	}

	resp, err := g.dispatcher.GenerateStructured(ctx, compiled, schema, provider.RequestOptions{
		Temperature: 0.8,
	})
	if err != nil {
		return err
	}
	if len(resp.ValidationErrors) > 0 {
		return fmt.Errorf("invalid output: %s", strings.Join(resp.ValidationErrors, "; "))
	}

	if err := remap(resp.Parsed, out); err != nil {
		return err
	}

	if key != "" {
		if encoded, merr := json.Marshal(out); merr == nil {
			g.store.Set(ctx, key, string(encoded), g.ttl.ForNamespace(cache.NamespaceContent))
		}
	}
	return nil
}

func (g *Generator) cacheKey(templateID string, vars map[string]any) string {
	if g.store == nil {
		return ""
	}
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return ""
	}
	return cache.Key(cache.NamespaceContent, templateID, string(varsJSON))
}

// remap decodes a parsed JSON map into a typed struct.
func remap(parsed map[string]any, out any) error {
	b, err := json.Marshal(parsed)
	if err != nil {
		return fmt.Errorf("re-encoding parsed output: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding parsed output: %w", err)
	}
	return nil
}

func mergeVars(base, overrides map[string]any) map[string]any {
	for k, v := range overrides {
		base[k] = v
	}
	return base
}
