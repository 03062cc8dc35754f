package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/loreweave/loreweave/internal/cache"
)

// Registry holds templates by id. Compiled prompts are cached under the
// template namespace when a cache store is provided.
type Registry struct {
	mu        sync.Mutex
	templates map[string]*Template
	store     cache.Store
	ttl       cache.TTLPolicy
}

// NewRegistry creates a Registry seeded with the built-in template set.
// store may be nil to disable compile caching.
func NewRegistry(store cache.Store, ttl cache.TTLPolicy) *Registry {
	r := &Registry{
		templates: make(map[string]*Template),
		store:     store,
		ttl:       ttl,
	}
	for _, t := range builtinTemplates() {
		r.templates[t.ID] = t
	}
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t *Template) error {
	if t.ID == "" {
		return fmt.Errorf("template id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get returns the template with the given id.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", id)
	}
	return t, nil
}

// List returns all templates sorted by id.
func (r *Registry) List() []*Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Compile validates vars against the template's specs and substitutes
// placeholders. Results are cached keyed by template id and variables.
func (r *Registry) Compile(id string, vars map[string]any) (string, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}

	key := ""
	if r.store != nil {
		varsJSON, merr := json.Marshal(vars)
		if merr == nil {
			key = cache.Key(cache.NamespaceTemplate, id, string(varsJSON))
			if compiled, ok := r.store.Get(context.Background(), key); ok {
				return compiled, nil
			}
		}
	}

	compiled, err := t.compile(vars)
	if err != nil {
		return "", fmt.Errorf("compiling template %s: %w", id, err)
	}

	if key != "" {
		r.store.Set(context.Background(), key, compiled, r.ttl.ForNamespace(cache.NamespaceTemplate))
	}
	return compiled, nil
}

// WorldContext is a snapshot of the game state surrounding a generation
// request, pulled from the persistence collaborators.
type WorldContext struct {
	RoomName    string
	RoomType    string
	Objects     []string
	Connections []string
	Culture     string
	TechLevel   string
	PlayerLevel int
}

// Vars derives the template variable map from the snapshot.
func (wc WorldContext) Vars() map[string]any {
	vars := map[string]any{
		"room_name":    wc.RoomName,
		"room_type":    wc.RoomType,
		"objects":      wc.Objects,
		"connections":  wc.Connections,
		"culture":      wc.Culture,
		"tech_level":   wc.TechLevel,
		"player_level": wc.PlayerLevel,
	}
	if wc.RoomType == "" {
		vars["room_type"] = "generic"
	}
	if wc.Culture == "" {
		vars["culture"] = "medieval fantasy"
	}
	if wc.TechLevel == "" {
		vars["tech_level"] = "pre-industrial"
	}
	if wc.PlayerLevel <= 0 {
		vars["player_level"] = 1
	}
	return vars
}

// CompileWithContext derives variables from the world snapshot, merges
// caller-supplied overrides on top, and compiles.
func (r *Registry) CompileWithContext(id string, wc WorldContext, overrides map[string]any) (string, error) {
	vars := wc.Vars()
	for k, v := range overrides {
		vars[k] = v
	}
	return r.Compile(id, vars)
}
