package conflict

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
	"github.com/loreweave/loreweave/internal/world"
)

type mockGenerator struct {
	calls        int
	structuredFn func(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error)
}

func (m *mockGenerator) GenerateStructured(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
	m.calls++
	if m.structuredFn != nil {
		return m.structuredFn(ctx, prompt, schema, opts)
	}
	return &provider.StructuredResponse{
		Parsed: map[string]any{
			"primary_solution": map[string]any{
				"action":      "Move the lantern to the floor",
				"explanation": "Two objects cannot occupy the same spot",
				"confidence":  0.9,
			},
			"narrative_description": "The lantern slips and clatters to the floor.",
		},
	}, nil
}

type mockCompiler struct{}

func (mockCompiler) Compile(id string, vars map[string]any) (string, error) {
	return fmt.Sprintf("resolve %s: %v", id, vars["description"]), nil
}

type mockWriter struct {
	objectPatches map[string]map[string]any
	entityPatches map[string]map[string]any
	playerPatches map[string]map[string]any
}

func newMockWriter() *mockWriter {
	return &mockWriter{
		objectPatches: make(map[string]map[string]any),
		entityPatches: make(map[string]map[string]any),
		playerPatches: make(map[string]map[string]any),
	}
}

func (m *mockWriter) CreateEntity(ctx context.Context, e world.Entity) (string, error) {
	return "id", nil
}

func (m *mockWriter) UpdateEntity(ctx context.Context, id string, patch map[string]any) error {
	m.entityPatches[id] = patch
	return nil
}

func (m *mockWriter) UpdateObject(ctx context.Context, id string, patch map[string]any) error {
	m.objectPatches[id] = patch
	return nil
}

func (m *mockWriter) UpdatePlayer(ctx context.Context, id string, patch map[string]any) error {
	m.playerPatches[id] = patch
	return nil
}

func (m *mockWriter) LinkSpatial(ctx context.Context, link world.SpatialLink) error {
	return nil
}

func TestHookShortCircuitsProvider(t *testing.T) {
	gen := &mockGenerator{}
	r := NewResolver(gen, mockCompiler{}, nil, nil)
	r.RegisterHook(Hook{
		Name:     "stacking",
		Trigger:  "same location",
		Priority: 10,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			return &Resolution{Success: true, Action: "Stack the objects", Confidence: 1.0}
		},
	})

	res := r.Resolve(context.Background(), KindPhysics, Details{
		Description: "two objects in the same location",
	})
	if !res.Success {
		t.Error("hook resolution should succeed")
	}
	if res.ResolvedBy != "hook:stacking" {
		t.Errorf("resolved_by = %q, want hook:stacking", res.ResolvedBy)
	}
	if gen.calls != 0 {
		t.Errorf("provider called %d times, want 0", gen.calls)
	}
}

func TestHookPriorityOrdering(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	r.RegisterHook(Hook{
		Name: "low", Trigger: "overlap", Priority: 1,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			return &Resolution{Success: true, Action: "low", Confidence: 1}
		},
	})
	r.RegisterHook(Hook{
		Name: "high", Trigger: "overlap", Priority: 5,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			return &Resolution{Success: true, Action: "high", Confidence: 1}
		},
	})

	res := r.Resolve(context.Background(), KindPhysics, Details{Description: "objects overlap"})
	if res.Action != "high" {
		t.Errorf("action = %q, want high-priority hook to win", res.Action)
	}
}

func TestHookPassFallsThroughToAI(t *testing.T) {
	gen := &mockGenerator{}
	r := NewResolver(gen, mockCompiler{}, nil, nil)
	r.RegisterHook(Hook{
		Name: "pass", Trigger: "lantern", Priority: 10,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			return nil // decline
		},
	})

	res := r.Resolve(context.Background(), KindObjectState, Details{
		Description: "lantern is both lit and underwater",
	})
	if !res.Success {
		t.Errorf("expected AI resolution, got %+v", res)
	}
	if res.ResolvedBy != "ai" {
		t.Errorf("resolved_by = %q, want ai", res.ResolvedBy)
	}
	if res.Narrative == "" {
		t.Error("AI resolution should carry a narrative")
	}
	if gen.calls != 1 {
		t.Errorf("provider calls = %d, want 1", gen.calls)
	}
}

func TestFailsafeOnProviderError(t *testing.T) {
	gen := &mockGenerator{
		structuredFn: func(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			return nil, errors.New("provider unavailable")
		},
	}
	r := NewResolver(gen, mockCompiler{}, nil, nil)

	res := r.Resolve(context.Background(), KindWorldConsistency, Details{
		Description: "room connects to itself through a one-way exit",
	})
	if res.Success {
		t.Error("failsafe resolution must not claim success")
	}
	if res.Action != "Reset to safe state" {
		t.Errorf("action = %q, want failsafe action", res.Action)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", res.Confidence)
	}
	if res.ResolvedBy != "failsafe" {
		t.Errorf("resolved_by = %q, want failsafe", res.ResolvedBy)
	}
}

func TestFailsafeOnHookPanic(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	r.RegisterHook(Hook{
		Name: "bad", Trigger: "ghost", Priority: 1,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			panic("bad rule")
		},
	})

	// The panicking hook is skipped; with no generator the failsafe lands.
	res := r.Resolve(context.Background(), KindNPCBehavior, Details{
		Description: "ghost NPC walks through a locked door",
	})
	if res.ResolvedBy != "failsafe" {
		t.Errorf("resolved_by = %q, want failsafe", res.ResolvedBy)
	}
}

func TestSeverityDerivation(t *testing.T) {
	cases := []struct {
		kind string
		want string
	}{
		{KindWorldConsistency, SeverityHigh},
		{KindPlayerAction, SeverityLow},
		{KindPhysics, SeverityMedium},
		{KindNPCBehavior, SeverityMedium},
		{KindObjectState, SeverityMedium},
	}
	for _, tc := range cases {
		if got := deriveSeverity(tc.kind); got != tc.want {
			t.Errorf("deriveSeverity(%s) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestSideEffectsAppliedPerKind(t *testing.T) {
	gen := &mockGenerator{
		structuredFn: func(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			return &provider.StructuredResponse{
				Parsed: map[string]any{
					"primary_solution": map[string]any{
						"action":      "Unlight the lantern",
						"explanation": "Water extinguishes flame",
						"changes": map[string]any{
							"lantern-1": map[string]any{"lit": false},
						},
						"confidence": 0.95,
					},
					"narrative_description": "The flame hisses out.",
				},
			}, nil
		},
	}
	w := newMockWriter()
	r := NewResolver(gen, mockCompiler{}, w, nil)

	res := r.Resolve(context.Background(), KindObjectState, Details{
		Description: "lantern lit underwater",
		EntityIDs:   []string{"lantern-1"},
	})
	if !res.Success {
		t.Fatalf("resolution failed: %+v", res)
	}
	patch, ok := w.objectPatches["lantern-1"]
	if !ok {
		t.Fatal("object patch not applied")
	}
	if lit, _ := patch["lit"].(bool); lit {
		t.Error("patch should set lit=false")
	}
	if len(res.SideEffects) != 1 {
		t.Errorf("side effects = %v, want one entry", res.SideEffects)
	}
}

func TestHistoryBoundedAndStats(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	r.RegisterHook(Hook{
		Name: "any", Trigger: "physics", Priority: 1,
		Resolve: func(ctx context.Context, c Context) *Resolution {
			return &Resolution{Success: true, Action: "fix", Confidence: 1}
		},
	})

	for i := 0; i < historyPerKey+5; i++ {
		r.Resolve(context.Background(), KindPhysics, Details{
			Description: "physics glitch",
			EntityIDs:   []string{"b", "a"},
		})
	}

	// Entity order must not matter for history lookup.
	h := r.History([]string{"a", "b"})
	if len(h) != historyPerKey {
		t.Errorf("history length = %d, want bounded at %d", len(h), historyPerKey)
	}

	s := r.Stats()
	if s.Total != historyPerKey+5 {
		t.Errorf("total = %d, want %d", s.Total, historyPerKey+5)
	}
	if s.ByKind[KindPhysics] != historyPerKey+5 {
		t.Errorf("by kind = %v", s.ByKind)
	}
	if s.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", s.SuccessRate)
	}
}

func TestValidationErrorsTriggerFailsafe(t *testing.T) {
	gen := &mockGenerator{
		structuredFn: func(ctx context.Context, prompt string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			return &provider.StructuredResponse{
				Parsed:           map[string]any{},
				ValidationErrors: []string{"missing required property: primary_solution"},
			}, nil
		},
	}
	r := NewResolver(gen, mockCompiler{}, nil, nil)

	res := r.Resolve(context.Background(), KindPhysics, Details{Description: "glitch"})
	if res.ResolvedBy != "failsafe" {
		t.Errorf("resolved_by = %q, want failsafe", res.ResolvedBy)
	}
}
