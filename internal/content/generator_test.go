package content

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
)

type mockDispatcher struct {
	calls        atomic.Int64
	structuredFn func(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error)
}

func (m *mockDispatcher) Generate(ctx context.Context, p string, opts provider.RequestOptions) (*provider.Response, error) {
	m.calls.Add(1)
	return &provider.Response{Content: "ok"}, nil
}

func (m *mockDispatcher) GenerateStructured(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
	m.calls.Add(1)
	if m.structuredFn != nil {
		return m.structuredFn(ctx, p, schema, opts)
	}
	return &provider.StructuredResponse{
		Parsed: map[string]any{
			"name":        "The Dusty Archive",
			"description": "Shelves sag under forgotten ledgers.",
			"objects":     []any{"ledger", "lamp"},
			"title":       "The Lost Ledger",
			"objectives":  []any{"find the ledger"},
			"personality": "irritable",
			"speaker":     "Archivist",
			"text":        "Mind the dust.",
		},
	}, nil
}

func newTestGenerator(d *mockDispatcher, store cache.Store) *Generator {
	r := prompt.NewRegistry(nil, cache.DefaultTTLPolicy())
	return NewGenerator(d, r, store, cache.DefaultTTLPolicy(), nil)
}

func TestRoomGeneration(t *testing.T) {
	g := newTestGenerator(&mockDispatcher{}, nil)

	room, err := g.Room(context.Background(), prompt.WorldContext{RoomName: "Archive"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if room.Name != "The Dusty Archive" {
		t.Errorf("name = %q", room.Name)
	}
	if room.Description == "" {
		t.Error("description empty")
	}
	if len(room.Objects) != 2 {
		t.Errorf("objects = %v", room.Objects)
	}
}

func TestNPCGeneration(t *testing.T) {
	g := newTestGenerator(&mockDispatcher{}, nil)

	npc, err := g.NPC(context.Background(), prompt.WorldContext{RoomName: "Archive"}, map[string]any{"role_hint": "librarian"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if npc.Personality != "irritable" {
		t.Errorf("personality = %q", npc.Personality)
	}
}

func TestQuestGeneration(t *testing.T) {
	g := newTestGenerator(&mockDispatcher{}, nil)

	quest, err := g.Quest(context.Background(), "lost knowledge", 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quest.Title != "The Lost Ledger" {
		t.Errorf("title = %q", quest.Title)
	}
	if len(quest.Objectives) != 1 {
		t.Errorf("objectives = %v", quest.Objectives)
	}
}

func TestDialogueUsesSpeakerFallback(t *testing.T) {
	d := &mockDispatcher{
		structuredFn: func(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			return &provider.StructuredResponse{
				Parsed: map[string]any{"speaker": "", "text": "Hm."},
			}, nil
		},
	}
	g := newTestGenerator(d, nil)

	line, err := g.Dialogue(context.Background(), "Archivist", "irritable", "hello", "calm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line.Speaker != "Archivist" {
		t.Errorf("speaker = %q, want fallback to NPC name", line.Speaker)
	}
}

func TestGenerationValidationFailure(t *testing.T) {
	d := &mockDispatcher{
		structuredFn: func(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			return &provider.StructuredResponse{
				Parsed:           map[string]any{},
				ValidationErrors: []string{"missing required property: name"},
			}, nil
		},
	}
	g := newTestGenerator(d, nil)

	if _, err := g.Room(context.Background(), prompt.WorldContext{RoomName: "X"}, nil); err == nil {
		t.Error("expected error on validation failure")
	}
}

func TestGenerationCached(t *testing.T) {
	d := &mockDispatcher{}
	store := cache.New(10)
	g := newTestGenerator(d, store)
	wc := prompt.WorldContext{RoomName: "Archive"}

	first, err := g.Room(context.Background(), wc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := g.Room(context.Background(), wc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.calls.Load() != 1 {
		t.Errorf("dispatcher calls = %d, want 1 (second hit cached)", d.calls.Load())
	}
	if first.Name != second.Name || first.Description != second.Description {
		t.Error("cached room differs from original")
	}
}

func TestBatchRunsAllRequests(t *testing.T) {
	d := &mockDispatcher{}
	g := newTestGenerator(d, nil)

	results, err := g.Batch(context.Background(), []BatchRequest{
		{Kind: "room", World: prompt.WorldContext{RoomName: "A"}},
		{Kind: "npc", World: prompt.WorldContext{RoomName: "A"}},
		{Kind: "quest", Theme: "revenge", Level: 2},
		{Kind: "bogus"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}
	if results[0].Room == nil || results[1].NPC == nil || results[2].Quest == nil {
		t.Errorf("missing typed results: %+v", results)
	}
	if results[3].Err == nil {
		t.Error("unknown kind should report an error in its result")
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	var n atomic.Int64
	d := &mockDispatcher{
		structuredFn: func(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error) {
			if n.Add(1) == 1 {
				return nil, errors.New("provider unavailable")
			}
			return &provider.StructuredResponse{
				Parsed: map[string]any{
					"name": "Room", "description": "desc",
					"title": "Quest", "objectives": []any{"go"},
				},
			}, nil
		},
	}
	g := newTestGenerator(d, nil)

	results, err := g.Batch(context.Background(), []BatchRequest{
		{Kind: "room", World: prompt.WorldContext{RoomName: "A"}},
		{Kind: "quest", Theme: "revenge", Level: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed results = %d, want 1", failed)
	}
}
