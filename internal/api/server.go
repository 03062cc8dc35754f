// Package api exposes the generation, conflict, template, and story
// operations over REST (chi) and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loreweave/loreweave/internal/cache"
	"github.com/loreweave/loreweave/internal/conflict"
	"github.com/loreweave/loreweave/internal/content"
	"github.com/loreweave/loreweave/internal/dispatch"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/resilience"
	"github.com/loreweave/loreweave/internal/story"
	"github.com/loreweave/loreweave/internal/structured"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the collaborators the REST handler serves.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *prompt.Registry
	Content    *content.Generator
	Resolver   *conflict.Resolver
	Story      *story.Agent
	Monitor    *resilience.Monitor
	Cache      cache.Store
	// AuthToken protects /v1; empty disables auth.
	AuthToken string
}

// NewHandler returns the REST API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/v1", func(r chi.Router) {
		if deps.AuthToken != "" {
			r.Use(BearerAuth(deps.AuthToken))
		}

		r.Post("/generate", handleGenerate(deps))
		r.Post("/generate/structured", handleGenerateStructured(deps))

		r.Post("/content/room", handleRoom(deps))
		r.Post("/content/npc", handleNPC(deps))
		r.Post("/content/quest", handleQuest(deps))
		r.Post("/content/dialogue", handleDialogue(deps))

		r.Post("/conflicts/resolve", handleResolveConflict(deps))

		r.Get("/templates", handleListTemplates(deps))
		r.Get("/templates/{id}", handleGetTemplate(deps))
		r.Post("/templates/{id}/compile", handleCompileTemplate(deps))

		r.Get("/providers", handleListProviders(deps))
		r.Post("/providers/test", handleTestProviders(deps))

		r.Post("/stories", handleStartStory(deps))
		r.Get("/stories", handleListStories(deps))
		r.Get("/stories/{id}", handleGetStory(deps))
		r.Post("/stories/{id}/decision", handleDecision(deps))
		r.Post("/stories/{id}/finalize", handleFinalize(deps))

		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if deps.Monitor != nil && !deps.Monitor.Healthy() {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

type generateRequest struct {
	Prompt       string             `json:"prompt"`
	Model        string             `json:"model,omitempty"`
	Temperature  float64            `json:"temperature,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	History      []provider.Message `json:"history,omitempty"`
	Schema       *structured.Schema `json:"schema,omitempty"`
}

func (g generateRequest) options() provider.RequestOptions {
	return provider.RequestOptions{
		Model:        g.Model,
		Temperature:  g.Temperature,
		MaxTokens:    g.MaxTokens,
		SystemPrompt: g.SystemPrompt,
		History:      g.History,
	}
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		resp, err := deps.Dispatcher.Generate(r.Context(), req.Prompt, req.options())
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleGenerateStructured(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}
		if req.Schema == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "schema is required")
			return
		}

		resp, err := deps.Dispatcher.GenerateStructured(r.Context(), req.Prompt, req.Schema, req.options())
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type contentRequest struct {
	World     prompt.WorldContext `json:"world"`
	Theme     string              `json:"theme,omitempty"`
	Level     int                 `json:"player_level,omitempty"`
	Overrides map[string]any      `json:"overrides,omitempty"`

	// Dialogue fields.
	NPCName     string `json:"npc_name,omitempty"`
	Personality string `json:"personality,omitempty"`
	PlayerLine  string `json:"player_line,omitempty"`
	Mood        string `json:"mood,omitempty"`
}

func handleRoom(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.World.RoomName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "world.RoomName is required")
			return
		}
		room, err := deps.Content.Room(r.Context(), req.World, req.Overrides)
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func handleNPC(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.World.RoomName == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "world.RoomName is required")
			return
		}
		npc, err := deps.Content.NPC(r.Context(), req.World, req.Overrides)
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, npc)
	}
}

func handleQuest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Theme == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "theme is required")
			return
		}
		quest, err := deps.Content.Quest(r.Context(), req.Theme, req.Level, req.Overrides)
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quest)
	}
}

func handleDialogue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req contentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.NPCName == "" || req.PlayerLine == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "npc_name and player_line are required")
			return
		}
		line, err := deps.Content.Dialogue(r.Context(), req.NPCName, req.Personality, req.PlayerLine, req.Mood)
		if err != nil {
			dispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, line)
	}
}

type conflictRequest struct {
	Kind        string         `json:"kind"`
	Description string         `json:"description"`
	EntityIDs   []string       `json:"entity_ids,omitempty"`
	Location    string         `json:"location,omitempty"`
	Action      string         `json:"action,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Snapshot    map[string]any `json:"snapshot,omitempty"`
}

func handleResolveConflict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conflictRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Kind == "" || req.Description == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind and description are required")
			return
		}

		res := deps.Resolver.Resolve(r.Context(), req.Kind, conflict.Details{
			Description: req.Description,
			EntityIDs:   req.EntityIDs,
			Location:    req.Location,
			Action:      req.Action,
			Severity:    req.Severity,
			Snapshot:    req.Snapshot,
		})
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListTemplates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Registry.List())
	}
}

func handleGetTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := deps.Registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleCompileTemplate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var vars map[string]any
		if !decodeBody(w, r, &vars) {
			return
		}
		compiled, err := deps.Registry.Compile(chi.URLParam(r, "id"), vars)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"prompt": compiled})
	}
}

func handleListProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": deps.Dispatcher.Providers()})
	}
}

func handleTestProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Dispatcher.TestProviders(r.Context()))
	}
}

type startStoryRequest struct {
	Theme       string         `json:"theme"`
	Genre       string         `json:"genre"`
	PlayerLevel int            `json:"player_level,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

func handleStartStory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startStoryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s, d, err := deps.Story.Start(req.Theme, req.Genre, req.PlayerLevel, req.Preferences)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": s, "decision": d})
	}
}

func handleListStories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Story.List())
	}
}

func handleGetStory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Story.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type decisionRequest struct {
	DecisionID string `json:"decision_id"`
	Choice     string `json:"choice,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

func handleDecision(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		next, progress, err := deps.Story.ProcessDecision(r.Context(), chi.URLParam(r, "id"), req.DecisionID, req.Choice, req.Feedback)
		if err != nil {
			if errors.Is(err, story.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			} else {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"next_decision": next, "progress": progress})
	}
}

func handleFinalize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := deps.Story.Finalize(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, story.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
			} else {
				httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			}
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := map[string]any{
			"dispatch": deps.Dispatcher.Stats(),
		}
		if deps.Cache != nil {
			stats["cache"] = deps.Cache.Stats()
		}
		if deps.Monitor != nil {
			stats["errors"] = deps.Monitor.Stats()
		}
		if deps.Resolver != nil {
			stats["conflicts"] = deps.Resolver.Stats()
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// dispatchError maps dispatch failures to status codes: no providers or a
// fully failed chain is an upstream problem, everything else a bad request.
func dispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNoProviders), errors.Is(err, dispatch.ErrAllProvidersFailed):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
