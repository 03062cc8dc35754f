package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/loreweave/loreweave/internal/conflict"
	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
)

// NewMCPServer creates an MCP server exposing generation, conflict, and
// story tools to agent clients.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"loreweave",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("loreweave — AI content generation and conflict resolution for a text adventure world."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_text",
			mcp.WithDescription("Generate free-form text through the provider chain with caching and failover."),
			mcp.WithString("prompt", mcp.Description("The prompt to generate from"), mcp.Required()),
			mcp.WithNumber("temperature", mcp.Description("Sampling temperature (default 0.7)")),
		),
		mcpGenerateText(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_room",
			mcp.WithDescription("Generate a room description for the game world."),
			mcp.WithString("room_name", mcp.Description("Name of the room"), mcp.Required()),
			mcp.WithString("room_type", mcp.Description("Kind of room (default generic)")),
			mcp.WithNumber("player_level", mcp.Description("Target player level (default 1)")),
		),
		mcpGenerateRoom(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_npc",
			mcp.WithDescription("Generate a non-player character for a room."),
			mcp.WithString("room_name", mcp.Description("Room the character belongs to"), mcp.Required()),
			mcp.WithString("role_hint", mcp.Description("Role hint, e.g. merchant or guard")),
		),
		mcpGenerateNPC(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_quest",
			mcp.WithDescription("Generate a quest around a theme."),
			mcp.WithString("theme", mcp.Description("Quest theme"), mcp.Required()),
			mcp.WithNumber("player_level", mcp.Description("Target player level (default 1)")),
		),
		mcpGenerateQuest(deps),
	)

	s.AddTool(
		mcp.NewTool("resolve_conflict",
			mcp.WithDescription("Resolve an impossible game state. Always returns a resolution, falling back to a safe reset."),
			mcp.WithString("kind", mcp.Description("Conflict kind: physics, npc_behavior, object_state, player_action, or world_consistency"), mcp.Required()),
			mcp.WithString("description", mcp.Description("What went wrong"), mcp.Required()),
			mcp.WithArray("entity_ids", mcp.Description("Affected entity ids")),
			mcp.WithString("location", mcp.Description("Where it happened")),
		),
		mcpResolveConflict(deps),
	)

	s.AddTool(
		mcp.NewTool("start_story",
			mcp.WithDescription("Start an interactive story creation session."),
			mcp.WithString("theme", mcp.Description("Story theme"), mcp.Required()),
			mcp.WithString("genre", mcp.Description("Story genre"), mcp.Required()),
			mcp.WithNumber("player_level", mcp.Description("Target player level (default 1)")),
		),
		mcpStartStory(deps),
	)

	s.AddTool(
		mcp.NewTool("story_decision",
			mcp.WithDescription("Answer the pending decision of a story session and advance it."),
			mcp.WithString("session_id", mcp.Description("Story session id"), mcp.Required()),
			mcp.WithString("decision_id", mcp.Description("Pending decision id"), mcp.Required()),
			mcp.WithString("choice", mcp.Description("Chosen option; empty takes the default")),
		),
		mcpStoryDecision(deps),
	)

	s.AddTool(
		mcp.NewTool("finalize_story",
			mcp.WithDescription("Deploy a completed story session's content into the world."),
			mcp.WithString("session_id", mcp.Description("Story session id"), mcp.Required()),
		),
		mcpFinalizeStory(deps),
	)

	return s
}

func mcpGenerateText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		promptText, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		temperature := req.GetFloat("temperature", 0.7)

		resp, err := deps.Dispatcher.Generate(ctx, promptText, provider.RequestOptions{Temperature: temperature})
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(resp.Content), nil
	}
}

func mcpGenerateRoom(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		roomName, err := req.RequireString("room_name")
		if err != nil {
			return mcpError("room_name is required"), nil
		}
		wc := prompt.WorldContext{
			RoomName:    roomName,
			RoomType:    req.GetString("room_type", ""),
			PlayerLevel: req.GetInt("player_level", 1),
		}

		room, err := deps.Content.Room(ctx, wc, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("room generation failed: %v", err)), nil
		}
		return mcpJSON(room)
	}
}

func mcpGenerateNPC(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		roomName, err := req.RequireString("room_name")
		if err != nil {
			return mcpError("room_name is required"), nil
		}
		overrides := map[string]any{}
		if hint := req.GetString("role_hint", ""); hint != "" {
			overrides["role_hint"] = hint
		}

		npc, err := deps.Content.NPC(ctx, prompt.WorldContext{RoomName: roomName}, overrides)
		if err != nil {
			return mcpError(fmt.Sprintf("NPC generation failed: %v", err)), nil
		}
		return mcpJSON(npc)
	}
}

func mcpGenerateQuest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		theme, err := req.RequireString("theme")
		if err != nil {
			return mcpError("theme is required"), nil
		}

		quest, err := deps.Content.Quest(ctx, theme, req.GetInt("player_level", 1), nil)
		if err != nil {
			return mcpError(fmt.Sprintf("quest generation failed: %v", err)), nil
		}
		return mcpJSON(quest)
	}
}

func mcpResolveConflict(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcpError("kind is required"), nil
		}
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		res := deps.Resolver.Resolve(ctx, kind, conflict.Details{
			Description: description,
			EntityIDs:   req.GetStringSlice("entity_ids", nil),
			Location:    req.GetString("location", ""),
		})
		return mcpJSON(res)
	}
}

func mcpStartStory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		theme, err := req.RequireString("theme")
		if err != nil {
			return mcpError("theme is required"), nil
		}
		genre, err := req.RequireString("genre")
		if err != nil {
			return mcpError("genre is required"), nil
		}

		s, d, err := deps.Story.Start(theme, genre, req.GetInt("player_level", 1), nil)
		if err != nil {
			return mcpError(fmt.Sprintf("starting story failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{"session": s, "decision": d})
	}
}

func mcpStoryDecision(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		decisionID, err := req.RequireString("decision_id")
		if err != nil {
			return mcpError("decision_id is required"), nil
		}

		next, progress, err := deps.Story.ProcessDecision(ctx, sessionID, decisionID, req.GetString("choice", ""), "")
		if err != nil {
			return mcpError(fmt.Sprintf("processing decision failed: %v", err)), nil
		}
		return mcpJSON(map[string]any{"next_decision": next, "progress": progress})
	}
}

func mcpFinalizeStory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		summary, err := deps.Story.Finalize(ctx, sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("finalize failed: %v", err)), nil
		}
		return mcpJSON(summary)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
