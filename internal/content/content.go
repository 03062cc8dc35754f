// Package content turns prompt templates plus structured dispatch into
// typed game artifacts: rooms, NPCs, quests, and dialogue lines.
package content

import (
	"context"

	"github.com/loreweave/loreweave/internal/prompt"
	"github.com/loreweave/loreweave/internal/provider"
	"github.com/loreweave/loreweave/internal/structured"
)

// Dispatcher is the slice of the provider dispatcher the generators need.
type Dispatcher interface {
	Generate(ctx context.Context, p string, opts provider.RequestOptions) (*provider.Response, error)
	GenerateStructured(ctx context.Context, p string, schema *structured.Schema, opts provider.RequestOptions) (*provider.StructuredResponse, error)
}

// Compiler is the slice of the template registry the generators need.
type Compiler interface {
	Compile(id string, vars map[string]any) (string, error)
	CompileWithContext(id string, wc prompt.WorldContext, overrides map[string]any) (string, error)
}

// GeneratedRoom is a room produced by the room_description template.
type GeneratedRoom struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Objects     []string `json:"objects,omitempty"`
	Exits       []string `json:"exits,omitempty"`
	Atmosphere  string   `json:"atmosphere,omitempty"`
}

// GeneratedNPC is a character produced by the npc_generation template.
type GeneratedNPC struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Personality string   `json:"personality"`
	Role        string   `json:"role,omitempty"`
	Greeting    string   `json:"greeting,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}

// GeneratedQuest is a quest produced by the quest_generation template.
type GeneratedQuest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Objectives  []string `json:"objectives"`
	Reward      string   `json:"reward,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// DialogueLine is one NPC reply produced by the dialogue_generation
// template.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Mood    string `json:"mood,omitempty"`
}

func roomSchema() *structured.Schema {
	return structured.Object(map[string]*structured.Schema{
		"name":        structured.String("room name"),
		"description": structured.String("evocative room description"),
		"objects":     structured.Array("notable objects in the room"),
		"exits":       structured.Array("exit directions"),
		"atmosphere":  structured.String("one-word mood"),
	}, "name", "description")
}

func npcSchema() *structured.Schema {
	return structured.Object(map[string]*structured.Schema{
		"name":        structured.String("character name"),
		"description": structured.String("physical description"),
		"personality": structured.String("personality summary"),
		"role":        structured.String("role in the world"),
		"greeting":    structured.String("first line spoken to the player"),
		"topics":      structured.Array("topics the character will discuss"),
	}, "name", "description", "personality")
}

func questSchema() *structured.Schema {
	return structured.Object(map[string]*structured.Schema{
		"title":       structured.String("quest title"),
		"description": structured.String("quest premise"),
		"objectives":  structured.Array("ordered objectives"),
		"reward":      structured.String("reward on completion"),
		"difficulty":  structured.String("easy, medium, or hard"),
	}, "title", "description", "objectives")
}

func dialogueSchema() *structured.Schema {
	return structured.Object(map[string]*structured.Schema{
		"speaker": structured.String("who is speaking"),
		"text":    structured.String("the spoken line"),
		"mood":    structured.String("mood of the delivery"),
	}, "speaker", "text")
}
