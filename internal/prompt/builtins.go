package prompt

// builtinTemplates returns the template set every registry starts with.
// IDs are stable: the content generators, conflict resolver, and story
// agent reference them by name.
func builtinTemplates() []*Template {
	return []*Template{
		{
			ID:       "room_description",
			Category: "content",
			Text: "Describe the room \"{{room_name}}\" in a {{culture}} setting. " +
				"Room type: {{room_type}}. Visible objects: {{objects}}. " +
				"Exits lead to: {{connections}}. Write {{tone}} prose suited to a " +
				"level {{player_level}} player. Keep it under 120 words.",
			Variables: []VariableSpec{
				{Name: "room_name", Type: TypeString, Required: true, MinLength: 1, MaxLength: 120},
				{Name: "room_type", Type: TypeString, Required: false, Default: "generic"},
				{Name: "objects", Type: TypeArray, Required: false, Default: []string{}},
				{Name: "connections", Type: TypeArray, Required: false, Default: []string{}},
				{Name: "culture", Type: TypeString, Required: false, Default: "medieval fantasy"},
				{Name: "tone", Type: TypeString, Required: false, Default: "atmospheric"},
				{Name: "player_level", Type: TypeNumber, Required: false, Default: 1, Min: f(1), Max: f(100)},
			},
			SystemPrompt: "You are the narrator of a text adventure. Evocative, concise, second person.",
		},
		{
			ID:       "npc_generation",
			Category: "content",
			Text: "Create a non-player character for the room \"{{room_name}}\" in a " +
				"{{culture}} world (technology: {{tech_level}}). The character should " +
				"fit a level {{player_level}} player and the role hint: {{role_hint}}.",
			Variables: []VariableSpec{
				{Name: "room_name", Type: TypeString, Required: true},
				{Name: "culture", Type: TypeString, Required: false, Default: "medieval fantasy"},
				{Name: "tech_level", Type: TypeString, Required: false, Default: "pre-industrial"},
				{Name: "player_level", Type: TypeNumber, Required: false, Default: 1},
				{Name: "role_hint", Type: TypeString, Required: false, Default: "any"},
			},
			OutputFormat: "json",
		},
		{
			ID:       "quest_generation",
			Category: "content",
			Text: "Design a quest themed around \"{{theme}}\" for a level {{player_level}} " +
				"player. Difficulty: {{difficulty}}. The quest must be completable with " +
				"the locations and characters already present: {{known_entities}}.",
			Variables: []VariableSpec{
				{Name: "theme", Type: TypeString, Required: true, MinLength: 2},
				{Name: "player_level", Type: TypeNumber, Required: false, Default: 1},
				{Name: "difficulty", Type: TypeString, Required: false, Default: "medium", Pattern: "^(easy|medium|hard)$"},
				{Name: "known_entities", Type: TypeArray, Required: false, Default: []string{}},
			},
			OutputFormat: "json",
		},
		{
			ID:       "dialogue_generation",
			Category: "content",
			Text: "Write the next line of dialogue for {{npc_name}} ({{npc_personality}}) " +
				"responding to the player saying: \"{{player_line}}\". Current mood: {{mood}}.",
			Variables: []VariableSpec{
				{Name: "npc_name", Type: TypeString, Required: true},
				{Name: "npc_personality", Type: TypeString, Required: false, Default: "neutral"},
				{Name: "player_line", Type: TypeString, Required: true},
				{Name: "mood", Type: TypeString, Required: false, Default: "calm"},
			},
			OutputFormat: "json",
		},
		{
			ID:       "world_building",
			Category: "story",
			Text: "Sketch a game world for a {{genre}} story themed \"{{theme}}\". " +
				"Propose 3-5 connected regions, each with a name, a danger level, and " +
				"one landmark. Preferences: {{preferences}}.",
			Variables: []VariableSpec{
				{Name: "genre", Type: TypeString, Required: true},
				{Name: "theme", Type: TypeString, Required: true},
				{Name: "preferences", Type: TypeObject, Required: false, Default: map[string]any{}},
			},
			OutputFormat: "json",
		},
		{
			ID:       "conflict_resolution",
			Category: "conflict",
			Text: "An impossible game state occurred and must be resolved.\n" +
				"Conflict type: {{conflict_type}}\nSeverity: {{severity}}\n" +
				"Description: {{description}}\nAffected entities: {{entities}}\n" +
				"Location: {{location}}\nOriginating action: {{action}}\n" +
				"Propose the safest resolution that keeps the game playable and the " +
				"fiction coherent. Include alternatives and a short in-world narration " +
				"of the fix.",
			Variables: []VariableSpec{
				{Name: "conflict_type", Type: TypeString, Required: true},
				{Name: "severity", Type: TypeString, Required: false, Default: "medium"},
				{Name: "description", Type: TypeString, Required: true},
				{Name: "entities", Type: TypeArray, Required: false, Default: []string{}},
				{Name: "location", Type: TypeString, Required: false, Default: "unknown"},
				{Name: "action", Type: TypeString, Required: false, Default: "unknown"},
			},
			SystemPrompt: "You are the referee of a text adventure. Favor minimal, reversible fixes.",
			OutputFormat: "json",
		},
		{
			ID:       "story_planning",
			Category: "story",
			Text: "Plan a {{genre}} story around the theme \"{{theme}}\" for a level " +
				"{{player_level}} player. Outline the premise, the central tension, and " +
				"whether the world or the characters should be fleshed out first.",
			Variables: []VariableSpec{
				{Name: "genre", Type: TypeString, Required: true},
				{Name: "theme", Type: TypeString, Required: true},
				{Name: "player_level", Type: TypeNumber, Required: false, Default: 1},
			},
		},
		{
			ID:       "story_narrative",
			Category: "story",
			Text: "Write the connecting narrative for a {{genre}} story themed " +
				"\"{{theme}}\". World so far: {{world_summary}}. Characters: {{characters}}. " +
				"Produce an opening hook and a through-line the quests can hang on.",
			Variables: []VariableSpec{
				{Name: "genre", Type: TypeString, Required: true},
				{Name: "theme", Type: TypeString, Required: true},
				{Name: "world_summary", Type: TypeString, Required: false, Default: ""},
				{Name: "characters", Type: TypeArray, Required: false, Default: []string{}},
			},
		},
		{
			ID:       "story_validation",
			Category: "story",
			Text: "Review this generated story content for playability problems: missing " +
				"connections between rooms, unreachable quest objectives, characters with " +
				"no location, and tonal clashes with the {{genre}} genre.\n" +
				"Content:\n{{content_summary}}",
			Variables: []VariableSpec{
				{Name: "genre", Type: TypeString, Required: true},
				{Name: "content_summary", Type: TypeString, Required: true},
			},
			OutputFormat: "json",
		},
	}
}

// f is shorthand for optional numeric bounds in variable specs.
func f(v float64) *float64 {
	return &v
}
