package cache

import (
	"strings"
	"time"
)

// TTLPolicy decides how long responses stay cached. Generated world content
// is stable and cheap to reuse; high-temperature creative output goes stale
// fast by design.
type TTLPolicy struct {
	Default   time.Duration
	Generated time.Duration // prompts that produce persistent game content
	Creative  time.Duration // high-temperature requests
	Content   time.Duration // "content" namespace (rooms, NPCs, quests, dialogue)
	Template  time.Duration // "tmpl" namespace (compiled templates)
}

// DefaultTTLPolicy returns the TTL table used in production.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Default:   15 * time.Minute,
		Generated: 2 * time.Hour,
		Creative:  5 * time.Minute,
		Content:   time.Hour,
		Template:  24 * time.Hour,
	}
}

// creativeTemperature is the threshold above which a request is treated as
// creative and cached briefly.
const creativeTemperature = 0.9

// generatedMarkers are prompt substrings implying persistent generated content.
var generatedMarkers = []string{"generate a room", "generate an npc", "create a quest", "describe the room", "world description"}

// ForPrompt returns the TTL for a generic generation request.
func (p TTLPolicy) ForPrompt(prompt string, temperature float64) time.Duration {
	if temperature >= creativeTemperature {
		return p.Creative
	}
	lower := strings.ToLower(prompt)
	for _, m := range generatedMarkers {
		if strings.Contains(lower, m) {
			return p.Generated
		}
	}
	return p.Default
}

// ForNamespace returns the TTL for namespaced non-generic entries.
func (p TTLPolicy) ForNamespace(namespace string) time.Duration {
	switch namespace {
	case NamespaceContent:
		return p.Content
	case NamespaceTemplate:
		return p.Template
	default:
		return p.Default
	}
}
