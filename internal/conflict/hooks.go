package conflict

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Hook is a deterministic rule that can resolve a class of conflicts
// without involving a provider. Resolve returns nil to pass.
type Hook struct {
	Name     string
	Trigger  string
	Priority int
	Resolve  func(ctx context.Context, c Context) *Resolution
}

type hookRegistry struct {
	mu    sync.Mutex
	hooks []Hook
}

func (hr *hookRegistry) add(h Hook) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.hooks = append(hr.hooks, h)
	sort.SliceStable(hr.hooks, func(i, j int) bool {
		return hr.hooks[i].Priority > hr.hooks[j].Priority
	})
}

// matching returns hooks whose trigger is a case-insensitive substring of
// the conflict's description or kind, highest priority first.
func (hr *hookRegistry) matching(c Context) []Hook {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	desc := strings.ToLower(c.Description)
	kind := strings.ToLower(c.Kind)

	var out []Hook
	for _, h := range hr.hooks {
		trigger := strings.ToLower(h.Trigger)
		if trigger == "" {
			continue
		}
		if strings.Contains(desc, trigger) || strings.Contains(kind, trigger) {
			out = append(out, h)
		}
	}
	return out
}
