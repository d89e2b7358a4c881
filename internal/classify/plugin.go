package classify

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/devreload/backend/internal/change"
)

// Action is the decision a classifier makes about a single change.
type Action string

const (
	// ApplyLive means the change can be hot-applied to running clients.
	ApplyLive Action = "apply-live"
	// FullReload means clients must reload completely.
	FullReload Action = "full-reload"
	// Ignore means the change requires no client action.
	Ignore Action = "ignore"
	// Custom means the producing plugin defines its own client action.
	Custom Action = "custom"
)

// ValidAction reports whether a is one of the four defined actions.
func ValidAction(a Action) bool {
	switch a {
	case ApplyLive, FullReload, Ignore, Custom:
		return true
	}
	return false
}

// ProducedByNone is the sentinel ProducedBy value used when no plugin
// matched a change.
const ProducedByNone = "none"

// Outcome is the result of classifying one change event. Every change
// yields exactly one Outcome; failures are carried in Err rather than
// returned as errors.
type Outcome struct {
	Action      Action         `json:"action"`
	ProducedBy  string         `json:"producedBy"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
	Err         string         `json:"error,omitempty"`
}

// Handler turns one change event into one Outcome. Handlers must be
// safe to invoke concurrently for unrelated changes and should respect
// ctx cancellation; the registry abandons handlers that outlive the
// configured timeout.
type Handler func(ctx context.Context, ev change.Event) Outcome

// Descriptor declares a classifier plugin's identity and match rule.
// A path matches when its extension is in Extensions or it contains
// any of the PathContains substrings.
type Descriptor struct {
	Name         string
	Version      string
	Extensions   []string
	PathContains []string
	Priority     int
}

// Matches reports whether the descriptor's match rule accepts path.
// It is a pure predicate over the path string.
func (d Descriptor) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range d.Extensions {
		if ext == e {
			return true
		}
	}
	lower := strings.ToLower(path)
	for _, sub := range d.PathContains {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// Plugin pairs a descriptor with its handler. Builtin variants and
// external registrations both use this shape; dispatch is a priority
// table over descriptors, not a type hierarchy.
type Plugin struct {
	Descriptor Descriptor
	Handler    Handler
}
