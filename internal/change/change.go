package change

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the type of filesystem mutation observed by the
// watch layer.
type Kind string

const (
	Create Kind = "create"
	Modify Kind = "modify"
	Delete Kind = "delete"
	Rename Kind = "rename"
)

// ValidKind reports whether k is one of the four defined mutation kinds.
func ValidKind(k Kind) bool {
	switch k {
	case Create, Modify, Delete, Rename:
		return true
	}
	return false
}

// ParseKind converts a wire string into a Kind, failing on anything
// outside the defined set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !ValidKind(k) {
		return "", fmt.Errorf("unknown change kind %q", s)
	}
	return k, nil
}

// Event is one observed filesystem mutation. Events are created by the
// watch layer and never mutated after creation; the aggregator consumes
// each event exactly once.
type Event struct {
	Path       string    `json:"path"`
	Kind       Kind      `json:"kind"`
	ObservedAt time.Time `json:"observedAt"`
}

// Watcher is the boundary with the watch layer. The engine places no
// constraint on how events are produced, only that Path is a stable
// string identifying the changed resource and Kind is one of the four
// defined values.
//
// Implementations deliver events on the channel returned by Events
// until Start's context is cancelled.
type Watcher interface {
	Start(ctx context.Context) error
	Events() <-chan Event
}
