package classify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/devreload/backend/internal/change"
)

// ErrDuplicatePlugin is returned by Register when a plugin with the
// same name is already registered.
var ErrDuplicatePlugin = errors.New("plugin already registered")

const (
	errTimeout  = "timeout"
	errCanceled = "canceled"
)

// entry is one registered plugin plus its registration sequence number,
// used to break priority ties (first registered wins) and to detect
// unregistration of a plugin with an in-flight classification.
type entry struct {
	desc    Descriptor
	handler Handler
	enabled bool
	seq     uint64
}

// Registry owns the set of registered classifier plugins and selects
// and executes exactly one per change. Register/Unregister are safe to
// call while a classification is in flight.
type Registry struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	nextSeq       uint64
	timeout       time.Duration
	defaultAction Action
}

// NewRegistry builds an empty registry. A classification that matches
// no plugin falls back to defaultAction; plugin handlers are abandoned
// after timeout.
func NewRegistry(timeout time.Duration, defaultAction Action) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !ValidAction(defaultAction) {
		defaultAction = Ignore
	}
	return &Registry{
		entries:       make(map[string]*entry),
		timeout:       timeout,
		defaultAction: defaultAction,
	}
}

// Register adds a plugin. The plugin becomes eligible for matches
// immediately. Fails with ErrDuplicatePlugin when the name is taken.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Descriptor.Name
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, name)
	}
	r.entries[name] = &entry{
		desc:    p.Descriptor,
		handler: p.Handler,
		enabled: true,
		seq:     r.nextSeq,
	}
	r.nextSeq++
	return nil
}

// Unregister removes the named plugin and reports whether it existed.
// An in-flight classification already dispatched to the plugin runs to
// completion, but its result is discarded on delivery.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}

// SetEnabled toggles a registered plugin in or out of match selection
// and reports whether the plugin exists.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.enabled = enabled
	return true
}

// PluginStats is the introspection view of the registry.
type PluginStats struct {
	Total   int      `json:"total"`
	Enabled int      `json:"enabled"`
	Names   []string `json:"names"`
}

// Stats returns plugin counts for the status endpoint.
func (r *Registry) Stats() PluginStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := PluginStats{Total: len(r.entries)}
	for name, e := range r.entries {
		st.Names = append(st.Names, name)
		if e.enabled {
			st.Enabled++
		}
	}
	return st
}

// Classify selects the highest-priority enabled plugin matching the
// change's path and runs its handler under the registry timeout. It
// always returns an Outcome: no match falls back to the default
// action, and handler timeouts and panics are downgraded to Ignore
// with Err populated.
func (r *Registry) Classify(ctx context.Context, ev change.Event) Outcome {
	winner := r.selectPlugin(ev.Path)
	if winner == nil {
		return Outcome{Action: r.defaultAction, ProducedBy: ProducedByNone}
	}
	return r.run(ctx, winner, ev)
}

// selectPlugin picks the enabled matching entry with the highest
// priority, breaking ties by registration order.
func (r *Registry) selectPlugin(path string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	for _, e := range r.entries {
		if !e.enabled || !e.desc.Matches(path) {
			continue
		}
		if best == nil ||
			e.desc.Priority > best.desc.Priority ||
			(e.desc.Priority == best.desc.Priority && e.seq < best.seq) {
			best = e
		}
	}
	return best
}

// run executes a handler with timeout and panic containment. The
// handler goroutine is abandoned on timeout; its eventual result, if
// any, is discarded.
func (r *Registry) run(ctx context.Context, e *entry, ev change.Event) Outcome {
	name := e.desc.Name
	seq := e.seq

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Printf("[registry] plugin %s panicked on %s: %v", name, ev.Path, p)
				done <- Outcome{Action: Ignore, ProducedBy: name, Err: fmt.Sprintf("panic: %v", p)}
			}
		}()
		done <- e.handler(cctx, ev)
	}()

	select {
	case out := <-done:
		if !r.stillRegistered(name, seq) {
			log.Printf("[registry] plugin %s unregistered mid-flight, discarding result for %s", name, ev.Path)
			return Outcome{Action: Ignore, ProducedBy: name, Err: "plugin unregistered"}
		}
		if out.ProducedBy == "" {
			out.ProducedBy = name
		}
		if !ValidAction(out.Action) {
			out.Err = fmt.Sprintf("invalid action %q", out.Action)
			out.Action = Ignore
		}
		return out
	case <-cctx.Done():
		// The parent context being cancelled (shutdown) is not a
		// plugin timeout and must not be reported as one.
		if errors.Is(cctx.Err(), context.Canceled) {
			log.Printf("[registry] classification of %s by %s canceled", ev.Path, name)
			return Outcome{Action: Ignore, ProducedBy: name, Err: errCanceled}
		}
		log.Printf("[registry] plugin %s timed out on %s after %s", name, ev.Path, r.timeout)
		return Outcome{Action: Ignore, ProducedBy: name, Err: errTimeout}
	}
}

// stillRegistered reports whether the same registration (name and
// sequence number) is still present. A plugin unregistered and
// re-registered under the same name counts as a different registration.
func (r *Registry) stillRegistered(name string, seq uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.seq == seq
}
