package aggregate

import (
	"fmt"
	"log"
	"sync"

	"github.com/devreload/backend/internal/change"
	"github.com/devreload/backend/internal/classify"
	"github.com/devreload/backend/internal/ws"
)

// Publisher delivers orchestration messages to connected clients.
// Satisfied by *ws.Hub.
type Publisher interface {
	Broadcast(msg ws.Message)
}

// IgnoreStats counts classification outcomes that produced no client
// message, for the status endpoint.
type IgnoreStats struct {
	Ignored  int64            `json:"ignored"`
	ByPlugin map[string]int64 `json:"byPlugin,omitempty"`
}

// Orchestrator turns a batch of classification outcomes into the
// minimal set of client-facing messages: one reload supersedes all
// apply-live updates in its batch, custom actions pass through
// unconditionally, and ignores are only counted.
type Orchestrator struct {
	pub Publisher

	mu      sync.Mutex
	ignored IgnoreStats
	batches int64
	reloads int64
}

func NewOrchestrator(pub Publisher) *Orchestrator {
	return &Orchestrator{
		pub:     pub,
		ignored: IgnoreStats{ByPlugin: make(map[string]int64)},
	}
}

// Dispatch processes one batch. outcomes[i] must be the classification
// of batch[i]; both slices are in original arrival order.
func (o *Orchestrator) Dispatch(batch []change.Event, outcomes []classify.Outcome) {
	if len(batch) != len(outcomes) {
		log.Printf("[orchestrator] batch/outcome length mismatch: %d vs %d", len(batch), len(outcomes))
		return
	}

	var (
		applied     []ws.FileChange
		reloadCount int
		reloadWhy   string
	)

	for i, out := range outcomes {
		ev := batch[i]
		switch out.Action {
		case classify.FullReload:
			reloadCount++
			if reloadWhy == "" {
				reloadWhy = fmt.Sprintf("%s (%s, plugin %s)", ev.Path, ev.Kind, out.ProducedBy)
			}
		case classify.ApplyLive:
			applied = append(applied, ws.FileChange{
				Path:        ev.Path,
				Kind:        string(ev.Kind),
				ProducedBy:  out.ProducedBy,
				Diagnostics: out.Diagnostics,
			})
		case classify.Custom:
			// Custom actions are never suppressed by, and never
			// suppress, the reload decision.
			o.pub.Broadcast(ws.Message{
				Type: ws.MsgCustom,
				Payload: ws.CustomPayload{
					Path:        ev.Path,
					ProducedBy:  out.ProducedBy,
					Diagnostics: out.Diagnostics,
				},
			})
		case classify.Ignore:
			o.recordIgnore(ev, out)
		}
	}

	o.mu.Lock()
	o.batches++
	if reloadCount > 0 {
		o.reloads++
	}
	o.mu.Unlock()

	if reloadCount > 0 {
		o.pub.Broadcast(ws.Message{
			Type: ws.MsgReload,
			Payload: ws.ReloadPayload{
				ChangeCount: reloadCount,
				Reason:      reloadWhy,
			},
		})
		return
	}

	if len(applied) > 0 {
		o.pub.Broadcast(ws.Message{
			Type:    ws.MsgFileChanged,
			Payload: ws.FileChangedPayload{Changes: applied},
		})
	}
}

// ForceReload emits a reload message irrespective of any real change.
// Used by the operator-facing trigger endpoint.
func (o *Orchestrator) ForceReload(reason string) {
	if reason == "" {
		reason = "manual trigger"
	}

	o.mu.Lock()
	o.reloads++
	o.mu.Unlock()

	log.Printf("[orchestrator] forcing reload: %s", reason)
	o.pub.Broadcast(ws.Message{
		Type:    ws.MsgReload,
		Payload: ws.ReloadPayload{Reason: reason},
	})
}

func (o *Orchestrator) recordIgnore(ev change.Event, out classify.Outcome) {
	reason := out.Err
	if reason == "" {
		reason = "ignored"
	}
	log.Printf("[orchestrator] %s: %s (plugin=%s)", reason, ev.Path, out.ProducedBy)

	o.mu.Lock()
	o.ignored.Ignored++
	o.ignored.ByPlugin[out.ProducedBy]++
	o.mu.Unlock()
}

// Stats returns orchestration counters for the status endpoint.
func (o *Orchestrator) Stats() (batches, reloads int64, ignored IgnoreStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	byPlugin := make(map[string]int64, len(o.ignored.ByPlugin))
	for k, v := range o.ignored.ByPlugin {
		byPlugin[k] = v
	}
	return o.batches, o.reloads, IgnoreStats{Ignored: o.ignored.Ignored, ByPlugin: byPlugin}
}
