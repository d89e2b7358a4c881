package aggregate

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/devreload/backend/internal/change"
	"github.com/devreload/backend/internal/classify"
)

// Aggregator converts a live stream of change events into discrete
// batches. The debounce window is a fixed quiet-period measured from
// the first event of an otherwise-empty queue; later events join the
// pending batch without restarting it, bounding worst-case latency to
// the debounce duration under sustained writes.
//
// Batches are processed strictly sequentially: while one batch is
// being classified, arriving events accumulate but the next window
// only starts once the current batch has been fully dispatched.
type Aggregator struct {
	registry *classify.Registry
	orch     *Orchestrator
	debounce time.Duration
	ignored  []string

	mu      sync.Mutex
	pending []change.Event
	timer   *time.Timer
	busy    bool

	ctx context.Context
}

func NewAggregator(registry *classify.Registry, orch *Orchestrator, debounce time.Duration, ignoredPathSubstrings []string) *Aggregator {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Aggregator{
		registry: registry,
		orch:     orch,
		debounce: debounce,
		ignored:  ignoredPathSubstrings,
		ctx:      context.Background(),
	}
}

// Run consumes events from the watch layer until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, events <-chan change.Event) {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.Offer(ev)
		}
	}
}

// Offer queues one change event. Events matching the ignore list are
// dropped before they count toward any batch. The first event of an
// empty, idle queue starts the debounce window.
func (a *Aggregator) Offer(ev change.Event) {
	if a.isIgnoredPath(ev.Path) {
		return
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(a.pending, ev)
	if a.timer == nil && !a.busy {
		a.timer = time.AfterFunc(a.debounce, a.flush)
	}
}

// isIgnoredPath applies the configured substring ignore list. This is
// a separate, earlier filter from any plugin's own ignore outcome.
func (a *Aggregator) isIgnoredPath(path string) bool {
	for _, sub := range a.ignored {
		if sub != "" && strings.Contains(path, sub) {
			return true
		}
	}
	return false
}

// flush drains the queue atomically into one batch and runs it. On
// completion, a window is started for any events that arrived during
// processing.
func (a *Aggregator) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.timer = nil
	a.busy = true
	ctx := a.ctx
	a.mu.Unlock()

	if len(batch) > 0 {
		a.process(ctx, batch)
	}

	a.mu.Lock()
	a.busy = false
	if len(a.pending) > 0 && a.timer == nil {
		a.timer = time.AfterFunc(a.debounce, a.flush)
	}
	a.mu.Unlock()
}

// process classifies every change in the batch and hands the outcomes
// to the orchestrator. Classification runs concurrently, bounded per
// change by the registry timeout, but outcomes are emitted in original
// arrival order regardless of completion order.
func (a *Aggregator) process(ctx context.Context, batch []change.Event) {
	log.Printf("[aggregator] processing batch of %d change(s)", len(batch))

	outcomes := make([]classify.Outcome, len(batch))
	var wg sync.WaitGroup
	for i, ev := range batch {
		wg.Add(1)
		go func(i int, ev change.Event) {
			defer wg.Done()
			outcomes[i] = a.registry.Classify(ctx, ev)
		}(i, ev)
	}
	wg.Wait()

	a.orch.Dispatch(batch, outcomes)
}
