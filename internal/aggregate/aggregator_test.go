package aggregate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devreload/backend/internal/change"
	"github.com/devreload/backend/internal/classify"
	"github.com/devreload/backend/internal/ws"
)

func builtinRegistry(t *testing.T, timeout time.Duration) *classify.Registry {
	t.Helper()
	r := classify.NewRegistry(timeout, classify.Ignore)
	for _, p := range classify.Builtins() {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Descriptor.Name, err)
		}
	}
	return r
}

func newTestAggregator(t *testing.T, registry *classify.Registry, ignored []string) (*Aggregator, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	orch := NewOrchestrator(pub)
	agg := NewAggregator(registry, orch, 20*time.Millisecond, ignored)
	return agg, pub
}

func TestDebounceCoalescesBurst(t *testing.T) {
	agg, pub := newTestAggregator(t, builtinRegistry(t, time.Second), nil)

	agg.Offer(ev("styles/app.css", change.Modify))
	agg.Offer(ev("styles/app.css", change.Modify))
	agg.Offer(ev("styles/theme.css", change.Modify))

	waitForMessages(t, pub, 1)
	time.Sleep(50 * time.Millisecond) // no second flush should follow

	fc := pub.messagesOfType(ws.MsgFileChanged)
	if len(fc) != 1 {
		t.Fatalf("file-changed messages = %d, want exactly 1 batch", len(fc))
	}
	payload := fc[0].Payload.(ws.FileChangedPayload)
	if len(payload.Changes) != 3 {
		t.Errorf("batch size = %d, want 3", len(payload.Changes))
	}
}

// Two source edits plus a schema change within one window produce one
// reload and no file-changed: the reload supersedes the partial update.
func TestBatchWithSchemaChangeReloads(t *testing.T) {
	agg, pub := newTestAggregator(t, builtinRegistry(t, time.Second), nil)

	agg.Offer(ev("src/a.ts", change.Modify))
	agg.Offer(ev("src/a.ts", change.Modify))
	agg.Offer(ev("api/schema.graphql", change.Modify))

	waitForMessages(t, pub, 1)

	if n := len(pub.messagesOfType(ws.MsgReload)); n != 1 {
		t.Errorf("reload messages = %d, want 1", n)
	}
	if n := len(pub.messagesOfType(ws.MsgFileChanged)); n != 0 {
		t.Errorf("file-changed messages = %d, want 0", n)
	}
}

func TestIgnoreListFiltersBeforeQueue(t *testing.T) {
	agg, pub := newTestAggregator(t, builtinRegistry(t, time.Second), []string{".git/", "node_modules/"})

	agg.Offer(ev(".git/index", change.Modify))
	agg.Offer(ev("web/node_modules/pkg/index.js", change.Modify))
	agg.Offer(ev("styles/app.css", change.Modify))

	waitForMessages(t, pub, 1)

	fc := pub.messagesOfType(ws.MsgFileChanged)
	if len(fc) != 1 {
		t.Fatalf("file-changed messages = %d, want 1", len(fc))
	}
	payload := fc[0].Payload.(ws.FileChangedPayload)
	if len(payload.Changes) != 1 || payload.Changes[0].Path != "styles/app.css" {
		t.Errorf("changes = %+v, want only styles/app.css", payload.Changes)
	}
}

func TestOnlyIgnoredEventsProduceNoMessage(t *testing.T) {
	agg, pub := newTestAggregator(t, builtinRegistry(t, time.Second), []string{".git/"})

	agg.Offer(ev(".git/HEAD", change.Modify))

	time.Sleep(60 * time.Millisecond)
	if n := len(pub.messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

// Outcome emission must preserve arrival order even when per-change
// classification completes out of order.
func TestBatchOrderPreserved(t *testing.T) {
	registry := classify.NewRegistry(time.Second, classify.Ignore)
	if err := registry.Register(classify.Plugin{
		Descriptor: classify.Descriptor{Name: "slow-first", Extensions: []string{".css"}, Priority: 10},
		Handler: func(_ context.Context, e change.Event) classify.Outcome {
			if e.Path == "first.css" {
				time.Sleep(40 * time.Millisecond)
			}
			return classify.Outcome{Action: classify.ApplyLive}
		},
	}); err != nil {
		t.Fatal(err)
	}

	agg, pub := newTestAggregator(t, registry, nil)

	agg.Offer(ev("first.css", change.Modify))
	agg.Offer(ev("second.css", change.Modify))
	agg.Offer(ev("third.css", change.Modify))

	waitForMessages(t, pub, 1)

	fc := pub.messagesOfType(ws.MsgFileChanged)
	if len(fc) != 1 {
		t.Fatalf("file-changed messages = %d, want 1", len(fc))
	}
	payload := fc[0].Payload.(ws.FileChangedPayload)
	want := []string{"first.css", "second.css", "third.css"}
	if len(payload.Changes) != len(want) {
		t.Fatalf("changes = %d, want %d", len(payload.Changes), len(want))
	}
	for i, w := range want {
		if payload.Changes[i].Path != w {
			t.Errorf("changes[%d].Path = %q, want %q", i, payload.Changes[i].Path, w)
		}
	}
}

// Events arriving while a batch is being classified accumulate into
// the next batch; batches never interleave.
func TestBatchesProcessSequentially(t *testing.T) {
	inFlight := make(chan struct{}, 1)
	gate := make(chan struct{})
	var calls atomic.Int32

	registry := classify.NewRegistry(time.Second, classify.Ignore)
	if err := registry.Register(classify.Plugin{
		Descriptor: classify.Descriptor{Name: "gated", Extensions: []string{".css"}, Priority: 10},
		Handler: func(_ context.Context, _ change.Event) classify.Outcome {
			if calls.Add(1) == 1 {
				inFlight <- struct{}{}
				<-gate
			}
			return classify.Outcome{Action: classify.ApplyLive}
		},
	}); err != nil {
		t.Fatal(err)
	}

	agg, pub := newTestAggregator(t, registry, nil)

	agg.Offer(ev("one.css", change.Modify))
	<-inFlight // first batch is now mid-classification

	// These arrive during processing and must land in a second batch.
	agg.Offer(ev("two.css", change.Modify))
	agg.Offer(ev("three.css", change.Modify))
	close(gate)

	waitForMessages(t, pub, 2)

	fc := pub.messagesOfType(ws.MsgFileChanged)
	if len(fc) != 2 {
		t.Fatalf("file-changed messages = %d, want 2", len(fc))
	}
	first := fc[0].Payload.(ws.FileChangedPayload)
	second := fc[1].Payload.(ws.FileChangedPayload)
	if len(first.Changes) != 1 || first.Changes[0].Path != "one.css" {
		t.Errorf("first batch = %+v, want only one.css", first.Changes)
	}
	if len(second.Changes) != 2 {
		t.Errorf("second batch size = %d, want 2", len(second.Changes))
	}
}

// A plugin that never returns is cut off by the registry timeout and
// must not stall the rest of the batch beyond the timeout bound.
func TestTimeoutContainment(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	registry := classify.NewRegistry(50*time.Millisecond, classify.Ignore)
	if err := registry.Register(classify.Plugin{
		Descriptor: classify.Descriptor{Name: "hung", Extensions: []string{".hang"}, Priority: 10},
		Handler: func(_ context.Context, _ change.Event) classify.Outcome {
			<-block
			return classify.Outcome{Action: classify.ApplyLive}
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(classify.Stylesheet()); err != nil {
		t.Fatal(err)
	}

	agg, pub := newTestAggregator(t, registry, nil)
	orch := agg.orch

	start := time.Now()
	agg.Offer(ev("stuck.hang", change.Modify))
	agg.Offer(ev("styles/app.css", change.Modify))

	waitForMessages(t, pub, 1)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("batch took %s, want completion near the 50ms timeout", elapsed)
	}

	fc := pub.messagesOfType(ws.MsgFileChanged)
	if len(fc) != 1 {
		t.Fatalf("file-changed messages = %d, want 1", len(fc))
	}
	payload := fc[0].Payload.(ws.FileChangedPayload)
	if len(payload.Changes) != 1 || payload.Changes[0].Path != "styles/app.css" {
		t.Errorf("changes = %+v, want only styles/app.css", payload.Changes)
	}

	_, _, ignored := orch.Stats()
	if ignored.ByPlugin["hung"] != 1 {
		t.Errorf("ignored by hung = %d, want 1 (timeout downgraded)", ignored.ByPlugin["hung"])
	}
}

func TestRunConsumesWatcherChannel(t *testing.T) {
	agg, pub := newTestAggregator(t, builtinRegistry(t, time.Second), nil)

	events := make(chan change.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agg.Run(ctx, events)

	events <- ev("styles/app.css", change.Modify)

	waitForMessages(t, pub, 1)
	if n := len(pub.messagesOfType(ws.MsgFileChanged)); n != 1 {
		t.Errorf("file-changed messages = %d, want 1", n)
	}
}
