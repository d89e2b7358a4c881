package mock

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/devreload/backend/internal/change"
)

// Generator is a stand-in watch layer for demo mode. It emits bursts
// of plausible file events so the full pipeline (debounce, classify,
// orchestrate, broadcast) can be exercised without a real watcher.
type Generator struct {
	events chan change.Event
	rng    *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		events: make(chan change.Event, 32),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Events returns the channel the generator emits on.
func (g *Generator) Events() <-chan change.Event {
	return g.events
}

// burst is a scripted group of events emitted together, the way a
// save-all or branch switch hits a real tree.
type burst struct {
	name    string
	changes []change.Event
}

var bursts = []burst{
	{
		name: "style tweak",
		changes: []change.Event{
			{Path: "web/styles/app.css", Kind: change.Modify},
			{Path: "web/styles/theme.scss", Kind: change.Modify},
		},
	},
	{
		name: "component edit",
		changes: []change.Event{
			{Path: "web/src/components/list.tsx", Kind: change.Modify},
			{Path: "web/src/components/list.tsx", Kind: change.Modify},
			{Path: "web/src/api/client.ts", Kind: change.Modify},
		},
	},
	{
		name: "schema migration",
		changes: []change.Event{
			{Path: "api/schema.graphql", Kind: change.Modify},
			{Path: "api/queries/users.graphql", Kind: change.Modify},
		},
	},
	{
		name: "template rework",
		changes: []change.Event{
			{Path: "web/src/index.html", Kind: change.Modify},
			{Path: "web/src/views/detail.vue", Kind: change.Modify},
		},
	},
	{
		name: "config change",
		changes: []change.Event{
			{Path: "deploy/config.yaml", Kind: change.Modify},
		},
	},
	{
		name: "build noise",
		changes: []change.Event{
			{Path: "web/debug.log", Kind: change.Modify},
			{Path: "web/src/app.ts.swp", Kind: change.Create},
		},
	},
	{
		name: "file shuffle",
		changes: []change.Event{
			{Path: "web/src/old_helpers.ts", Kind: change.Delete},
			{Path: "web/src/util/helpers.ts", Kind: change.Create},
		},
	},
}

// Start emits one random burst every 3 to 8 seconds until ctx is
// cancelled.
func (g *Generator) Start(ctx context.Context) error {
	go g.loop(ctx)
	return nil
}

func (g *Generator) loop(ctx context.Context) {
	defer close(g.events)

	log.Println("[mock] generator started")
	for {
		delay := 3*time.Second + time.Duration(g.rng.Intn(5000))*time.Millisecond
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		b := bursts[g.rng.Intn(len(bursts))]
		log.Printf("[mock] burst: %s (%d events)", b.name, len(b.changes))
		for _, ev := range b.changes {
			ev.ObservedAt = time.Now()
			select {
			case <-ctx.Done():
				return
			case g.events <- ev:
			}
		}
	}
}
