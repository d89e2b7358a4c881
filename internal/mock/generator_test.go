package mock

import (
	"testing"

	"github.com/devreload/backend/internal/change"
)

// Every scripted burst must be well-formed: non-empty paths and kinds
// the classification pipeline accepts.
func TestBurstScriptIsValid(t *testing.T) {
	if len(bursts) == 0 {
		t.Fatal("no scripted bursts")
	}
	for _, b := range bursts {
		if b.name == "" {
			t.Error("burst with empty name")
		}
		if len(b.changes) == 0 {
			t.Errorf("burst %q has no changes", b.name)
		}
		for _, ev := range b.changes {
			if ev.Path == "" {
				t.Errorf("burst %q contains an empty path", b.name)
			}
			if !change.ValidKind(ev.Kind) {
				t.Errorf("burst %q: invalid kind %q for %s", b.name, ev.Kind, ev.Path)
			}
		}
	}
}
