package classify

import (
	"context"
	"strings"

	"github.com/devreload/backend/internal/change"
)

// Builtin plugin priorities. Specific matchers register above generic
// ones so that, e.g., a schema.graphql change is claimed by the schema
// plugin rather than a generic source plugin.
const (
	priorityNoise      = 90
	priorityConfig     = 80
	prioritySchema     = 70
	priorityStylesheet = 60
	priorityMarkup     = 60
	prioritySourceCode = 50
)

// Builtins returns the stock classifier set in registration order.
func Builtins() []Plugin {
	return []Plugin{
		Noise(),
		Configuration(),
		SchemaQuery(),
		Stylesheet(),
		Markup(),
		SourceCode(),
	}
}

// SourceCode hot-applies edits to code files. Deletes and renames
// invalidate module identity, so those force a full reload.
func SourceCode() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:       "source-code",
			Version:    "1.0.0",
			Extensions: []string{".go", ".js", ".mjs", ".ts", ".jsx", ".tsx", ".py", ".rb", ".java", ".c", ".cpp", ".rs"},
			Priority:   prioritySourceCode,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			if ev.Kind == change.Delete || ev.Kind == change.Rename {
				return Outcome{
					Action:      FullReload,
					Diagnostics: map[string]any{"reason": "source file " + string(ev.Kind) + "d"},
				}
			}
			return Outcome{
				Action:      ApplyLive,
				Diagnostics: map[string]any{"module": ev.Path},
			}
		},
	}
}

// Stylesheet always hot-applies; styles are safely hot-swappable.
func Stylesheet() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:       "stylesheet",
			Version:    "1.0.0",
			Extensions: []string{".css", ".scss", ".sass", ".less", ".styl"},
			Priority:   priorityStylesheet,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			return Outcome{
				Action:      ApplyLive,
				Diagnostics: map[string]any{"stylesheet": ev.Path},
			}
		},
	}
}

// Markup always forces a full reload; template output cannot be
// patched into a live DOM reliably.
func Markup() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:       "markup",
			Version:    "1.0.0",
			Extensions: []string{".html", ".htm", ".vue", ".svelte", ".tmpl", ".tpl", ".hbs"},
			Priority:   priorityMarkup,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			return Outcome{
				Action:      FullReload,
				Diagnostics: map[string]any{"template": ev.Path},
			}
		},
	}
}

// SchemaQuery hot-applies query files but forces a full reload when
// the path indicates a schema definition, since schema shape changes
// invalidate client-side caches.
func SchemaQuery() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:         "schema-query",
			Version:      "1.0.0",
			Extensions:   []string{".graphql", ".gql", ".sql", ".prisma"},
			PathContains: []string{"schema"},
			Priority:     prioritySchema,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			if strings.Contains(strings.ToLower(ev.Path), "schema") {
				return Outcome{
					Action:      FullReload,
					Diagnostics: map[string]any{"reason": "schema definition changed"},
				}
			}
			return Outcome{
				Action:      ApplyLive,
				Diagnostics: map[string]any{"query": ev.Path},
			}
		},
	}
}

// Configuration always forces a full reload and flags the change as
// high severity; config changes can alter anything downstream.
func Configuration() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:         "configuration",
			Version:      "1.0.0",
			Extensions:   []string{".json", ".yaml", ".yml", ".toml", ".ini"},
			PathContains: []string{"config", ".env"},
			Priority:     priorityConfig,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			return Outcome{
				Action:      FullReload,
				Diagnostics: map[string]any{"severity": "high", "file": ev.Path},
			}
		},
	}
}

// Noise drops log files, editor swap files and similar churn that no
// client needs to hear about.
func Noise() Plugin {
	return Plugin{
		Descriptor: Descriptor{
			Name:         "noise",
			Version:      "1.0.0",
			Extensions:   []string{".log", ".tmp", ".swp", ".swx", ".bak"},
			PathContains: []string{"~"},
			Priority:     priorityNoise,
		},
		Handler: func(_ context.Context, ev change.Event) Outcome {
			return Outcome{
				Action:      Ignore,
				Diagnostics: map[string]any{"reason": "noise file"},
			}
		},
	}
}
