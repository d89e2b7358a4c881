package ws

import (
	"time"

	"github.com/devreload/backend/internal/config"
)

type MessageType string

const (
	MsgConnected   MessageType = "connected"
	MsgFileChanged MessageType = "file-changed"
	MsgReload      MessageType = "reload"
	MsgCustom      MessageType = "custom"
)

// Message is one outbound instruction to one or all clients.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sentAt"`
}

// ConnectedPayload is sent once to each client immediately after
// connect, carrying its session id and the server's current
// configuration snapshot.
type ConnectedPayload struct {
	SessionID string          `json:"sessionId"`
	Config    config.Snapshot `json:"config"`
}

// FileChange is one hot-applicable change inside an update message.
type FileChange struct {
	Path        string         `json:"path"`
	Kind        string         `json:"kind"`
	ProducedBy  string         `json:"producedBy"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// FileChangedPayload carries the ordered list of hot-applicable
// changes from one batch.
type FileChangedPayload struct {
	Changes []FileChange `json:"changes"`
}

// ReloadPayload instructs clients to reload completely.
type ReloadPayload struct {
	ChangeCount int    `json:"changeCount"`
	Reason      string `json:"reason"`
}

// CustomPayload carries one plugin-defined action.
type CustomPayload struct {
	Path        string         `json:"path"`
	ProducedBy  string         `json:"producedBy"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}
