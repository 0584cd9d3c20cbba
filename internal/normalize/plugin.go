package normalize

import (
	"fmt"

	"github.com/icdev-platform/dispatch/internal/model"
)

// PluginMessage is the generic connector payload. Plugins that do not fit
// a first-class adapter post this shape to the plugin hook.
type PluginMessage struct {
	Source     string            `json:"source"`
	SessionKey string            `json:"session_key"`
	Content    string            `json:"content"`
	Author     string            `json:"author"`
	ExternalID string            `json:"external_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Plugin normalizes a generic connector message. Source and session key
// are required; everything else degrades to empty.
func (n *Normalizer) Plugin(msg PluginMessage) *model.Event {
	if msg.Source == "" || msg.SessionKey == "" {
		return nil
	}

	sessionKey := fmt.Sprintf("plugin-%s-%s", msg.Source, msg.SessionKey)
	ev := n.newEvent(model.SourcePlugin, model.EventPluginMessage, msg.Source,
		sessionKey, msg.Content, msg.Author)
	if msg.ExternalID != "" {
		ev.Metadata["external_id"] = msg.ExternalID
	}
	for k, v := range msg.Metadata {
		if _, reserved := ev.Metadata[k]; !reserved {
			ev.Metadata[k] = v
		}
	}
	return ev
}
