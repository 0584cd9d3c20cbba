// Package normalize turns heterogeneous inbound trigger payloads into the
// canonical Event envelope. One constructor per source shape; each is a
// pure function that returns nil when the payload is not a supported
// case. Missing optional fields degrade to empty strings; malformed but
// well-typed input never produces an error.
package normalize

import (
	"time"

	"github.com/icdev-platform/dispatch/common/id"
	"github.com/icdev-platform/dispatch/core/config"
	"github.com/icdev-platform/dispatch/internal/extract"
	"github.com/icdev-platform/dispatch/internal/model"
)

type Normalizer struct {
	extractor *extract.Extractor
	registry  config.Registry
}

func New(extractor *extract.Extractor, registry config.Registry) *Normalizer {
	return &Normalizer{extractor: extractor, registry: registry}
}

// newEvent fills the fields every envelope shares. The command scan and
// bot check run here so no normalizer can forget them.
func (n *Normalizer) newEvent(source model.Source, eventType model.EventType, platform, sessionKey, content, author string) *model.Event {
	workflow, runID := n.extractor.Command(content)
	return &model.Event{
		ID:              id.New(),
		Source:          source,
		Type:            eventType,
		Platform:        platform,
		SessionKey:      sessionKey,
		Content:         content,
		Author:          author,
		IsBot:           n.extractor.IsBot(content, author),
		WorkflowCommand: workflow,
		RunID:           runID,
		Timestamp:       time.Now().UTC(),
		Metadata:        map[string]string{},
	}
}
