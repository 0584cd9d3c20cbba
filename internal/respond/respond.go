package respond

import (
	"context"
	"log/slog"

	"github.com/icdev-platform/dispatch/internal/conversation"
	"github.com/icdev-platform/dispatch/internal/model"
)

// NoopPoster swallows replies for sources with no reply surface.
type NoopPoster struct{}

func (NoopPoster) Post(ctx context.Context, ev *model.Event, text string) (string, error) {
	slog.DebugContext(ctx, "no reply surface for event, dropping response",
		"source", ev.Source, "session_key", ev.SessionKey)
	return "", nil
}

// Mux picks a poster by the event's platform. Platforms with no
// registered poster fall back to the no-op poster.
type Mux struct {
	posters  map[string]conversation.ResponsePoster
	fallback conversation.ResponsePoster
}

func NewMux() *Mux {
	return &Mux{
		posters:  make(map[string]conversation.ResponsePoster),
		fallback: NoopPoster{},
	}
}

func (m *Mux) Register(platform string, poster conversation.ResponsePoster) {
	m.posters[platform] = poster
}

func (m *Mux) Post(ctx context.Context, ev *model.Event, text string) (string, error) {
	if poster, ok := m.posters[ev.Platform]; ok {
		return poster.Post(ctx, ev, text)
	}
	return m.fallback.Post(ctx, ev, text)
}
