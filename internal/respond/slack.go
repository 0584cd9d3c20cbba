package respond

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"github.com/icdev-platform/dispatch/internal/model"
)

const slackMaxMsgLen = 4000

// SlackPoster replies in the channel (and thread, when there is one)
// the triggering message came from.
type SlackPoster struct {
	client *slack.Client
}

func NewSlackPoster(botToken string) *SlackPoster {
	return &SlackPoster{client: slack.New(botToken)}
}

func (p *SlackPoster) Post(ctx context.Context, ev *model.Event, text string) (string, error) {
	channel := ev.Metadata["channel"]
	if channel == "" {
		return "", fmt.Errorf("event has no channel metadata")
	}

	text = truncateRunes(text, slackMaxMsgLen)

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS := ev.Metadata["thread_ts"]; threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	} else if ts := ev.Metadata["ts"]; ts != "" {
		// Reply in a thread rooted at the triggering message.
		opts = append(opts, slack.MsgOptionTS(ts))
	}

	_, timestamp, err := p.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("posting slack message: %w", err)
	}
	return timestamp, nil
}

// truncateRunes cuts text to at most max bytes without splitting a rune.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
