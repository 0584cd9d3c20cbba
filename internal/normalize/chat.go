package normalize

import (
	"fmt"

	"github.com/slack-go/slack/slackevents"

	"github.com/icdev-platform/dispatch/internal/model"
)

const platformChat = "slack"

// ChatSessionKey composes the lane identifier for a threaded chat
// conversation. The thread root timestamp keeps all replies in one lane;
// top-level messages start a lane of their own.
func ChatSessionKey(channel, threadTS, ts string) string {
	root := threadTS
	if root == "" {
		root = ts
	}
	return fmt.Sprintf("%s:%s", channel, root)
}

// ChatMessage normalizes a plain channel message. Bot-authored and
// subtype messages (edits, joins) return nil.
func (n *Normalizer) ChatMessage(msg *slackevents.MessageEvent) *model.Event {
	if msg == nil || msg.Text == "" || msg.SubType != "" || msg.BotID != "" {
		return nil
	}

	ev := n.newEvent(model.SourceChat, model.EventChatMessage, platformChat,
		ChatSessionKey(msg.Channel, msg.ThreadTimeStamp, msg.TimeStamp), msg.Text, msg.User)
	ev.Metadata["channel"] = msg.Channel
	ev.Metadata["ts"] = msg.TimeStamp
	if msg.ThreadTimeStamp != "" {
		ev.Metadata["thread_ts"] = msg.ThreadTimeStamp
	}
	return ev
}

// ChatMention normalizes an app-mention event.
func (n *Normalizer) ChatMention(msg *slackevents.AppMentionEvent) *model.Event {
	if msg == nil || msg.Text == "" || msg.BotID != "" {
		return nil
	}

	ev := n.newEvent(model.SourceChat, model.EventChatMention, platformChat,
		ChatSessionKey(msg.Channel, msg.ThreadTimeStamp, msg.TimeStamp), msg.Text, msg.User)
	ev.Metadata["channel"] = msg.Channel
	ev.Metadata["ts"] = msg.TimeStamp
	if msg.ThreadTimeStamp != "" {
		ev.Metadata["thread_ts"] = msg.ThreadTimeStamp
	}
	return ev
}
