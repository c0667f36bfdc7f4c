package notifier

import (
	"context"
	"strconv"
	"strings"
	"time"
)

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StartPolling long-polls for commands until ctx is cancelled. Only messages
// from the configured chat are answered.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	var offset int64
	for {
		updates, err := t.getUpdates(ctx, offset)
		if ctx.Err() != nil {
			t.log.Info("notifier: telegram polling stopped")
			return
		}
		if err != nil {
			t.log.Warn("notifier: polling failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || strconv.FormatInt(u.Message.Chat.ID, 10) != t.ChatID {
				continue
			}
			command := normalizeCommand(u.Message.Text)
			if command == "" {
				continue
			}
			t.log.Info("notifier: received command", "command", command)
			if reply := handler(command); reply != "" {
				if err := t.Send(ctx, reply); err != nil {
					t.log.Error("notifier: send reply", "error", err)
				}
			}
		}
	}
}

func (t *TelegramNotifier) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	ctx, cancel := context.WithTimeout(ctx, t.PollTimeout+5*time.Second)
	defer cancel()
	var updates []update
	err := t.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(t.PollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// normalizeCommand drops the "@botname" suffix Telegram adds in group chats.
func normalizeCommand(text string) string {
	text = strings.TrimSpace(text)
	head, rest, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(head, '@'); at > 0 && strings.HasPrefix(head, "/") {
		head = head[:at]
	}
	if rest == "" {
		return head
	}
	return head + " " + rest
}
