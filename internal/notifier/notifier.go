package notifier

import (
	"context"
	"log/slog"
)

// Notifier delivers operator alerts.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// CommandHandler answers an operator command. An empty reply sends nothing.
type CommandHandler func(command string) string

// LogNotifier writes alerts to the log. It is used when Telegram is not
// configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	l.log.Info("notifier: alert", "text", text)
	return nil
}
