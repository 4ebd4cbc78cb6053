package hooks

import (
	"context"

	"drover/internal/agent/ports"
	"drover/internal/logging"
)

// LogNotifier surfaces notifications through the structured logger. Hosts
// wanting desktop or chat notifications provide their own Notifier.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger)}
}

func (n *LogNotifier) Notify(_ context.Context, notification ports.Notification) error {
	format := "%s: %s"
	args := []any{notification.Title, notification.Message}
	if notification.RunID != "" {
		format = "%s: %s (run %s)"
		args = append(args, notification.RunID)
	}

	switch notification.Level {
	case ports.NotifyError:
		n.logger.Error(format, args...)
	case ports.NotifyWarn:
		n.logger.Warn(format, args...)
	default:
		n.logger.Info(format, args...)
	}
	return nil
}
