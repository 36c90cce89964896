package service

import (
	"context"
	"log/slog"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

// Notifier surfaces a failure to the person using the browsing context,
// such as a toast. It is called at most once per failed operation.
type Notifier interface {
	NotifyError(ctx context.Context, subject models.Subject, err error)
}

// LogNotifier writes notifications to the log. Used when no UI channel is
// attached.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyError(ctx context.Context, subject models.Subject, err error) {
	n.logger.WarnContext(ctx, "consent saved locally but not synced to account",
		"visitor_id", subject.VisitorID,
		"error", err,
	)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, subject models.Subject, err error)

func (f NotifierFunc) NotifyError(ctx context.Context, subject models.Subject, err error) {
	f(ctx, subject, err)
}
