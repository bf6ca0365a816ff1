package notify

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Notifier enqueues notification events onto the worker queue.
type Notifier struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewNotifier constructs a Notifier. A nil client disables delivery, which
// keeps tests and the worker free of a queue dependency.
func NewNotifier(client *asynq.Client, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, logger: logger}
}

// Enqueue submits the event. Errors are logged and swallowed: the
// notification channel is fire-and-forget by contract.
func (n *Notifier) Enqueue(ctx context.Context, evt Event) {
	if n == nil || n.client == nil {
		return
	}
	task, err := NewPushTask(evt)
	if err != nil {
		n.logger.Warn("build notification task", slog.Any("error", err))
		return
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		n.logger.Warn("enqueue notification",
			slog.String("type", string(evt.Type)),
			slog.Int64("store_id", evt.StoreID),
			slog.Any("error", err))
	}
}
