package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bottlekeep/bottlekeep/internal/expiry"
	"github.com/bottlekeep/bottlekeep/internal/notify"
	"github.com/bottlekeep/bottlekeep/internal/observability"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeExpirySweep is the scheduled sweep over all stores.
	TaskTypeExpirySweep = "expiry:sweep"
)

// NewExpirySweepTask constructs the sweep task. It carries no payload; the
// sweep always covers every store.
func NewExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeExpirySweep, nil)
}

// SweepHandler runs the expiry sweep when the scheduler fires.
type SweepHandler struct {
	logger  *slog.Logger
	sweeper *expiry.Sweeper
	metrics *observability.Metrics
}

// NewSweepHandler wires the sweep job.
func NewSweepHandler(logger *slog.Logger, sweeper *expiry.Sweeper, metrics *observability.Metrics) *SweepHandler {
	return &SweepHandler{logger: logger, sweeper: sweeper, metrics: metrics}
}

// Handle processes TaskTypeExpirySweep tasks.
func (h *SweepHandler) Handle(ctx context.Context, _ *asynq.Task) error {
	stats, err := h.sweeper.Run(ctx, time.Now())
	if err != nil {
		h.logger.Error("expiry sweep failed", slog.Any("error", err))
		return err
	}
	h.metrics.CountSweep(stats.Expired, stats.Failed)
	return nil
}

// PushHandler delivers notification events. The push collaborator is an
// external system; this handler logs the hand-off.
type PushHandler struct {
	logger *slog.Logger
}

// NewPushHandler wires the push job.
func NewPushHandler(logger *slog.Logger) *PushHandler {
	return &PushHandler{logger: logger}
}

// Handle processes notify push tasks.
func (h *PushHandler) Handle(_ context.Context, t *asynq.Task) error {
	var event notify.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return asynq.SkipRetry
	}
	h.logger.Info("push notification delivered",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.Int64("store_id", event.StoreID),
		slog.String("title", event.Title))
	return nil
}
