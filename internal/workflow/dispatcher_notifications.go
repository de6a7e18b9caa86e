package workflow

import (
	"context"
	"errors"
	"log/slog"

	"rivalcast/internal/logging"
	"rivalcast/internal/metrics"
	"rivalcast/internal/notifications"
	"rivalcast/internal/queue"
	"rivalcast/internal/stage"
)

func (d *Dispatcher) onOrderCompleted(ctx context.Context, logger *slog.Logger, orderID int64, result stage.Result) {
	metrics.OrdersFinished.WithLabelValues(string(queue.OrderCompleted)).Inc()
	logger.Info("order completed",
		logging.String("report_path", result.ReportPath),
		logging.String("report_uri", result.ReportURI),
		logging.String(logging.FieldEventType, "order_completed"),
	)
	d.publish(ctx, logger, notifications.EventOrderCompleted, notifications.Payload{
		"orderID":   orderID,
		"reportURI": result.ReportURI,
	})
}

func (d *Dispatcher) onOrderFailed(ctx context.Context, logger *slog.Logger, orderID int64, message string) {
	metrics.OrdersFinished.WithLabelValues(string(queue.OrderFailed)).Inc()
	d.publish(ctx, logger, notifications.EventOrderFailed, notifications.Payload{
		"orderID": orderID,
		"error":   message,
	})
}

func (d *Dispatcher) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
