// Package notify holds notifier combinators used by the monitor.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
)

// Log writes events to the logger. It never fails.
type Log struct {
	Logger *slog.Logger
}

func (l Log) NotifyAlert(_ context.Context, e domain.AlertEvent) error {
	l.Logger.Warn("rain alert",
		"id", e.ID,
		"location", e.Location,
		"severity", e.Severity,
		"mm_per_hour", e.MMPerHour,
		"threshold", e.Threshold,
		"method", e.Method,
		"lead", e.Slot.LeadMinutes,
		"valid_time", e.Slot.ValidStamp(),
		"recipients", e.Recipients,
	)
	return nil
}

func (l Log) NotifyHeartbeat(_ context.Context, e domain.HeartbeatEvent) error {
	l.Logger.Info("heartbeat", "scheduled", e.Scheduled, "date", e.Date, "locations", e.Locations)
	return nil
}

// Multi fans an event out to every notifier. All sinks are attempted; the
// failures are joined.
type Multi []domain.Notifier

func (m Multi) NotifyAlert(ctx context.Context, e domain.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAlert(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyHeartbeat(ctx context.Context, e domain.HeartbeatEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyHeartbeat(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
