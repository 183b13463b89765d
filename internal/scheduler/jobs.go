package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"edulearn/internal/analytics"
	"edulearn/internal/storage"
)

// Expirer deletes sessions idle for longer than ttl.
type Expirer interface {
	Expire(ctx context.Context, ttl time.Duration) (int, error)
}

func ExpiryJob(spec string, e Expirer, ttl time.Duration) Job {
	return Job{
		Name: "session-expiry",
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := e.Expire(ctx, ttl)
			return err
		},
	}
}

// Notifier delivers a finished report, e.g. to an admin chat.
type Notifier func(ctx context.Context, text string) error

// ReportJob summarizes the current UTC day of the interaction log. The report
// is always logged and additionally passed to notify when it is set.
func ReportJob(spec string, rec storage.Recorder, notify Notifier, logger *slog.Logger) Job {
	return Job{
		Name: "daily-report",
		Spec: spec,
		Run: func(ctx context.Context) error {
			return DailyReport(ctx, rec, time.Now().UTC(), notify, logger)
		},
	}
}

func DailyReport(ctx context.Context, rec storage.Recorder, day time.Time, notify Notifier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	events, err := rec.Query(storage.Day(day))
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	stats := analytics.AnalyzeDailyLogs(events, day)
	logger.Info("daily usage report",
		"date", stats.Date, "exchanges", stats.Exchanges,
		"sessions", stats.UniqueSessions, "compactions", stats.Compactions)
	if notify == nil {
		return nil
	}
	if err := notify(ctx, stats.GenerateReportSummary()); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}
	return nil
}
