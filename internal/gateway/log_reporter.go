package gateway

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
)

// LogReporter 失敗をログに出力するだけのFailureReporter（ローカル実行用）
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter ログ出力用のFailureReporterを作成
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: logging.With().Str("component", "log_reporter").Logger()}
}

// Report 失敗をエラーレベルで出力
func (r *LogReporter) Report(_ context.Context, report domain.FailureReport) {
	ev := r.logger.Error().
		Err(report.Err).
		Str("run_id", report.RunID).
		Str("mode", report.Mode).
		Str("source", report.SourceCalendarID).
		Str("destination", report.DestinationCalendarID).
		Time("timestamp", report.Timestamp)
	if stack := report.Stack(); stack != "" {
		ev = ev.Str("stack", stack)
	}
	ev.Msg(report.Subject())
}
