package usecase

import (
	"context"
	"time"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

// ListOptions イベント一覧取得の絞り込み条件
type ListOptions struct {
	// TitleContains タイトル検索（サービス側の全文検索。完全一致の判定は呼び出し側で行う）
	TitleContains string
	// LinkedSourceID 同期元イベントIDへの参照を持つイベントのみ
	LinkedSourceID string
	// ExpandRecurring 繰り返しイベントを個々の予定に展開する
	ExpandRecurring bool
}

// EventFetcher イベントをIDで1件取得するポート
type EventFetcher interface {
	GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error)
}

// CalendarService カレンダーの読み書きを行うポート
type CalendarService interface {
	EventFetcher
	ListEvents(ctx context.Context, calendarID string, start, end time.Time, opts ListOptions) ([]domain.Event, error)
	CreateEvent(ctx context.Context, calendarID string, event domain.Event) (domain.Event, error)
	CreateRecurringEvent(ctx context.Context, calendarID string, event domain.Event, rule domain.Recurrence) (domain.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error)
}

// FailureReporter 同期失敗を通知するポート
//
// 送信に失敗してもエラーを返さない（実装側でログに記録して握りつぶす）。
type FailureReporter interface {
	Report(ctx context.Context, report domain.FailureReport)
}
