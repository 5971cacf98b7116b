package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

const (
	selfTestLead     = time.Hour
	selfTestDuration = 30 * time.Minute
)

// syncer 単一イベントの同期を実行する
type syncer interface {
	Execute(ctx context.Context, trigger usecase.Trigger) (usecase.Summary, error)
}

// SelfTestResult 動作確認の結果
type SelfTestResult struct {
	SourceEventID string
	MirrorID      string
	Summary       usecase.Summary
}

// SelfTest 同期元にタグ付きのテストイベントを作成して単一イベント同期を実行し、
// 同期先にミラーができたことを確認する。作成したイベントは最後に削除する。
func (a *App) SelfTest(ctx context.Context) (SelfTestResult, error) {
	return runSelfTest(ctx, a.Source, a.destination, a.UseCase, SyncOptions(a.Config), time.Now())
}

func runSelfTest(ctx context.Context, source, destination Destination, s syncer, opts usecase.SyncOptions, now time.Time) (result SelfTestResult, err error) {
	start := now.Add(selfTestLead).Truncate(time.Minute)
	event := domain.Event{
		Title:       "calsync 動作確認 " + opts.Tag,
		StartTime:   start,
		EndTime:     start.Add(selfTestDuration),
		Description: "calsync selftest が作成したイベントです。確認後に自動で削除されます。",
	}

	created, err := source.CreateEvent(ctx, opts.SourceCalendarID, event)
	if err != nil {
		return result, fmt.Errorf("テストイベントの作成に失敗しました: %w", err)
	}
	result.SourceEventID = created.ID
	defer func() {
		err = errors.Join(err, cleanup(ctx, source, opts.SourceCalendarID, created.ID))
	}()

	result.Summary, err = s.Execute(ctx, usecase.Trigger{EventID: created.ID})
	if err != nil {
		return result, err
	}

	mirrors, err := destination.ListEvents(ctx, opts.DestinationCalendarID, created.StartTime, created.EndTime, usecase.ListOptions{
		TitleContains:   created.Title,
		ExpandRecurring: true,
	})
	if err != nil {
		return result, fmt.Errorf("ミラーの確認に失敗しました: %w", err)
	}
	for _, mirror := range mirrors {
		if !mirror.SameSlot(created) {
			continue
		}
		result.MirrorID = mirror.ID
		if err := cleanup(ctx, destination, opts.DestinationCalendarID, mirror.ID); err != nil {
			return result, err
		}
	}
	if result.MirrorID == "" {
		return result, fmt.Errorf("同期先 %s にミラーが作成されていません", opts.DestinationCalendarID)
	}
	return result, nil
}

// cleanup テスト用のイベントを削除（削除済みなら何もしない）
func cleanup(ctx context.Context, calendar Destination, calendarID, eventID string) error {
	err := calendar.DeleteEvent(ctx, calendarID, eventID)
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	logging.Warn().Err(err).Str("calendar", calendarID).Str("event_id", eventID).Msg("テストイベントを手動で削除してください")
	return fmt.Errorf("テストイベントの削除に失敗しました: %w", err)
}
