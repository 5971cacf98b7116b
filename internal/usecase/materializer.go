package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

// Outcome ミラー書き込みの結果
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
)

// String ログ出力用の名前
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// EventMaterializer 同期先にミラーを作成・更新する
type EventMaterializer struct {
	destination CalendarService
	calendarID  string
}

// NewEventMaterializer EventMaterializer を作成
func NewEventMaterializer(destination CalendarService, calendarID string) *EventMaterializer {
	return &EventMaterializer{destination: destination, calendarID: calendarID}
}

// Materialize 候補のミラーを書き込む
//
// target があれば上書き更新し、なければ新規作成する。繰り返しイベントは
// シリーズとして1件だけ作成する。link が nil でなければミラーに記録する。
func (m *EventMaterializer) Materialize(ctx context.Context, candidate domain.Event, target *domain.Event, link *domain.MirrorLink) (domain.Event, Outcome, error) {
	mirror := mirrorOf(candidate, link)

	if target != nil {
		if mirror.Link == nil {
			mirror.Link = target.Link
		}
		updated, err := m.destination.UpdateEvent(ctx, m.calendarID, target.ID, mirror)
		if err != nil {
			return domain.Event{}, 0, fmt.Errorf("ミラー %s の更新に失敗しました: %w", target.ID, err)
		}
		return updated, OutcomeUpdated, nil
	}

	if candidate.IsRecurring() {
		created, err := m.destination.CreateRecurringEvent(ctx, m.calendarID, mirror, *candidate.Recurrence)
		if err != nil {
			return domain.Event{}, 0, fmt.Errorf("繰り返しイベント %q の作成に失敗しました: %w", candidate.Title, err)
		}
		return created, OutcomeCreated, nil
	}

	created, err := m.destination.CreateEvent(ctx, m.calendarID, mirror)
	if err != nil {
		return domain.Event{}, 0, fmt.Errorf("イベント %q の作成に失敗しました: %w", candidate.Title, err)
	}
	return created, OutcomeCreated, nil
}

// mirrorOf 同期元イベントから書き込み用のコピーを作る（IDは同期先で採番）
func mirrorOf(candidate domain.Event, link *domain.MirrorLink) domain.Event {
	mirror := candidate
	mirror.ID = ""
	mirror.Guests = slices.Clone(candidate.Guests)
	if candidate.Recurrence != nil {
		mirror.Recurrence = &domain.Recurrence{Rules: slices.Clone(candidate.Recurrence.Rules)}
	}
	mirror.Link = nil
	if link != nil {
		l := *link
		mirror.Link = &l
	}
	return mirror
}
