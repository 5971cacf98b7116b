package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

// Match 同期先に既存のミラーがあるかの判定結果
type Match struct {
	Found bool
	// Target 更新対象のミラー（ヒューリスティック照合では常に nil）
	Target *domain.Event
}

// Detector 同期先の既存ミラーを検出する戦略
type Detector interface {
	// Prefetch バッチ全体をカバーする期間の同期先イベントをまとめて取得
	Prefetch(ctx context.Context, batch []domain.Event) (DestinationIndex, error)
	// Match 候補1件について同期先を個別に問い合わせる
	Match(ctx context.Context, candidate domain.Event) (Match, error)
}

// DestinationIndex 事前取得した同期先イベントと照合方法
type DestinationIndex struct {
	events []domain.Event
	match  func(candidate domain.Event, existing []domain.Event) Match
}

// Lookup 事前取得分から候補のミラーを探す
func (ix DestinationIndex) Lookup(candidate domain.Event) Match {
	return ix.match(candidate, ix.events)
}

// Len 事前取得したイベント数
func (ix DestinationIndex) Len() int {
	return len(ix.events)
}

// HeuristicDetector タイトル・開始・終了の一致でミラーを判定する
//
// 同じ枠に同名の予定が別途登録されていると誤って同期済みと判定する。
// 同期元のタイトルや時刻が変わると別の予定として新規作成される。
type HeuristicDetector struct {
	destination CalendarService
	calendarID  string
}

// NewHeuristicDetector HeuristicDetector を作成
func NewHeuristicDetector(destination CalendarService, calendarID string) *HeuristicDetector {
	return &HeuristicDetector{destination: destination, calendarID: calendarID}
}

// Prefetch バッチ全体の期間に重なる同期先イベントを繰り返しを展開して取得
func (d *HeuristicDetector) Prefetch(ctx context.Context, batch []domain.Event) (DestinationIndex, error) {
	start, end := unionWindow(batch, 0)
	events, err := d.destination.ListEvents(ctx, d.calendarID, start, end, ListOptions{ExpandRecurring: true})
	if err != nil {
		return DestinationIndex{}, fmt.Errorf("同期先イベントの一括取得に失敗しました: %w", err)
	}
	return DestinationIndex{events: events, match: matchSlot}, nil
}

// Match 候補と同じ枠・同名の同期先イベントを検索
func (d *HeuristicDetector) Match(ctx context.Context, candidate domain.Event) (Match, error) {
	events, err := d.destination.ListEvents(ctx, d.calendarID, candidate.StartTime, candidate.EndTime, ListOptions{
		TitleContains:   candidate.Title,
		ExpandRecurring: true,
	})
	if err != nil {
		return Match{}, fmt.Errorf("同期先イベントの検索に失敗しました: %w", err)
	}
	return matchSlot(candidate, events), nil
}

func matchSlot(candidate domain.Event, existing []domain.Event) Match {
	for _, e := range existing {
		if e.SameSlot(candidate) {
			return Match{Found: true}
		}
	}
	return Match{}
}

// LinkDetector ミラーに記録した同期元イベントIDへの参照で判定する
//
// 同期元の時刻変更に追従できるよう、候補の前後 padding を検索範囲とする。
type LinkDetector struct {
	destination CalendarService
	calendarID  string
	padding     time.Duration
}

// NewLinkDetector LinkDetector を作成
func NewLinkDetector(destination CalendarService, calendarID string, padding time.Duration) *LinkDetector {
	return &LinkDetector{destination: destination, calendarID: calendarID, padding: padding}
}

// Prefetch バッチ全体の期間に padding を加えた範囲の同期先イベントを取得
func (d *LinkDetector) Prefetch(ctx context.Context, batch []domain.Event) (DestinationIndex, error) {
	start, end := unionWindow(batch, d.padding)
	events, err := d.destination.ListEvents(ctx, d.calendarID, start, end, ListOptions{})
	if err != nil {
		return DestinationIndex{}, fmt.Errorf("同期先イベントの一括取得に失敗しました: %w", err)
	}
	return DestinationIndex{events: events, match: matchLink}, nil
}

// Match 候補のIDを参照する同期先イベントを検索
func (d *LinkDetector) Match(ctx context.Context, candidate domain.Event) (Match, error) {
	start, end := candidate.Window(d.padding)
	events, err := d.destination.ListEvents(ctx, d.calendarID, start, end, ListOptions{LinkedSourceID: candidate.ID})
	if err != nil {
		return Match{}, fmt.Errorf("同期先イベントの検索に失敗しました: %w", err)
	}
	return matchLink(candidate, events), nil
}

func matchLink(candidate domain.Event, existing []domain.Event) Match {
	for i := range existing {
		if existing[i].LinkedTo(candidate.ID) {
			target := existing[i]
			return Match{Found: true, Target: &target}
		}
	}
	return Match{}
}

// unionWindow バッチ内の全イベントを含む最小の期間を前後 padding だけ広げて返す
func unionWindow(events []domain.Event, padding time.Duration) (time.Time, time.Time) {
	var start, end time.Time
	for i, e := range events {
		s, t := e.Window(padding)
		if i == 0 || s.Before(start) {
			start = s
		}
		if i == 0 || t.After(end) {
			end = t
		}
	}
	return start, end
}
