package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
)

// EventSelector 同期元カレンダーから同期候補を選び出す
type EventSelector struct {
	source   CalendarService
	fetchers []EventFetcher
	tag      string
	logger   zerolog.Logger
}

// NewEventSelector EventSelector を作成
//
// 単一イベントの取得は source、fallbacks の順に試す。
func NewEventSelector(source CalendarService, tag string, fallbacks ...EventFetcher) *EventSelector {
	fetchers := make([]EventFetcher, 0, len(fallbacks)+1)
	fetchers = append(fetchers, source)
	fetchers = append(fetchers, fallbacks...)
	return &EventSelector{
		source:   source,
		fetchers: fetchers,
		tag:      tag,
		logger:   logging.With().Str("component", "selector").Logger(),
	}
}

// SelectOne イベントを1件取得
//
// すべての取得手段が NotFound の場合だけ domain.ErrNotFound を返す。
// いずれかが APIFailure なら、その APIFailure を結合して返す。
func (s *EventSelector) SelectOne(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	var notFound, failures []error
	for i, f := range s.fetchers {
		event, err := f.GetEvent(ctx, calendarID, eventID)
		if err == nil {
			if i > 0 {
				s.logger.Info().Str("event_id", eventID).Int("fetcher", i).Msg("代替手段でイベントを取得しました")
			}
			return event, nil
		}
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrAPIFailure) {
			return domain.Event{}, err
		}
		s.logger.Warn().Err(err).Str("event_id", eventID).Int("fetcher", i).Msg("イベントの取得に失敗しました")
		if errors.Is(err, domain.ErrAPIFailure) {
			failures = append(failures, err)
		} else {
			notFound = append(notFound, err)
		}
	}
	if len(failures) > 0 {
		return domain.Event{}, fmt.Errorf("イベント %s の取得に失敗しました: %w", eventID, errors.Join(failures...))
	}
	return domain.Event{}, fmt.Errorf("イベント %s が見つかりません: %w", eventID, errors.Join(notFound...))
}

// SelectTagged 期間内のイベントのうちタグ付きのものを順に返す
//
// 繰り返しイベントは展開せずシリーズ定義のまま返す。
// 2つ目の戻り値は期間内で確認したイベントの総数。
func (s *EventSelector) SelectTagged(ctx context.Context, calendarID string, start, end time.Time) (iter.Seq[domain.Event], int, error) {
	events, err := s.source.ListEvents(ctx, calendarID, start, end, ListOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("同期元イベント一覧の取得に失敗しました: %w", err)
	}

	seq := func(yield func(domain.Event) bool) {
		for _, event := range events {
			if !event.HasTag(s.tag) {
				continue
			}
			if !yield(event) {
				return
			}
		}
	}
	return seq, len(events), nil
}

// ScanWindow 全件走査の対象期間（now-lookback 〜 now+yearsAhead年）
func ScanWindow(now time.Time, lookback time.Duration, yearsAhead int) (time.Time, time.Time) {
	return now.Add(-lookback), now.AddDate(yearsAhead, 0, 0)
}

// batches シーケンスを size 件ずつのスライスにまとめる
func batches[E any](seq iter.Seq[E], size int) iter.Seq[[]E] {
	return func(yield func([]E) bool) {
		batch := make([]E, 0, size)
		for e := range seq {
			batch = append(batch, e)
			if len(batch) < size {
				continue
			}
			if !yield(batch) {
				return
			}
			batch = make([]E, 0, size)
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}
