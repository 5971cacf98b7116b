package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
)

// reportTimeout 失敗通知の送信に使う時間
const reportTimeout = 10 * time.Second

// Mode 実行モード
type Mode string

const (
	ModeSingle Mode = "single"
	ModeScan   Mode = "scan"
)

const (
	StrategyHeuristic = "heuristic"
	StrategyLink      = "link"
)

// Trigger 同期の起動要求
//
// EventID が空なら全件走査、CalendarID が空なら設定の同期元を使う。
type Trigger struct {
	CalendarID string
	EventID    string
}

// Summary 1回の実行結果
type Summary struct {
	RunID    string `json:"runId"`
	Mode     Mode   `json:"mode"`
	Checked  int    `json:"checked"`
	Tagged   int    `json:"tagged"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Errored  int    `json:"errored"`
	Degraded bool   `json:"degraded"`
}

// SyncOptions 同期処理の設定
type SyncOptions struct {
	SourceCalendarID      string
	DestinationCalendarID string
	Tag                   string
	Strategy              string
	ScanLookback          time.Duration
	ScanYearsAhead        int
	BatchSize             int
	// BatchPause バッチ開始の最小間隔（0 なら待たない）
	BatchPause        time.Duration
	LinkLookupPadding time.Duration
}

// SyncEventsUseCase タグ付きイベントを同期先カレンダーへ片方向同期する
type SyncEventsUseCase struct {
	opts         SyncOptions
	selector     *EventSelector
	heuristic    Detector
	link         Detector
	materializer *EventMaterializer
	reporter     FailureReporter
	now          func() time.Time
	newRunID     func() string
	logger       zerolog.Logger
}

// NewSyncEventsUseCase SyncEventsUseCase を作成
//
// fallbacks は同期元イベントを1件取得する際の代替手段（source の後に順に試す）。
func NewSyncEventsUseCase(opts SyncOptions, source, destination CalendarService, reporter FailureReporter, fallbacks ...EventFetcher) *SyncEventsUseCase {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &SyncEventsUseCase{
		opts:         opts,
		selector:     NewEventSelector(source, opts.Tag, fallbacks...),
		heuristic:    NewHeuristicDetector(destination, opts.DestinationCalendarID),
		link:         NewLinkDetector(destination, opts.DestinationCalendarID, opts.LinkLookupPadding),
		materializer: NewEventMaterializer(destination, opts.DestinationCalendarID),
		reporter:     reporter,
		now:          time.Now,
		newRunID:     uuid.NewString,
		logger:       logging.With().Str("component", "sync").Logger(),
	}
}

// syncRun 1回の実行の状態
type syncRun struct {
	sourceCalendarID string
	summary          *Summary
	log              zerolog.Logger
}

// Execute 同期を1回実行
//
// 致命的なエラー（パニックを含む）は失敗通知を1回だけ送ったうえで返す。
// 途中まで処理した件数は Summary に残る。
func (u *SyncEventsUseCase) Execute(ctx context.Context, trigger Trigger) (summary Summary, err error) {
	summary = Summary{RunID: u.newRunID(), Mode: ModeScan}
	if trigger.EventID != "" {
		summary.Mode = ModeSingle
	}

	run := &syncRun{
		sourceCalendarID: u.opts.SourceCalendarID,
		summary:          &summary,
	}
	if trigger.CalendarID != "" {
		run.sourceCalendarID = trigger.CalendarID
	}
	run.log = u.logger.With().
		Str("run_id", summary.RunID).
		Str("mode", string(summary.Mode)).
		Str("source", run.sourceCalendarID).
		Str("destination", u.opts.DestinationCalendarID).
		Logger()

	startedAt := u.now()
	run.log.Info().Str("event_id", trigger.EventID).Msg("同期を開始します")

	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
		u.finish(ctx, run, startedAt, err)
	}()

	if summary.Mode == ModeSingle {
		err = u.syncOne(ctx, run, trigger.EventID)
	} else {
		err = u.syncAll(ctx, run)
	}
	return summary, err
}

// finish 結果をログに出力し、失敗していれば通知する
func (u *SyncEventsUseCase) finish(ctx context.Context, run *syncRun, startedAt time.Time, err error) {
	s := run.summary
	ev := run.log.Info()
	if err != nil {
		ev = run.log.Error().Err(err)
	}
	ev.Int("checked", s.Checked).
		Int("tagged", s.Tagged).
		Int("created", s.Created).
		Int("updated", s.Updated).
		Int("skipped", s.Skipped).
		Int("errored", s.Errored).
		Bool("degraded", s.Degraded).
		Dur("elapsed", u.now().Sub(startedAt)).
		Msg("同期が終了しました")

	if err == nil {
		return
	}
	// 実行のコンテキストが期限切れでも通知は送る
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	u.reporter.Report(reportCtx, domain.FailureReport{
		Err:                   err,
		RunID:                 s.RunID,
		Mode:                  string(s.Mode),
		SourceCalendarID:      run.sourceCalendarID,
		DestinationCalendarID: u.opts.DestinationCalendarID,
		Timestamp:             u.now(),
	})
}

func (u *SyncEventsUseCase) syncOne(ctx context.Context, run *syncRun, eventID string) error {
	event, err := u.selector.SelectOne(ctx, run.sourceCalendarID, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		run.log.Info().Err(err).Str("event_id", eventID).Msg("同期元イベントが見つからないためスキップします")
		return nil
	}
	if err != nil {
		return err
	}

	run.summary.Checked = 1
	if !event.HasTag(u.opts.Tag) {
		run.log.Info().Str("event_id", eventID).Str("title", event.Title).Msg("タグがないため同期しません")
		return nil
	}
	run.summary.Tagged = 1

	if !u.accept(run, event) {
		return nil
	}
	return u.apply(ctx, run, event, u.detectorFor(event).Match)
}

func (u *SyncEventsUseCase) syncAll(ctx context.Context, run *syncRun) error {
	start, end := ScanWindow(u.now(), u.opts.ScanLookback, u.opts.ScanYearsAhead)
	run.log.Info().Time("from", start).Time("to", end).Msg("期間内のイベントを走査します")

	candidates, checked, err := u.selector.SelectTagged(ctx, run.sourceCalendarID, start, end)
	if errors.Is(err, domain.ErrNotFound) {
		run.log.Warn().Err(err).Msg("同期元カレンダーが見つからないためスキップします")
		return nil
	}
	if err != nil {
		return err
	}
	run.summary.Checked = checked

	limit := rate.Inf
	if u.opts.BatchPause > 0 {
		limit = rate.Every(u.opts.BatchPause)
	}
	limiter := rate.NewLimiter(limit, 1)

	for batch := range batches(candidates, u.opts.BatchSize) {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("バッチ間の待機が中断されました: %w", err)
		}
		run.summary.Tagged += len(batch)
		if err := u.syncBatch(ctx, run, batch); err != nil {
			return err
		}
	}
	return nil
}

// syncBatch 1バッチ分の候補を処理
//
// 事前取得が APIFailure で失敗した場合は、以降のバッチも含めて
// 1件ずつの照合に切り替える。同期先が見つからない場合はバッチ全体を Skipped とする。
func (u *SyncEventsUseCase) syncBatch(ctx context.Context, run *syncRun, batch []domain.Event) error {
	valid := make([]domain.Event, 0, len(batch))
	for _, event := range batch {
		if u.accept(run, event) {
			valid = append(valid, event)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	if run.summary.Degraded {
		return u.syncEach(ctx, run, valid)
	}

	lookup, err := u.prefetchBatch(ctx, valid)
	if errors.Is(err, domain.ErrNotFound) {
		run.summary.Skipped += len(valid)
		run.log.Warn().Err(err).Int("events", len(valid)).Msg("同期先カレンダーが見つからないためバッチをスキップします")
		return nil
	}
	if errors.Is(err, domain.ErrAPIFailure) {
		run.log.Warn().Err(err).Msg("同期先の一括取得に失敗したため1件ずつの照合に切り替えます")
		run.summary.Degraded = true
		return u.syncEach(ctx, run, valid)
	}
	if err != nil {
		return err
	}

	for _, event := range valid {
		if err := u.apply(ctx, run, event, lookup); err != nil {
			return err
		}
	}
	return nil
}

// prefetchBatch 照合方法ごとに同期先をまとめて取得し、候補の照合関数を返す
func (u *SyncEventsUseCase) prefetchBatch(ctx context.Context, events []domain.Event) (func(context.Context, domain.Event) (Match, error), error) {
	var heuristicBatch, linkBatch []domain.Event
	for _, event := range events {
		if u.detectorFor(event) == u.link {
			linkBatch = append(linkBatch, event)
		} else {
			heuristicBatch = append(heuristicBatch, event)
		}
	}

	heuristicIndex, err := u.prefetch(ctx, u.heuristic, heuristicBatch)
	if err != nil {
		return nil, err
	}
	linkIndex, err := u.prefetch(ctx, u.link, linkBatch)
	if err != nil {
		return nil, err
	}

	return func(_ context.Context, candidate domain.Event) (Match, error) {
		if u.detectorFor(candidate) == u.link {
			return linkIndex.Lookup(candidate), nil
		}
		return heuristicIndex.Lookup(candidate), nil
	}, nil
}

// syncEach 候補ごとに同期先を問い合わせて処理
//
// 単発イベントはヒューリスティック照合、繰り返しイベントは参照による照合を使う。
func (u *SyncEventsUseCase) syncEach(ctx context.Context, run *syncRun, events []domain.Event) error {
	for _, event := range events {
		detector := u.heuristic
		if event.IsRecurring() {
			detector = u.link
		}
		if err := u.apply(ctx, run, event, detector.Match); err != nil {
			return err
		}
	}
	return nil
}

func (u *SyncEventsUseCase) prefetch(ctx context.Context, detector Detector, events []domain.Event) (DestinationIndex, error) {
	if len(events) == 0 {
		return DestinationIndex{match: func(domain.Event, []domain.Event) Match { return Match{} }}, nil
	}
	return detector.Prefetch(ctx, events)
}

// accept 候補を検証し、不正なものは Errored として数えて除外する
func (u *SyncEventsUseCase) accept(run *syncRun, event domain.Event) bool {
	if err := event.Validate(); err != nil {
		run.summary.Errored++
		run.log.Warn().Err(err).Str("event_id", event.ID).Msg("不正なイベントのためスキップします")
		return false
	}
	return true
}

// apply 照合してミラーがなければ作成、参照付きミラーの内容が古ければ更新する
func (u *SyncEventsUseCase) apply(ctx context.Context, run *syncRun, candidate domain.Event, match func(context.Context, domain.Event) (Match, error)) error {
	log := run.log.With().Str("event_id", candidate.ID).Str("title", candidate.Title).Logger()

	m, err := match(ctx, candidate)
	if errors.Is(err, domain.ErrNotFound) {
		run.summary.Skipped++
		log.Warn().Err(err).Msg("同期先が見つからないためスキップします")
		return nil
	}
	if err != nil {
		return err
	}

	if m.Found && (m.Target == nil || m.Target.SameContent(candidate)) {
		run.summary.Skipped++
		log.Debug().Msg("同期済みのためスキップします")
		return nil
	}

	mirror, outcome, err := u.materializer.Materialize(ctx, candidate, m.Target, u.linkFor(run, candidate))
	if errors.Is(err, domain.ErrNotFound) {
		run.summary.Skipped++
		log.Warn().Err(err).Msg("更新対象のミラーが見つからないためスキップします")
		return nil
	}
	if err != nil {
		return err
	}

	switch outcome {
	case OutcomeCreated:
		run.summary.Created++
	case OutcomeUpdated:
		run.summary.Updated++
	}
	log.Info().Str("mirror_id", mirror.ID).Stringer("outcome", outcome).Msg("ミラーを書き込みました")
	return nil
}

// detectorFor 繰り返しイベントは戦略によらず参照で照合する
func (u *SyncEventsUseCase) detectorFor(event domain.Event) Detector {
	if u.opts.Strategy == StrategyLink || event.IsRecurring() {
		return u.link
	}
	return u.heuristic
}

func (u *SyncEventsUseCase) linkFor(run *syncRun, event domain.Event) *domain.MirrorLink {
	if u.opts.Strategy != StrategyLink && !event.IsRecurring() {
		return nil
	}
	return &domain.MirrorLink{SourceEventID: event.ID, SourceCalendarID: run.sourceCalendarID}
}

// panicError 実行中のパニックをエラーとして扱う
type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("同期中にパニックが発生しました: %v", e.value)
}

// StackTrace パニック発生時のスタック
func (e *panicError) StackTrace() string {
	return e.stack
}
