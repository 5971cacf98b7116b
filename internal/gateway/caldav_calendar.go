package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

const (
	// 同期元への参照を保持する独自プロパティ
	icalSourceEventID    = "X-CALSYNC-SOURCE-EVENT-ID"
	icalSourceCalendarID = "X-CALSYNC-SOURCE-CALENDAR-ID"

	icalProductID = "-//calendar-event-sync//EN"
)

// recurrenceProps シリーズ定義として引き継ぐプロパティ
var recurrenceProps = []string{"RRULE", "RDATE", "EXDATE"}

// CalDAVCalendarGateway CalDAVサーバーを同期先とするCalendarServiceの実装
//
// calendarID にはカレンダーコレクションのパス（例: /calendars/user/work/）を指定する。
// イベントIDはオブジェクトのファイル名（.ics を除く）で、作成時は UID と同じ値を使う。
type CalDAVCalendarGateway struct {
	client   *caldav.Client
	timezone *time.Location
	logger   zerolog.Logger
}

// NewCalDAVCalendarGateway Basic認証でCalDAVクライアントを作成
func NewCalDAVCalendarGateway(serverURL, username, password string, timezone *time.Location) (*CalDAVCalendarGateway, error) {
	var httpClient webdav.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	if username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	client, err := caldav.NewClient(httpClient, serverURL)
	if err != nil {
		return nil, fmt.Errorf("CalDAVクライアントの作成に失敗しました: %w", err)
	}
	if timezone == nil {
		timezone = time.UTC
	}
	return &CalDAVCalendarGateway{
		client:   client,
		timezone: timezone,
		logger:   logging.With().Str("component", "caldav_calendar").Logger(),
	}, nil
}

// GetEvent イベントをIDで取得
func (g *CalDAVCalendarGateway) GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	object, err := g.client.GetCalendarObject(ctx, objectPath(calendarID, eventID))
	if err != nil {
		return domain.Event{}, classifyDAV(err, "イベント "+eventID+" の取得")
	}
	comp := masterEvent(object.Data)
	if comp == nil {
		return domain.Event{}, fmt.Errorf("イベント %s に VEVENT がありません: %w", eventID, domain.ErrNotFound)
	}
	return g.convertToEvent(eventID, comp)
}

// ListEvents 期間内のイベントを取得
//
// 繰り返しイベントはサーバー側で展開せず、シリーズ定義として返す。
func (g *CalDAVCalendarGateway) ListEvents(ctx context.Context, calendarID string, start, end time.Time, opts usecase.ListOptions) ([]domain.Event, error) {
	eventFilter := caldav.CompFilter{Name: ical.CompEvent, Start: start, End: end}
	if opts.LinkedSourceID != "" {
		eventFilter.Props = append(eventFilter.Props, caldav.PropFilter{
			Name:      icalSourceEventID,
			TextMatch: &caldav.TextMatch{Text: opts.LinkedSourceID},
		})
	}
	if opts.TitleContains != "" {
		eventFilter.Props = append(eventFilter.Props, caldav.PropFilter{
			Name:      ical.PropSummary,
			TextMatch: &caldav.TextMatch{Text: opts.TitleContains},
		})
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{eventFilter},
		},
	}

	objects, err := g.client.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, classifyDAV(err, "カレンダー "+calendarID+" のイベント一覧取得")
	}

	var events []domain.Event
	for _, object := range objects {
		comp := masterEvent(object.Data)
		if comp == nil {
			continue
		}
		event, err := g.convertToEvent(objectID(object.Path), comp)
		if err != nil {
			g.logger.Warn().Err(err).Str("path", object.Path).Msg("イベントの変換をスキップしました")
			continue
		}
		// サーバーによってはテキスト条件を無視するため手元でも絞り込む
		if opts.LinkedSourceID != "" && !event.LinkedTo(opts.LinkedSourceID) {
			continue
		}
		if opts.TitleContains != "" && !strings.Contains(event.Title, opts.TitleContains) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// CreateEvent 単発イベントを作成
func (g *CalDAVCalendarGateway) CreateEvent(ctx context.Context, calendarID string, event domain.Event) (domain.Event, error) {
	event.Recurrence = nil
	return g.put(ctx, calendarID, uuid.NewString(), event)
}

// CreateRecurringEvent 繰り返しイベントをシリーズとして作成
func (g *CalDAVCalendarGateway) CreateRecurringEvent(ctx context.Context, calendarID string, event domain.Event, rule domain.Recurrence) (domain.Event, error) {
	event.Recurrence = &rule
	return g.put(ctx, calendarID, uuid.NewString(), event)
}

// UpdateEvent イベントの内容を置き換える
func (g *CalDAVCalendarGateway) UpdateEvent(ctx context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error) {
	if _, err := g.client.GetCalendarObject(ctx, objectPath(calendarID, eventID)); err != nil {
		return domain.Event{}, classifyDAV(err, "イベント "+eventID+" の取得")
	}
	return g.put(ctx, calendarID, eventID, event)
}

// DeleteEvent イベントを削除（動作確認で作成したイベントの後始末用）
func (g *CalDAVCalendarGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.client.RemoveAll(ctx, objectPath(calendarID, eventID)); err != nil {
		return classifyDAV(err, "イベント "+eventID+" の削除")
	}
	return nil
}

func (g *CalDAVCalendarGateway) put(ctx context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error) {
	cal, err := g.convertFromEvent(eventID, event)
	if err != nil {
		return domain.Event{}, err
	}
	if _, err := g.client.PutCalendarObject(ctx, objectPath(calendarID, eventID), cal); err != nil {
		return domain.Event{}, classifyDAV(err, "イベント "+event.Title+" の書き込み")
	}
	event.ID = eventID
	return event, nil
}

// convertToEvent VEVENT をドメインエンティティに変換
func (g *CalDAVCalendarGateway) convertToEvent(id string, comp *ical.Component) (domain.Event, error) {
	event := domain.Event{
		ID:          id,
		Title:       propText(comp.Props, ical.PropSummary),
		Location:    propText(comp.Props, ical.PropLocation),
		Description: propText(comp.Props, ical.PropDescription),
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return domain.Event{}, fmt.Errorf("開始時刻が設定されていません")
	}
	start, err := startProp.DateTime(g.timezone)
	if err != nil {
		return domain.Event{}, fmt.Errorf("開始時刻の解析に失敗しました: %w", err)
	}
	event.StartTime = start
	event.IsAllDay = startProp.ValueType() == ical.ValueDate

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, err := comp.Props.DateTime(ical.PropDateTimeEnd, g.timezone)
		if err != nil {
			return domain.Event{}, fmt.Errorf("終了時刻の解析に失敗しました: %w", err)
		}
		event.EndTime = end
	case comp.Props.Get(ical.PropDuration) != nil:
		d, err := comp.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return domain.Event{}, fmt.Errorf("期間の解析に失敗しました: %w", err)
		}
		event.EndTime = start.Add(d)
	case event.IsAllDay:
		event.EndTime = start.AddDate(0, 0, 1)
	default:
		event.EndTime = start
	}

	for _, attendee := range comp.Props.Values(ical.PropAttendee) {
		if email := mailAddress(attendee.Value); email != "" {
			event.Guests = append(event.Guests, email)
		}
	}

	var rules []string
	for _, name := range recurrenceProps {
		for _, p := range comp.Props.Values(name) {
			rules = append(rules, contentLine(p))
		}
	}
	event.Recurrence = domain.NewRecurrence(rules)

	if sourceID := propText(comp.Props, icalSourceEventID); sourceID != "" {
		event.Link = &domain.MirrorLink{
			SourceEventID:    sourceID,
			SourceCalendarID: propText(comp.Props, icalSourceCalendarID),
		}
	}
	return event, nil
}

// convertFromEvent ドメインエンティティを1件の VEVENT を持つカレンダーに変換
func (g *CalDAVCalendarGateway) convertFromEvent(uid string, event domain.Event) (*ical.Calendar, error) {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	if event.IsAllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, event.StartTime.In(g.timezone))
		ve.Props.SetDate(ical.PropDateTimeEnd, event.EndTime.In(g.timezone))
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
	}
	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	for _, guest := range event.Guests {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + guest
		ve.Props.Add(p)
	}
	if event.Recurrence != nil {
		for _, line := range event.Recurrence.Rules {
			p, err := parseContentLine(line)
			if err != nil {
				return nil, err
			}
			ve.Props.Add(p)
		}
	}
	if event.Link != nil {
		ve.Props.SetText(icalSourceEventID, event.Link.SourceEventID)
		ve.Props.SetText(icalSourceCalendarID, event.Link.SourceCalendarID)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icalProductID)
	cal.Children = append(cal.Children, ve)
	return cal, nil
}

// masterEvent 繰り返しの例外（RECURRENCE-ID 付き）を除いた最初の VEVENT
func masterEvent(cal *ical.Calendar) *ical.Component {
	if cal == nil {
		return nil
	}
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent && child.Props.Get(ical.PropRecurrenceID) == nil {
			return child
		}
	}
	return nil
}

func propText(props ical.Props, name string) string {
	p := props.Get(name)
	if p == nil {
		return ""
	}
	text, err := p.Text()
	if err != nil {
		return p.Value
	}
	return text
}

// mailAddress "mailto:" を取り除いたメールアドレス
func mailAddress(value string) string {
	const scheme = "mailto:"
	if len(value) >= len(scheme) && strings.EqualFold(value[:len(scheme)], scheme) {
		return value[len(scheme):]
	}
	return ""
}

// contentLine プロパティを "NAME;PARAM=VALUE:VALUE" 形式の1行にする
func contentLine(p ical.Prop) string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, name := range slices.Sorted(maps.Keys(p.Params)) {
		b.WriteString(";" + name + "=" + strings.Join(p.Params[name], ","))
	}
	b.WriteString(":" + p.Value)
	return b.String()
}

// parseContentLine contentLine の逆変換
func parseContentLine(line string) (*ical.Prop, error) {
	head, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("繰り返しルール %q の形式が不正です: %w", line, domain.ErrValidation)
	}
	parts := strings.Split(head, ";")
	p := ical.NewProp(strings.ToUpper(parts[0]))
	p.Value = value
	for _, param := range parts[1:] {
		name, v, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("繰り返しルール %q のパラメータが不正です: %w", line, domain.ErrValidation)
		}
		p.Params.Set(name, v)
	}
	return p, nil
}

func objectPath(calendarID, eventID string) string {
	return path.Join(calendarID, eventID+".ics")
}

func objectID(objectPath string) string {
	return strings.TrimSuffix(path.Base(objectPath), ".ics")
}

// classifyDAV CalDAVクライアントのエラーを NotFound / APIFailure に分類
//
// go-webdav はステータスコードを公開していないため、エラーメッセージで判定する。
func classifyDAV(err error, operation string) error {
	msg := err.Error()
	if strings.Contains(msg, "404 Not Found") || strings.Contains(msg, "410 Gone") {
		return fmt.Errorf("%sに失敗しました: %w: %w", operation, domain.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%sが中断されました: %w", operation, err)
	}
	return fmt.Errorf("%sに失敗しました: %w: %w", operation, domain.ErrAPIFailure, err)
}
