package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

const (
	// 同期元への参照を保持する非公開の拡張プロパティ
	propSourceEventID    = "calsyncSourceEventId"
	propSourceCalendarID = "calsyncSourceCalendarId"

	dateLayout = "2006-01-02"
	pageSize   = 250
)

// GoogleCalendarGateway Google Calendar APIを使用したCalendarServiceの実装
type GoogleCalendarGateway struct {
	service  *calendar.Service
	timezone *time.Location
	logger   zerolog.Logger
}

// NewGoogleCalendarGateway サービスアカウント認証でゲートウェイを作成
func NewGoogleCalendarGateway(ctx context.Context, credentialsJSON []byte, timezone *time.Location) (*GoogleCalendarGateway, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("google認証情報の読み込みに失敗しました: %w", err)
	}

	service, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("google Calendar APIサービスの作成に失敗しました: %w", err)
	}
	return NewGoogleCalendarGatewayWithService(service, timezone), nil
}

// NewGoogleCalendarGatewayWithService 作成済みのサービスからゲートウェイを作成
func NewGoogleCalendarGatewayWithService(service *calendar.Service, timezone *time.Location) *GoogleCalendarGateway {
	if timezone == nil {
		timezone = time.UTC
	}
	return &GoogleCalendarGateway{
		service:  service,
		timezone: timezone,
		logger:   logging.With().Str("component", "google_calendar").Logger(),
	}
}

// GetEvent イベントをIDで取得
func (g *GoogleCalendarGateway) GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	item, err := g.service.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, classify(err, "イベント "+eventID+" の取得")
	}
	if item.Status == "cancelled" {
		return domain.Event{}, fmt.Errorf("イベント %s は削除されています: %w", eventID, domain.ErrNotFound)
	}
	return g.convertToEvent(item)
}

// ListEvents 期間内のイベントを取得
//
// ExpandRecurring が false の場合、繰り返しの例外（個別に変更された回）は除外する。
func (g *GoogleCalendarGateway) ListEvents(ctx context.Context, calendarID string, start, end time.Time, opts usecase.ListOptions) ([]domain.Event, error) {
	call := g.service.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		ShowDeleted(false).
		SingleEvents(opts.ExpandRecurring).
		MaxResults(pageSize)
	if opts.ExpandRecurring {
		call = call.OrderBy("startTime")
	}
	if opts.TitleContains != "" {
		call = call.Q(opts.TitleContains)
	}
	if opts.LinkedSourceID != "" {
		call = call.PrivateExtendedProperty(propSourceEventID + "=" + opts.LinkedSourceID)
	}

	var events []domain.Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			if !opts.ExpandRecurring && item.RecurringEventId != "" {
				continue
			}
			event, err := g.convertToEvent(item)
			if err != nil {
				g.logger.Warn().Err(err).Str("event_id", item.Id).Msg("イベントの変換をスキップしました")
				continue
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "カレンダー "+calendarID+" のイベント一覧取得")
	}
	return events, nil
}

// CreateEvent 単発イベントを作成
func (g *GoogleCalendarGateway) CreateEvent(ctx context.Context, calendarID string, event domain.Event) (domain.Event, error) {
	return g.insert(ctx, calendarID, g.convertFromEvent(event))
}

// CreateRecurringEvent 繰り返しイベントをシリーズとして作成
func (g *GoogleCalendarGateway) CreateRecurringEvent(ctx context.Context, calendarID string, event domain.Event, rule domain.Recurrence) (domain.Event, error) {
	item := g.convertFromEvent(event)
	item.Recurrence = rule.Rules
	return g.insert(ctx, calendarID, item)
}

func (g *GoogleCalendarGateway) insert(ctx context.Context, calendarID string, item *calendar.Event) (domain.Event, error) {
	created, err := g.service.Events.Insert(calendarID, item).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return domain.Event{}, classify(err, "イベント "+item.Summary+" の作成")
	}
	return g.convertToEvent(created)
}

// UpdateEvent イベントの内容を置き換える
func (g *GoogleCalendarGateway) UpdateEvent(ctx context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error) {
	updated, err := g.service.Events.Update(calendarID, eventID, g.convertFromEvent(event)).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return domain.Event{}, classify(err, "イベント "+eventID+" の更新")
	}
	return g.convertToEvent(updated)
}

// DeleteEvent イベントを削除（動作確認で作成したイベントの後始末用）
func (g *GoogleCalendarGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.service.Events.Delete(calendarID, eventID).SendUpdates("none").Context(ctx).Do(); err != nil {
		return classify(err, "イベント "+eventID+" の削除")
	}
	return nil
}

// ByICalUID iCalUID でイベントを取得する代替手段を返す
//
// 外部の Webhook など、イベントIDとして iCalUID を渡してくる呼び出し元向け。
func (g *GoogleCalendarGateway) ByICalUID() usecase.EventFetcher {
	return icalUIDFetcher{gateway: g}
}

type icalUIDFetcher struct {
	gateway *GoogleCalendarGateway
}

// GetEvent iCalUID が一致するシリーズ定義または単発イベントを取得
func (f icalUIDFetcher) GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	result, err := f.gateway.service.Events.List(calendarID).
		ICalUID(eventID).
		ShowDeleted(false).
		Context(ctx).
		Do()
	if err != nil {
		return domain.Event{}, classify(err, "iCalUID "+eventID+" の検索")
	}
	for _, item := range result.Items {
		if item.Status == "cancelled" || item.RecurringEventId != "" {
			continue
		}
		return f.gateway.convertToEvent(item)
	}
	return domain.Event{}, fmt.Errorf("iCalUID %s のイベントがありません: %w", eventID, domain.ErrNotFound)
}

// CalendarInfo アクセス可能なカレンダーの概要
type CalendarInfo struct {
	ID         string
	Summary    string
	TimeZone   string
	AccessRole string
}

// ListCalendars サービスアカウントのカレンダーリストを取得
//
// リストの取得に失敗した場合や空の場合（共有されたカレンダーがリストに
// 追加されていない場合）は、known に指定したIDを個別に問い合わせる。
func (g *GoogleCalendarGateway) ListCalendars(ctx context.Context, known ...string) ([]CalendarInfo, error) {
	var calendars []CalendarInfo
	err := g.service.CalendarList.List().Pages(ctx, func(page *calendar.CalendarList) error {
		for _, entry := range page.Items {
			calendars = append(calendars, toCalendarInfo(entry))
		}
		return nil
	})
	if err == nil && len(calendars) > 0 {
		return calendars, nil
	}
	if err != nil {
		err = classify(err, "カレンダーリストの取得")
		g.logger.Warn().Err(err).Msg("指定されたカレンダーを個別に確認します")
	}

	var errs []error
	for _, id := range known {
		entry, getErr := g.service.CalendarList.Get(id).Context(ctx).Do()
		if getErr != nil {
			errs = append(errs, classify(getErr, "カレンダー "+id+" の取得"))
			continue
		}
		calendars = append(calendars, toCalendarInfo(entry))
	}
	if len(calendars) == 0 && len(errs) > 0 {
		return nil, errors.Join(append([]error{err}, errs...)...)
	}
	return calendars, nil
}

func toCalendarInfo(entry *calendar.CalendarListEntry) CalendarInfo {
	return CalendarInfo{
		ID:         entry.Id,
		Summary:    entry.Summary,
		TimeZone:   entry.TimeZone,
		AccessRole: entry.AccessRole,
	}
}

// convertToEvent Google Calendar APIのイベントをドメインエンティティに変換
func (g *GoogleCalendarGateway) convertToEvent(item *calendar.Event) (domain.Event, error) {
	event := domain.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Location:    item.Location,
		Description: item.Description,
		Recurrence:  domain.NewRecurrence(item.Recurrence),
	}

	if item.Start == nil || (item.Start.DateTime == "" && item.Start.Date == "") {
		return domain.Event{}, fmt.Errorf("開始時刻が設定されていません")
	}
	if item.End == nil || (item.End.DateTime == "" && item.End.Date == "") {
		return domain.Event{}, fmt.Errorf("終了時刻が設定されていません")
	}

	start, allDay, err := g.parseEventTime(item.Start)
	if err != nil {
		return domain.Event{}, fmt.Errorf("開始時刻の解析に失敗しました: %w", err)
	}
	end, _, err := g.parseEventTime(item.End)
	if err != nil {
		return domain.Event{}, fmt.Errorf("終了時刻の解析に失敗しました: %w", err)
	}
	event.StartTime = start
	event.EndTime = end
	event.IsAllDay = allDay

	for _, attendee := range item.Attendees {
		if attendee.Email == "" || attendee.Resource {
			continue
		}
		event.Guests = append(event.Guests, attendee.Email)
	}

	if item.ExtendedProperties != nil {
		if sourceID := item.ExtendedProperties.Private[propSourceEventID]; sourceID != "" {
			event.Link = &domain.MirrorLink{
				SourceEventID:    sourceID,
				SourceCalendarID: item.ExtendedProperties.Private[propSourceCalendarID],
			}
		}
	}
	return event, nil
}

func (g *GoogleCalendarGateway) parseEventTime(t *calendar.EventDateTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return parsed.In(g.timezone), false, nil
	}
	parsed, err := time.ParseInLocation(dateLayout, t.Date, g.timezone)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

// convertFromEvent ドメインエンティティを Google Calendar API のイベントに変換
func (g *GoogleCalendarGateway) convertFromEvent(event domain.Event) *calendar.Event {
	item := &calendar.Event{
		Summary:     event.Title,
		Location:    event.Location,
		Description: event.Description,
		Start:       g.formatEventTime(event.StartTime, event.IsAllDay),
		End:         g.formatEventTime(event.EndTime, event.IsAllDay),
	}

	for _, guest := range event.Guests {
		item.Attendees = append(item.Attendees, &calendar.EventAttendee{Email: guest})
	}
	if event.Recurrence != nil {
		item.Recurrence = event.Recurrence.Rules
	}
	if event.Link != nil {
		item.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{
				propSourceEventID:    event.Link.SourceEventID,
				propSourceCalendarID: event.Link.SourceCalendarID,
			},
		}
	}
	return item
}

func (g *GoogleCalendarGateway) formatEventTime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.In(g.timezone).Format(dateLayout)}
	}
	// 繰り返しイベントの作成には timeZone の指定が必須
	return &calendar.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: g.timezone.String(),
	}
}

// classify APIエラーを NotFound / APIFailure に分類
func classify(err error, operation string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%sに失敗しました: %w: %w", operation, domain.ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%sが中断されました: %w", operation, err)
	}
	return fmt.Errorf("%sに失敗しました: %w: %w", operation, domain.ErrAPIFailure, err)
}

