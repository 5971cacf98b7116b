// Package app 設定から同期処理の構成要素を組み立てる
package app

import (
	"context"
	"fmt"

	"github.com/k-negishi/calendar-event-sync/internal/config"
	"github.com/k-negishi/calendar-event-sync/internal/gateway"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

// App 組み立て済みの同期処理
type App struct {
	Config *config.Config
	// Source 同期元の Google Calendar（カレンダー一覧の確認にも使う）
	Source  *gateway.GoogleCalendarGateway
	UseCase *usecase.SyncEventsUseCase
	// ServiceAccount 認証情報の client_email（カレンダーの共有先）
	ServiceAccount string

	destination Destination
}

// Destination 同期先のカレンダー（動作確認の後始末のため削除もできる）
type Destination interface {
	usecase.CalendarService
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// New 設定に従ってゲートウェイと通知手段を選び、同期処理を作成
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	credentials, err := cfg.GetGoogleCredentialsJSON()
	if err != nil {
		return nil, err
	}
	serviceAccount, _ := credentials["client_email"].(string)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	source, err := gateway.NewGoogleCalendarGateway(ctx, []byte(cfg.GoogleCredentials), loc)
	if err != nil {
		return nil, err
	}

	destination, err := newDestination(cfg, source)
	if err != nil {
		return nil, err
	}

	reporter, err := NewReporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logging.Debug().
		Str("service_account", serviceAccount).
		Str("destination_provider", cfg.DestinationProvider).
		Str("notify_channel", cfg.NotifyChannel).
		Msg("同期処理を初期化しました")

	return &App{
		Config:         cfg,
		Source:         source,
		UseCase:        usecase.NewSyncEventsUseCase(SyncOptions(cfg), source, destination, reporter, source.ByICalUID()),
		ServiceAccount: serviceAccount,
		destination:    destination,
	}, nil
}

// newDestination 同期先のCalendarServiceを作成
func newDestination(cfg *config.Config, source *gateway.GoogleCalendarGateway) (Destination, error) {
	switch cfg.DestinationProvider {
	case config.ProviderCalDAV:
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		caldav, err := gateway.NewCalDAVCalendarGateway(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, loc)
		if err != nil {
			return nil, err
		}
		return caldav, nil
	case config.ProviderGoogle, "":
		return source, nil
	default:
		return nil, fmt.Errorf("未対応の同期先です: %s", cfg.DestinationProvider)
	}
}

// NewReporter 設定された通知チャネルのFailureReporterを作成
func NewReporter(ctx context.Context, cfg *config.Config) (usecase.FailureReporter, error) {
	switch cfg.NotifyChannel {
	case config.ChannelGmail:
		gmail, err := gateway.NewGmailReporter(ctx, []byte(cfg.GoogleCredentials), cfg.MailSender, cfg.EmailRecipients)
		if err != nil {
			return nil, err
		}
		return gmail, nil
	case config.ChannelLINE:
		return gateway.NewLINEReporter(cfg.LineChannelAccessToken, cfg.LineRecipients), nil
	case config.ChannelLog:
		return gateway.NewLogReporter(), nil
	default:
		return nil, fmt.Errorf("未対応の通知チャネルです: %s", cfg.NotifyChannel)
	}
}

// SyncOptions 設定値を同期処理の設定に変換
func SyncOptions(cfg *config.Config) usecase.SyncOptions {
	return usecase.SyncOptions{
		SourceCalendarID:      cfg.SourceCalendarID,
		DestinationCalendarID: cfg.TargetCalendarID,
		Tag:                   cfg.SyncTag,
		Strategy:              matchStrategy(cfg.MatchStrategy),
		ScanLookback:          cfg.ScanLookback,
		ScanYearsAhead:        cfg.ScanYearsAhead,
		BatchSize:             cfg.BatchSize,
		BatchPause:            cfg.BatchPause,
		LinkLookupPadding:     cfg.LinkLookupPadding,
	}
}

// matchStrategy 設定の照合方法を同期処理の定数に対応付ける（未知の値はヒューリスティック）
func matchStrategy(name string) string {
	switch name {
	case config.StrategyLink:
		return usecase.StrategyLink
	default:
		return usecase.StrategyHeuristic
	}
}
