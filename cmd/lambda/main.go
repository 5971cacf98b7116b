package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/k-negishi/calendar-event-sync/internal/app"
	"github.com/k-negishi/calendar-event-sync/internal/config"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

// LambdaEvent Lambda実行時のイベント構造体
//
// EventBridge Scheduler からは空のペイロードで呼ばれ、全件走査になる。
// Webhook 経由では変更のあったイベントを指定する。
type LambdaEvent struct {
	CalendarID string `json:"calendarId"`
	EventID    string `json:"eventId"`
}

// LambdaResponse Lambda実行結果のレスポンス
type LambdaResponse struct {
	StatusCode int              `json:"statusCode"`
	Message    string           `json:"message"`
	Summary    *usecase.Summary `json:"summary,omitempty"`
}

// syncer 同期処理（テストでモックに差し替える）
type syncer interface {
	Execute(ctx context.Context, trigger usecase.Trigger) (usecase.Summary, error)
}

// handler Lambda関数のメインハンドラー
func handler(ctx context.Context, event LambdaEvent) (LambdaResponse, error) {
	// 設定を読み込み
	cfg, err := config.Load(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("設定の読み込みに失敗しました")
		return LambdaResponse{
			StatusCode: 500,
			Message:    "設定読み込みエラー",
		}, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	// 同期処理を初期化
	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("同期処理の初期化に失敗しました")
		return LambdaResponse{
			StatusCode: 500,
			Message:    "初期化エラー",
		}, err
	}

	return run(ctx, a.UseCase, event), nil
}

// run 同期を実行してレスポンスに変換
//
// 同期の失敗は通知済みのため、Lambda の自動リトライを避けてエラーは返さない。
func run(ctx context.Context, s syncer, event LambdaEvent) LambdaResponse {
	summary, err := s.Execute(ctx, usecase.Trigger{
		CalendarID: event.CalendarID,
		EventID:    event.EventID,
	})
	if err != nil {
		return LambdaResponse{
			StatusCode: 500,
			Message:    "同期エラー: " + err.Error(),
			Summary:    &summary,
		}
	}

	return LambdaResponse{
		StatusCode: 200,
		Message:    "同期完了",
		Summary:    &summary,
	}
}

func main() {
	lambda.Start(handler)
}
