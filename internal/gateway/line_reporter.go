package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
)

const (
	lineMulticastEndpoint = "https://api.line.me/v2/bot/message/multicast"
	// LINE のテキストメッセージの上限文字数
	lineMaxTextLength = 5000
)

// LINEReporter LINE Messaging APIを使用したFailureReporterの実装
type LINEReporter struct {
	channelAccessToken string
	recipients         []string
	httpClient         *http.Client
	endpoint           string
	logger             zerolog.Logger
}

// lineMessage LINE APIに送信するメッセージ構造体
type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// lineMulticastRequest LINE Multicast APIのリクエスト構造体
type lineMulticastRequest struct {
	To       []string      `json:"to"`
	Messages []lineMessage `json:"messages"`
}

// lineErrorResponse LINE APIのエラーレスポンス構造体
type lineErrorResponse struct {
	Message string `json:"message"`
	Details []struct {
		Message  string `json:"message"`
		Property string `json:"property"`
	} `json:"details"`
}

// NewLINEReporter LINE通知クライアントを作成
func NewLINEReporter(channelAccessToken string, recipients []string) *LINEReporter {
	return &LINEReporter{
		channelAccessToken: channelAccessToken,
		recipients:         recipients,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint: lineMulticastEndpoint,
		logger:   logging.With().Str("component", "line_reporter").Logger(),
	}
}

// Report 同期失敗をLINEで通知（送信失敗はログに記録するのみ）
func (n *LINEReporter) Report(ctx context.Context, report domain.FailureReport) {
	message := buildFailureMessage(report)
	if err := n.sendMulticast(ctx, message); err != nil {
		n.logger.Error().Err(err).Str("run_id", report.RunID).Msg("失敗通知の送信に失敗しました")
		return
	}
	n.logger.Info().Str("run_id", report.RunID).Int("recipients", len(n.recipients)).Msg("失敗通知を送信しました")
}

// buildFailureMessage 件名と本文をまとめ、LINE の上限文字数に収める
func buildFailureMessage(report domain.FailureReport) string {
	message := report.Subject() + "\n\n" + report.Body()
	if utf8.RuneCountInString(message) <= lineMaxTextLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:lineMaxTextLength-1]) + "…"
}

// sendMulticast LINE Multicast APIでメッセージを送信
func (n *LINEReporter) sendMulticast(ctx context.Context, message string) error {
	request := lineMulticastRequest{
		To: n.recipients,
		Messages: []lineMessage{
			{
				Type: "text",
				Text: message,
			},
		},
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("リクエストボディのJSON変換に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.channelAccessToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("LINE APIリクエストの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errorResponse lineErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errorResponse); err != nil {
			return fmt.Errorf("LINE API呼び出しが失敗しました (Status: %d, レスポンス解析不可: %v)", resp.StatusCode, err)
		}

		errorDetails := errorResponse.Message
		if len(errorResponse.Details) > 0 {
			errorDetails += fmt.Sprintf(" (詳細: %s)", errorResponse.Details[0].Message)
		}
		return fmt.Errorf("LINE API呼び出しが失敗しました (Status: %d): %s", resp.StatusCode, errorDetails)
	}

	return nil
}
