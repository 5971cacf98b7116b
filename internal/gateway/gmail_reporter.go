package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/logging"
)

// GmailReporter Gmail APIを使用したFailureReporterの実装
//
// サービスアカウントのドメイン全体の委任で sender になりすまして送信する。
type GmailReporter struct {
	service    *gmail.Service
	sender     string
	recipients []string
	logger     zerolog.Logger
}

// NewGmailReporter Gmail通知クライアントを作成
func NewGmailReporter(ctx context.Context, credentialsJSON []byte, sender string, recipients []string) (*GmailReporter, error) {
	creds, err := google.CredentialsFromJSONWithParams(ctx, credentialsJSON, google.CredentialsParams{
		Scopes:  []string{gmail.GmailSendScope},
		Subject: sender,
	})
	if err != nil {
		return nil, fmt.Errorf("google認証情報の読み込みに失敗しました: %w", err)
	}

	service, err := gmail.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("gmail APIサービスの作成に失敗しました: %w", err)
	}
	return NewGmailReporterWithService(service, sender, recipients), nil
}

// NewGmailReporterWithService 作成済みのサービスから通知クライアントを作成
func NewGmailReporterWithService(service *gmail.Service, sender string, recipients []string) *GmailReporter {
	return &GmailReporter{
		service:    service,
		sender:     sender,
		recipients: recipients,
		logger:     logging.With().Str("component", "gmail_reporter").Logger(),
	}
}

// Report 同期失敗をメールで通知（送信失敗はログに記録するのみ）
func (r *GmailReporter) Report(ctx context.Context, report domain.FailureReport) {
	raw := buildMail(r.sender, r.recipients, report.Subject(), report.Body())
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	if _, err := r.service.Users.Messages.Send("me", message).Context(ctx).Do(); err != nil {
		r.logger.Error().Err(err).Str("run_id", report.RunID).Msg("失敗通知メールの送信に失敗しました")
		return
	}
	r.logger.Info().Str("run_id", report.RunID).Strs("recipients", r.recipients).Msg("失敗通知メールを送信しました")
}

// buildMail RFC 5322 形式のプレーンテキストメールを組み立てる
func buildMail(from string, to []string, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString([]byte(body))))
	return b.Bytes()
}

// wrapBase64 76文字ごとに改行する
func wrapBase64(s string) string {
	const width = 76
	var b strings.Builder
	for len(s) > width {
		b.WriteString(s[:width])
		b.WriteString("\r\n")
		s = s[width:]
	}
	b.WriteString(s)
	b.WriteString("\r\n")
	return b.String()
}
