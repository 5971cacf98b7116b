package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureReport 同期失敗時に通知する内容
type FailureReport struct {
	Err                   error
	RunID                 string
	Mode                  string
	SourceCalendarID      string
	DestinationCalendarID string
	Timestamp             time.Time
}

// stackTracer スタック情報を持つエラー
type stackTracer interface {
	StackTrace() string
}

// Stack エラーチェーン中のスタック情報（なければ空文字）
func (r FailureReport) Stack() string {
	var st stackTracer
	if errors.As(r.Err, &st) {
		return st.StackTrace()
	}
	return ""
}

// Subject 通知の件名
func (r FailureReport) Subject() string {
	return "Calendar Sync Error: " + r.SourceCalendarID + " → " + r.DestinationCalendarID
}

// Body 通知の本文（エラー内容とコンテキスト情報）
func (r FailureReport) Body() string {
	var b strings.Builder
	b.WriteString("The calendar synchronization job failed with the following error:\n\n")
	fmt.Fprintf(&b, "Error message: %v\n\n", r.Err)

	stack := r.Stack()
	if stack == "" {
		stack = "No stack trace available"
	}
	fmt.Fprintf(&b, "Error stack trace: %s\n\n", stack)

	b.WriteString("--- Context Information ---\n")
	fmt.Fprintf(&b, "Run ID: %s\n", r.RunID)
	fmt.Fprintf(&b, "Mode: %s\n", r.Mode)
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Source Calendar ID: %s\n", r.SourceCalendarID)
	fmt.Fprintf(&b, "Target Calendar ID: %s\n", r.DestinationCalendarID)
	return b.String()
}
