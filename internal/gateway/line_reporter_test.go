package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

// newTestLINEReporter テスト用の LINEReporter を構築するヘルパー
func newTestLINEReporter(token string, recipients []string, httpClient *http.Client, endpoint string) *LINEReporter {
	r := NewLINEReporter(token, recipients)
	r.httpClient = httpClient
	r.endpoint = endpoint
	return r
}

func testReport() domain.FailureReport {
	return domain.FailureReport{
		Err:                   errors.New("イベント作成に失敗しました"),
		RunID:                 "run-1",
		Mode:                  "scan",
		SourceCalendarID:      "source@group.calendar.google.com",
		DestinationCalendarID: "target@group.calendar.google.com",
		Timestamp:             time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

// --- buildFailureMessage テスト ---

func TestBuildFailureMessage(t *testing.T) {
	message := buildFailureMessage(testReport())

	assert.Contains(t, message, "Calendar Sync Error")
	assert.Contains(t, message, "イベント作成に失敗しました")
	assert.Contains(t, message, "Run ID: run-1")
	assert.Contains(t, message, "Source Calendar ID: source@group.calendar.google.com")
	assert.Contains(t, message, "No stack trace available")
}

func TestBuildFailureMessage_Truncated(t *testing.T) {
	report := testReport()
	report.Err = errors.New(strings.Repeat("あ", 6000))

	message := buildFailureMessage(report)
	assert.Equal(t, lineMaxTextLength, utf8.RuneCountInString(message))
	assert.True(t, strings.HasSuffix(message, "…"))
}

// --- sendMulticast テスト（httptest 使用） ---

func TestSendMulticast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// ヘッダーを検証
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		// リクエストボディを検証
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req lineMulticastRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, []string{"U1", "U2"}, req.To)
		assert.Len(t, req.Messages, 1)
		assert.Equal(t, "text", req.Messages[0].Type)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestLINEReporter("test-token", []string{"U1", "U2"}, server.Client(), server.URL)

	err := n.sendMulticast(context.Background(), "テストメッセージ")
	assert.NoError(t, err)
}

func TestSendMulticast_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		err := json.NewEncoder(w).Encode(lineErrorResponse{
			Message: "Invalid request",
		})
		require.NoError(t, err)
	}))
	defer server.Close()

	n := newTestLINEReporter("test-token", []string{"U1"}, server.Client(), server.URL)

	err := n.sendMulticast(context.Background(), "テストメッセージ")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "LINE API呼び出しが失敗しました")
	assert.Contains(t, err.Error(), "Invalid request")
}

func TestReport_SendsFailureMessage(t *testing.T) {
	var received lineMulticastRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := newTestLINEReporter("test-token", []string{"U1"}, server.Client(), server.URL)
	n.Report(context.Background(), testReport())

	require.Len(t, received.Messages, 1)
	assert.Contains(t, received.Messages[0].Text, "target@group.calendar.google.com")
}

func TestReport_SwallowsSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := newTestLINEReporter("test-token", []string{"U1"}, server.Client(), server.URL)

	assert.NotPanics(t, func() {
		n.Report(context.Background(), testReport())
	})
}
