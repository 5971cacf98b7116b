//go:build integration

package gateway

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

// GOOGLE_CREDENTIALS と INTEGRATION_CALENDAR_ID（書き込み可能なテスト用カレンダー）が必要
//
//	go test -tags integration ./internal/gateway/...
func TestGoogleCalendarGateway_Integration(t *testing.T) {
	credentials := os.Getenv("GOOGLE_CREDENTIALS")
	calendarID := os.Getenv("INTEGRATION_CALENDAR_ID")
	if credentials == "" || calendarID == "" {
		t.Skip("GOOGLE_CREDENTIALS / INTEGRATION_CALENDAR_ID が未設定のためスキップします")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	g, err := NewGoogleCalendarGateway(ctx, []byte(credentials), time.UTC)
	require.NoError(t, err)

	start := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	sourceID := "integration-" + start.Format("20060102150405")
	created, err := g.CreateEvent(ctx, calendarID, domain.Event{
		Title:     "統合テスト *",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Link:      &domain.MirrorLink{SourceEventID: sourceID, SourceCalendarID: "integration"},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = g.service.Events.Delete(calendarID, created.ID).Do()
	})

	linked, err := g.ListEvents(ctx, calendarID, start.Add(-time.Hour), start.Add(time.Hour),
		usecase.ListOptions{LinkedSourceID: sourceID})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, created.ID, linked[0].ID)

	created.Title = "統合テスト（更新） *"
	updated, err := g.UpdateEvent(ctx, calendarID, created.ID, created)
	require.NoError(t, err)
	assert.Equal(t, "統合テスト（更新） *", updated.Title)
}
