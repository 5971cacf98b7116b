package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k-negishi/calendar-event-sync/internal/usecase"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Execute(ctx context.Context, trigger usecase.Trigger) (usecase.Summary, error) {
	args := m.Called(ctx, trigger)
	return args.Get(0).(usecase.Summary), args.Error(1)
}

func TestLambdaEvent_Decode(t *testing.T) {
	var event LambdaEvent
	require.NoError(t, json.Unmarshal([]byte(`{"calendarId": "source", "eventId": "evt-1"}`), &event))
	assert.Equal(t, LambdaEvent{CalendarID: "source", EventID: "evt-1"}, event)

	var scheduled LambdaEvent
	require.NoError(t, json.Unmarshal([]byte(`{}`), &scheduled))
	assert.Empty(t, scheduled.EventID)
}

func TestRun_Success(t *testing.T) {
	s := new(MockSyncer)
	summary := usecase.Summary{RunID: "run-1", Mode: usecase.ModeScan, Checked: 3, Tagged: 1, Created: 1}
	s.On("Execute", mock.Anything, usecase.Trigger{}).Return(summary, nil)

	resp := run(context.Background(), s, LambdaEvent{})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "同期完了", resp.Message)
	require.NotNil(t, resp.Summary)
	assert.Equal(t, 1, resp.Summary.Created)
	s.AssertExpectations(t)
}

func TestRun_WebhookTrigger(t *testing.T) {
	s := new(MockSyncer)
	trigger := usecase.Trigger{CalendarID: "other", EventID: "evt-1"}
	s.On("Execute", mock.Anything, trigger).Return(usecase.Summary{Mode: usecase.ModeSingle}, nil)

	resp := run(context.Background(), s, LambdaEvent{CalendarID: "other", EventID: "evt-1"})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, usecase.ModeSingle, resp.Summary.Mode)
	s.AssertExpectations(t)
}

func TestRun_FailureDoesNotReturnError(t *testing.T) {
	s := new(MockSyncer)
	s.On("Execute", mock.Anything, usecase.Trigger{}).
		Return(usecase.Summary{RunID: "run-1", Created: 2}, errors.New("イベント作成に失敗しました"))

	resp := run(context.Background(), s, LambdaEvent{})

	assert.Equal(t, 500, resp.StatusCode)
	assert.Contains(t, resp.Message, "イベント作成に失敗しました")
	assert.Equal(t, 2, resp.Summary.Created)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"runId":"run-1"`)
}
