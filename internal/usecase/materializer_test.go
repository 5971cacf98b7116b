package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

func TestMaterialize_CreateAttachesLink(t *testing.T) {
	dest := new(MockCalendarService)
	candidate := townHall()
	link := &domain.MirrorLink{SourceEventID: candidate.ID, SourceCalendarID: sourceID}

	dest.On("CreateEvent", mock.Anything, destinationID, mock.MatchedBy(func(e domain.Event) bool {
		return e.ID == "" && e.Title == candidate.Title && e.LinkedTo(candidate.ID)
	})).Return(domain.Event{ID: "dst-1", Title: candidate.Title}, nil)

	m := NewEventMaterializer(dest, destinationID)
	created, outcome, err := m.Materialize(context.Background(), candidate, nil, link)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, "dst-1", created.ID)
	dest.AssertExpectations(t)
}

func TestMaterialize_RecurringCreatesSeries(t *testing.T) {
	dest := new(MockCalendarService)
	candidate := weeklyStandup()

	dest.On("CreateRecurringEvent", mock.Anything, destinationID, mock.Anything, *candidate.Recurrence).
		Return(domain.Event{ID: "dst-series"}, nil).Once()

	m := NewEventMaterializer(dest, destinationID)
	_, outcome, err := m.Materialize(context.Background(), candidate, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	dest.AssertExpectations(t)
	dest.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestMaterialize_UpdateKeepsExistingLink(t *testing.T) {
	dest := new(MockCalendarService)
	candidate := townHall()
	target := &domain.Event{ID: "dst-1", Link: &domain.MirrorLink{SourceEventID: candidate.ID, SourceCalendarID: sourceID}}

	dest.On("UpdateEvent", mock.Anything, destinationID, "dst-1", mock.MatchedBy(func(e domain.Event) bool {
		return e.LinkedTo(candidate.ID) && e.Location == candidate.Location
	})).Return(domain.Event{ID: "dst-1"}, nil)

	m := NewEventMaterializer(dest, destinationID)
	_, outcome, err := m.Materialize(context.Background(), candidate, target, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	dest.AssertExpectations(t)
}

func TestMaterialize_WriteErrorIsWrapped(t *testing.T) {
	dest := new(MockCalendarService)
	dest.On("CreateEvent", mock.Anything, destinationID, mock.Anything).Return(domain.Event{}, domain.ErrAPIFailure)

	_, _, err := NewEventMaterializer(dest, destinationID).Materialize(context.Background(), townHall(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAPIFailure)
	assert.Contains(t, err.Error(), "Town Hall *")
}

func TestMirrorOf_DoesNotShareSlices(t *testing.T) {
	candidate := townHall()
	mirror := mirrorOf(candidate, nil)
	mirror.Guests[0] = "changed@example.org"
	assert.Equal(t, "a@example.org", candidate.Guests[0])
	assert.Empty(t, mirror.ID)
}
