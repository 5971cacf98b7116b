package gateway

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

func newTestCalDAVGateway(t *testing.T) *CalDAVCalendarGateway {
	t.Helper()
	jst, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	g, err := NewCalDAVCalendarGateway("https://dav.example.org/", "user", "pass", jst)
	require.NoError(t, err)
	return g
}

func TestCalDAVConvert_RoundTrip(t *testing.T) {
	g := newTestCalDAVGateway(t)
	start := time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC)
	event := domain.Event{
		Title:       "定例ミーティング *",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Location:    "渋谷オフィス",
		Description: "議題: 予算, 採用",
		Guests:      []string{"a@example.org", "b@example.org"},
		Recurrence:  domain.NewRecurrence([]string{"RRULE:FREQ=WEEKLY;BYDAY=MO", "EXDATE;TZID=Asia/Tokyo:20240122T100000"}),
		Link:        &domain.MirrorLink{SourceEventID: "src-1", SourceCalendarID: "source@group.calendar.google.com"},
	}

	cal, err := g.convertFromEvent("uid-1", event)
	require.NoError(t, err)
	require.Len(t, cal.Children, 1)
	assert.Equal(t, "uid-1", propText(cal.Children[0].Props, ical.PropUID))

	got, err := g.convertToEvent("uid-1", masterEvent(cal))
	require.NoError(t, err)
	assert.Equal(t, "uid-1", got.ID)
	assert.True(t, got.SameContent(event), "got %+v", got)
	assert.Equal(t, event.Link, got.Link)
}

func TestCalDAVConvert_AllDay(t *testing.T) {
	g := newTestCalDAVGateway(t)
	jst, _ := time.LoadLocation("Asia/Tokyo")
	event := domain.Event{
		Title:     "休暇 *",
		StartTime: time.Date(2024, 1, 15, 0, 0, 0, 0, jst),
		EndTime:   time.Date(2024, 1, 16, 0, 0, 0, 0, jst),
		IsAllDay:  true,
	}

	cal, err := g.convertFromEvent("uid-2", event)
	require.NoError(t, err)
	assert.Equal(t, ical.ValueDate, cal.Children[0].Props.Get(ical.PropDateTimeStart).ValueType())

	got, err := g.convertToEvent("uid-2", masterEvent(cal))
	require.NoError(t, err)
	assert.True(t, got.IsAllDay)
	assert.True(t, event.StartTime.Equal(got.StartTime))
	assert.True(t, event.EndTime.Equal(got.EndTime))
}

func TestCalDAVConvert_DurationWithoutEnd(t *testing.T) {
	g := newTestCalDAVGateway(t)
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropSummary, "短い打ち合わせ")
	ve.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2024, 1, 15, 1, 0, 0, 0, time.UTC))
	p := ical.NewProp(ical.PropDuration)
	p.Value = "PT30M"
	ve.Props.Add(p)

	got, err := g.convertToEvent("x", ve)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, got.EndTime.Sub(got.StartTime))
}

func TestCalDAVConvert_NoStart(t *testing.T) {
	g := newTestCalDAVGateway(t)
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropSummary, "開始なし")

	_, err := g.convertToEvent("x", ve)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "開始時刻が設定されていません")
}

func TestMasterEvent_SkipsOverrides(t *testing.T) {
	override := ical.NewComponent(ical.CompEvent)
	override.Props.SetText(ical.PropRecurrenceID, "20240122T010000Z")
	master := ical.NewComponent(ical.CompEvent)
	master.Props.SetText(ical.PropSummary, "master")

	cal := ical.NewCalendar()
	cal.Children = append(cal.Children, override, master)
	assert.Same(t, master, masterEvent(cal))
	assert.Nil(t, masterEvent(nil))
}

func TestParseContentLine(t *testing.T) {
	p, err := parseContentLine("EXDATE;TZID=Asia/Tokyo:20240122T100000")
	require.NoError(t, err)
	assert.Equal(t, "EXDATE", p.Name)
	assert.Equal(t, "20240122T100000", p.Value)
	assert.Equal(t, "Asia/Tokyo", p.Params.Get("TZID"))
	assert.Equal(t, "EXDATE;TZID=Asia/Tokyo:20240122T100000", contentLine(*p))

	_, err = parseContentLine("RRULE")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMailAddress(t *testing.T) {
	assert.Equal(t, "a@example.org", mailAddress("MAILTO:a@example.org"))
	assert.Equal(t, "b@example.org", mailAddress("mailto:b@example.org"))
	assert.Empty(t, mailAddress("urn:uuid:1234"))
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, "/calendars/user/work/abc.ics", objectPath("/calendars/user/work/", "abc"))
	assert.Equal(t, "abc", objectID("/calendars/user/work/abc.ics"))
}

func TestClassifyDAV(t *testing.T) {
	notFound := classifyDAV(fmt.Errorf("HTTP request failed: 404 Not Found"), "取得")
	assert.ErrorIs(t, notFound, domain.ErrNotFound)

	failure := classifyDAV(errors.New("500 Internal Server Error"), "取得")
	assert.ErrorIs(t, failure, domain.ErrAPIFailure)
}
