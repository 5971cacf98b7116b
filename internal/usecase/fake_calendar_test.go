package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/k-negishi/calendar-event-sync/internal/domain"
)

// memoryCalendar はカレンダーIDごとにイベントを保持するインメモリの CalendarService
type memoryCalendar struct {
	mu     sync.Mutex
	events map[string][]domain.Event
	nextID int

	// failBulkList 条件なしの一覧取得（事前取得）を APIFailure で失敗させる
	failBulkList bool
	// failWrites 作成・更新を APIFailure で失敗させる
	failWrites bool
	// panicOnGet GetEvent でパニックさせる
	panicOnGet bool
	// missing 一覧取得で NotFound を返すカレンダーID
	missing string

	listCalls       int
	createCalls     int
	recurringCalls  int
	updateCalls     int
	titleListCalls  int
	linkedListCalls int
}

func newMemoryCalendar() *memoryCalendar {
	return &memoryCalendar{events: make(map[string][]domain.Event)}
}

func (c *memoryCalendar) add(calendarID string, events ...domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[calendarID] = append(c.events[calendarID], events...)
}

func (c *memoryCalendar) all(calendarID string) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events[calendarID])
}

func (c *memoryCalendar) GetEvent(_ context.Context, calendarID, eventID string) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panicOnGet {
		panic("boom")
	}
	for _, e := range c.events[calendarID] {
		if e.ID == eventID {
			return e, nil
		}
	}
	return domain.Event{}, fmt.Errorf("イベント %s: %w", eventID, domain.ErrNotFound)
}

func (c *memoryCalendar) ListEvents(_ context.Context, calendarID string, start, end time.Time, opts ListOptions) ([]domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if opts.TitleContains != "" {
		c.titleListCalls++
	}
	if opts.LinkedSourceID != "" {
		c.linkedListCalls++
	}
	if calendarID == c.missing {
		return nil, fmt.Errorf("カレンダー %s: %w", calendarID, domain.ErrNotFound)
	}
	if c.failBulkList && opts.TitleContains == "" && opts.LinkedSourceID == "" {
		return nil, fmt.Errorf("一覧取得: %w", domain.ErrAPIFailure)
	}

	var result []domain.Event
	for _, e := range c.events[calendarID] {
		if !e.EndTime.After(start) || !e.StartTime.Before(end) {
			continue
		}
		if opts.TitleContains != "" && !strings.Contains(e.Title, opts.TitleContains) {
			continue
		}
		if opts.LinkedSourceID != "" && !e.LinkedTo(opts.LinkedSourceID) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (c *memoryCalendar) CreateEvent(_ context.Context, calendarID string, event domain.Event) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	return c.insert(calendarID, event)
}

func (c *memoryCalendar) CreateRecurringEvent(_ context.Context, calendarID string, event domain.Event, rule domain.Recurrence) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recurringCalls++
	event.Recurrence = &domain.Recurrence{Rules: slices.Clone(rule.Rules)}
	return c.insert(calendarID, event)
}

func (c *memoryCalendar) insert(calendarID string, event domain.Event) (domain.Event, error) {
	if c.failWrites {
		return domain.Event{}, fmt.Errorf("作成: %w", domain.ErrAPIFailure)
	}
	c.nextID++
	event.ID = fmt.Sprintf("mirror-%d", c.nextID)
	c.events[calendarID] = append(c.events[calendarID], event)
	return event, nil
}

func (c *memoryCalendar) UpdateEvent(_ context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCalls++
	if c.failWrites {
		return domain.Event{}, fmt.Errorf("更新: %w", domain.ErrAPIFailure)
	}
	for i, e := range c.events[calendarID] {
		if e.ID == eventID {
			event.ID = eventID
			c.events[calendarID][i] = event
			return event, nil
		}
	}
	return domain.Event{}, fmt.Errorf("イベント %s: %w", eventID, domain.ErrNotFound)
}

// MockReporter は FailureReporter のテスト用モック
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Report(ctx context.Context, report domain.FailureReport) {
	m.Called(ctx, report)
}

// MockFetcher は EventFetcher のテスト用モック
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	args := m.Called(ctx, calendarID, eventID)
	return args.Get(0).(domain.Event), args.Error(1)
}

// MockCalendarService は CalendarService のテスト用モック
type MockCalendarService struct {
	mock.Mock
}

func (m *MockCalendarService) GetEvent(ctx context.Context, calendarID, eventID string) (domain.Event, error) {
	args := m.Called(ctx, calendarID, eventID)
	return args.Get(0).(domain.Event), args.Error(1)
}

func (m *MockCalendarService) ListEvents(ctx context.Context, calendarID string, start, end time.Time, opts ListOptions) ([]domain.Event, error) {
	args := m.Called(ctx, calendarID, start, end, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *MockCalendarService) CreateEvent(ctx context.Context, calendarID string, event domain.Event) (domain.Event, error) {
	args := m.Called(ctx, calendarID, event)
	return args.Get(0).(domain.Event), args.Error(1)
}

func (m *MockCalendarService) CreateRecurringEvent(ctx context.Context, calendarID string, event domain.Event, rule domain.Recurrence) (domain.Event, error) {
	args := m.Called(ctx, calendarID, event, rule)
	return args.Get(0).(domain.Event), args.Error(1)
}

func (m *MockCalendarService) UpdateEvent(ctx context.Context, calendarID, eventID string, event domain.Event) (domain.Event, error) {
	args := m.Called(ctx, calendarID, eventID, event)
	return args.Get(0).(domain.Event), args.Error(1)
}
