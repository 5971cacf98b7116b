package domain

import (
	"slices"
	"strings"
	"time"
)

// Event カレンダーイベントのドメインエンティティ
type Event struct {
	ID          string    `validate:"required"`
	Title       string    `validate:"required"`
	StartTime   time.Time `validate:"required"`
	EndTime     time.Time `validate:"required,gtfield=StartTime"`
	IsAllDay    bool
	Location    string
	Description string
	// Guests 招待者のメールアドレス（順序を保持）
	Guests []string `validate:"dive,email"`
	// Recurrence 繰り返しイベントの親（シリーズ定義）の場合のみ設定される
	Recurrence *Recurrence
	// Link 同期先イベントに記録された同期元への参照
	Link *MirrorLink
}

// MirrorLink 同期元イベントと同期先イベントの対応関係
type MirrorLink struct {
	SourceEventID    string
	SourceCalendarID string
}

// HasTag タイトルに同期タグが含まれているか判定
func (e Event) HasTag(tag string) bool {
	return strings.Contains(e.Title, tag)
}

// IsRecurring シリーズ定義イベントかどうか
func (e Event) IsRecurring() bool {
	return e.Recurrence != nil && len(e.Recurrence.Rules) > 0
}

// SameSlot タイトル・開始・終了が一致するか判定（ヒューリスティック照合用）
func (e Event) SameSlot(other Event) bool {
	return e.Title == other.Title &&
		e.StartTime.Equal(other.StartTime) &&
		e.EndTime.Equal(other.EndTime)
}

// SameContent 同期対象の項目がすべて一致するか判定
func (e Event) SameContent(other Event) bool {
	if !e.SameSlot(other) {
		return false
	}
	if e.IsAllDay != other.IsAllDay || e.Location != other.Location || e.Description != other.Description {
		return false
	}
	if !slices.Equal(e.Guests, other.Guests) {
		return false
	}
	return e.Recurrence.Equal(other.Recurrence)
}

// LinkedTo 指定した同期元イベントIDへの参照を持つか判定
func (e Event) LinkedTo(sourceEventID string) bool {
	return e.Link != nil && e.Link.SourceEventID == sourceEventID
}

// Window イベントを前後に広げた時間範囲を返す
func (e Event) Window(padding time.Duration) (time.Time, time.Time) {
	return e.StartTime.Add(-padding), e.EndTime.Add(padding)
}
