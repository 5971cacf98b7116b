package domain

import (
	"fmt"
	"slices"
	"strings"

	"github.com/teambition/rrule-go"
)

const rrulePrefix = "RRULE:"

// Recurrence RFC 5545 形式の繰り返しルール（RRULE / EXDATE / RDATE 行）
type Recurrence struct {
	Rules []string
}

// NewRecurrence 空行を除いて繰り返しルールを作成
func NewRecurrence(lines []string) *Recurrence {
	var rules []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			rules = append(rules, line)
		}
	}
	if len(rules) == 0 {
		return nil
	}
	return &Recurrence{Rules: rules}
}

// Validate RRULE 行を解析して妥当性を確認
func (r *Recurrence) Validate() error {
	if r == nil {
		return nil
	}
	found := false
	for _, line := range r.Rules {
		if !strings.HasPrefix(strings.ToUpper(line), rrulePrefix) {
			continue
		}
		found = true
		if _, err := rrule.StrToROption(line[len(rrulePrefix):]); err != nil {
			return fmt.Errorf("%w: 繰り返しルールの解析に失敗しました %q: %v", ErrValidation, line, err)
		}
	}
	if !found {
		return fmt.Errorf("%w: RRULEが含まれていません", ErrValidation)
	}
	return nil
}

// RRule 最初の RRULE 行のルール部分を返す
func (r *Recurrence) RRule() string {
	if r == nil {
		return ""
	}
	for _, line := range r.Rules {
		if strings.HasPrefix(strings.ToUpper(line), rrulePrefix) {
			return line[len(rrulePrefix):]
		}
	}
	return ""
}

// Equal nil 同士も等しいとみなす
func (r *Recurrence) Equal(other *Recurrence) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return slices.Equal(r.Rules, other.Rules)
}
