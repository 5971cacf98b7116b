package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator 共有のバリデータを返す（構造体情報をキャッシュするため単一インスタンス）
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 同期候補として必須項目と時刻の整合性を確認
func (e Event) Validate() error {
	if err := Validator().Struct(e); err != nil {
		return fmt.Errorf("%w: イベント %q が不正です: %s", ErrValidation, e.ID, describe(err))
	}
	return e.Recurrence.Validate()
}

// describe validator のエラーを「項目:タグ」の一覧に変換
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+":"+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
