package domain

import "errors"

var (
	// ErrNotFound カレンダーまたはイベントが存在しない（スキップ扱い）
	ErrNotFound = errors.New("not found")
	// ErrAPIFailure 外部カレンダーサービスの一時的なエラー
	ErrAPIFailure = errors.New("api failure")
	// ErrValidation 必須項目の欠落など不正なイベント
	ErrValidation = errors.New("validation failure")
)
