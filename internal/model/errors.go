// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, data, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidTable        = "INVALID_TABLE"
	ErrCodeInvalidColumn       = "INVALID_COLUMN"
	ErrCodeEmptyPayload        = "EMPTY_PAYLOAD"
	ErrCodeRowNotFound         = "ROW_NOT_FOUND"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeConstraintViolation = "CONSTRAINT_VIOLATION"
	ErrCodeInvalidValue        = "INVALID_VALUE"
	ErrCodeDatabaseError       = "DATABASE_ERROR"
	ErrCodeUpstreamError       = "UPSTREAM_ERROR"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewInvalidTableError は未知のテーブル名が指定された場合のエラーを生成する。
func NewInvalidTableError(table string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTable,
		Message:  fmt.Sprintf("Invalid or unauthorized table name: %s", table),
		Category: "validation",
		Action:   "GET /api/tables で利用可能なテーブル名を確認してください。",
	}
}

// NewInvalidColumnError はテーブルに存在しないカラムが指定された場合のエラーを生成する。
func NewInvalidColumnError(table, column string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidColumn,
		Message:  fmt.Sprintf("Unknown column %q for table %s", column, table),
		Category: "validation",
		Action:   "GET /api/data/{table} が返すcolumnsに含まれるカラムのみ指定してください。",
	}
}

// NewEmptyPayloadError は挿入・更新するフィールドがない場合のエラーを生成する。
func NewEmptyPayloadError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyPayload,
		Message:  "No data",
		Category: "validation",
		Action:   "少なくとも1つのフィールドを含むJSONオブジェクトを送信してください。",
	}
}

// NewRowNotFoundError は更新・削除対象の行が存在しない場合のエラーを生成する。
func NewRowNotFoundError(table, id string) *APIError {
	return &APIError{
		Code:     ErrCodeRowNotFound,
		Message:  fmt.Sprintf("Item not found: %s/%s", table, id),
		Category: "data",
		Action:   "IDを確認してください。",
	}
}

// NewInvalidRequestError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewConstraintViolationError は一意制約・外部キー制約などに違反した場合のエラーを生成する。
// constraintにはSQLSTATEの条件名（例: unique_violation）を渡す。
func NewConstraintViolationError(constraint string) *APIError {
	return &APIError{
		Code:     ErrCodeConstraintViolation,
		Message:  fmt.Sprintf("The row violates a database constraint (%s)", constraint),
		Category: "data",
		Action:   "必須項目や参照先IDが正しいか確認してください。",
	}
}

// NewInvalidValueError は値の形式がカラム型と合わない場合のエラーを生成する。
func NewInvalidValueError(condition string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidValue,
		Message:  fmt.Sprintf("A value does not match its column type (%s)", condition),
		Category: "validation",
		Action:   "日付は YYYY-MM-DD、日時は YYYY-MM-DD HH:MM:SS 形式で指定してください。",
	}
}

// NewDatabaseError はデータベース操作が失敗した場合のエラーを生成する。
// 生のエラーメッセージはログにのみ記録し、レスポンスには含めない。
func NewDatabaseError() *APIError {
	return &APIError{
		Code:     ErrCodeDatabaseError,
		Message:  "The database operation failed.",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamError は外部の言語モデルAPI呼び出しが失敗した場合のエラーを生成する。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamError,
		Message:  fmt.Sprintf("The completion API request failed: %s", reason),
		Category: "chat",
		Action:   "APIキーとモデル設定を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamTimeoutError はデータベースまたは言語モデルAPIがタイムアウトした場合のエラーを生成する。
// 再試行可能なエラーとして扱う。
func NewUpstreamTimeoutError(target string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  fmt.Sprintf("%s did not respond in time", target),
		Category: "system",
		Action:   "再試行してください。",
	}
}

// NewSessionNotFoundError はチャットセッションが存在しない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("Chat session not found: %s", sessionID),
		Category: "chat",
		Action:   "セッションは一定時間操作がないと破棄されます。新しいセッションで話しかけてください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
