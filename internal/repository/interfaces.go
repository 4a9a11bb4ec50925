// Package repository はデータ永続化のインターフェースと実装を定義する。
package repository

import (
	"context"

	"github.com/hitoshi/calcoach/internal/model"
)

// TableRepository はテーブルプロキシが使用する汎用テーブル操作のインターフェース。
// Table/Columnは必ずValidateTableで得たものを渡す。
type TableRepository interface {
	// ListTables は対象スキーマのテーブル名一覧を返す。
	ListTables(ctx context.Context) ([]string, error)

	// ValidateTable はテーブル名をカタログと照合する。存在しない場合はErrUnknownTableを返す。
	ValidateTable(ctx context.Context, name string) (Table, error)

	// SelectRows は最大limit件の行を取得する。orderByがnilでなければ降順に並べる。
	SelectRows(ctx context.Context, t Table, orderBy *Column, limit int) ([]map[string]any, error)

	// InsertRow は1行を挿入する。
	InsertRow(ctx context.Context, t Table, cols []Column, values []any) error

	// UpdateRow はkeyがidに一致する行を更新し、影響行数を返す。
	UpdateRow(ctx context.Context, t Table, key Column, id string, cols []Column, values []any) (int64, error)

	// DeleteRow はkeyがidに一致する行を削除し、影響行数を返す。
	DeleteRow(ctx context.Context, t Table, key Column, id string) (int64, error)
}

// CalendarRepository はツール呼び出しによるカレンダー要素の作成・検索のインターフェース。
type CalendarRepository interface {
	// DefaultUserID は既定ユーザーのIDを返す。存在しない場合は作成する。
	DefaultUserID(ctx context.Context) (string, error)

	CreateTask(ctx context.Context, task *model.Task) error
	// CreateTasks は全件を1トランザクションで作成する（all-or-nothing）。
	CreateTasks(ctx context.Context, tasks []*model.Task) error
	CreateEvent(ctx context.Context, event *model.Event) error
	CreateGoal(ctx context.Context, goal *model.Goal) error
	CreateGoalLink(ctx context.Context, link *model.GoalLink) error
	CreateTaskList(ctx context.Context, list *model.TaskList) error
	CreateCalendar(ctx context.Context, cal *model.Calendar) error
	CreateTag(ctx context.Context, tag *model.Tag) error
	CreateTagLink(ctx context.Context, link *model.TagLink) error
	CreateReminder(ctx context.Context, rem *model.Reminder) error
	CreateNote(ctx context.Context, note *model.Note) error
	CreateAttachment(ctx context.Context, att *model.Attachment) error
	CreateSharedAccess(ctx context.Context, sa *model.SharedAccess) error

	// SearchEvents はタイトルの部分一致でイベントを検索する。
	SearchEvents(ctx context.Context, userID, query string, limit int) ([]model.EventSummary, error)
	// UpdateEventTime はイベントの時刻を変更し、影響行数を返す。
	UpdateEventTime(ctx context.Context, id, startTime string, endTime *string) (int64, error)
}

// compile-time interface check
var (
	_ TableRepository    = (*PostgresTableRepo)(nil)
	_ CalendarRepository = (*PostgresCalendarRepo)(nil)
)
