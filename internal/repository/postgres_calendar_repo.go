package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/calcoach/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	selectDefaultUserQuery = `SELECT id FROM users ORDER BY created_at LIMIT 1`

	insertDefaultUserQuery = `INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`

	insertTaskQuery = `INSERT INTO tasks
		(id, user_id, list_id, title, description, status, priority, due_date, due_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertEventQuery = `INSERT INTO events
		(id, user_id, calendar_id, title, description, location, start_time, end_time,
		 timezone, all_day, status, recurrence_rule)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertGoalQuery = `INSERT INTO goals
		(id, user_id, title, description, start_date, end_date, status, priority,
		 progress_type, current_progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertGoalLinkQuery = `INSERT INTO goal_links (id, goal_id, item_type, item_id, weight, completed)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertTaskListQuery = `INSERT INTO task_lists (id, user_id, name, color, is_default, position)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertCalendarQuery = `INSERT INTO calendars (id, user_id, name, color, timezone, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertTagQuery = `INSERT INTO tags (id, user_id, name, description, color)
		VALUES ($1, $2, $3, $4, $5)`

	insertTagLinkQuery = `INSERT INTO tag_links (id, tag_id, item_type, item_id)
		VALUES ($1, $2, $3, $4)`

	insertReminderQuery = `INSERT INTO reminders
		(id, user_id, item_type, item_id, trigger_type, trigger_offset_minutes,
		 trigger_datetime, delivery_type, message, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertNoteQuery = `INSERT INTO notes (id, user_id, item_type, item_id, content, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertAttachmentQuery = `INSERT INTO attachments (id, user_id, item_type, item_id, url, file_name, file_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insertSharedAccessQuery = `INSERT INTO shared_access
		(id, item_type, item_id, shared_with_user_id, role, granted_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	searchEventsQuery = `SELECT id, title, start_time, end_time FROM events
		WHERE user_id = $1 AND title ILIKE $2
		ORDER BY start_time
		LIMIT $3`

	updateEventTimeQuery = `UPDATE events SET start_time = $1, end_time = COALESCE($2, end_time)
		WHERE id = $3`
)

// PostgresCalendarRepo はPostgreSQLを使用したカレンダー要素（タスク・イベント・目標など）のリポジトリ。
// 言語モデルのツール呼び出しから使用される。
type PostgresCalendarRepo struct {
	db           *sql.DB
	defaultEmail string
}

// NewPostgresCalendarRepo はPostgresCalendarRepoを生成する。
// defaultEmailはusersテーブルが空の場合に作成する既定ユーザーのメールアドレス。
func NewPostgresCalendarRepo(db *sql.DB, defaultEmail string) *PostgresCalendarRepo {
	return &PostgresCalendarRepo{db: db, defaultEmail: defaultEmail}
}

// DefaultUserID はusersテーブルで最も古い行のIDを返す。
// ユーザーが1人もいない場合は既定ユーザーを作成してからそのIDを返す。
func (r *PostgresCalendarRepo) DefaultUserID(ctx context.Context) (string, error) {
	id, err := r.findDefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	// 並行リクエストが同時に作成した場合でも、どちらか一方の行を採用する
	if _, err := r.db.ExecContext(ctx, insertDefaultUserQuery,
		uuid.NewString(), r.defaultEmail, "Default User",
	); err != nil {
		return "", fmt.Errorf("failed to create default user: %w", err)
	}

	id, err = r.findDefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("default user not found after creation")
	}
	return id, nil
}

func (r *PostgresCalendarRepo) findDefaultUserID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, selectDefaultUserQuery).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find default user: %w", err)
	}
	return id, nil
}

// CreateTask はタスクを作成する。GoalIDが指定されている場合は同一トランザクションでgoal_linksを作成する。
func (r *PostgresCalendarRepo) CreateTask(ctx context.Context, task *model.Task) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		if task.GoalID != nil {
			return insertGoalLink(ctx, tx, newGoalLink(*task.GoalID, model.ItemTypeTask, task.ID))
		}
		return nil
	})
}

// CreateTasks は複数のタスクを1つのトランザクションで作成する。
// いずれか1件でも失敗した場合は全件ロールバックする。
func (r *PostgresCalendarRepo) CreateTasks(ctx context.Context, tasks []*model.Task) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for i, task := range tasks {
			if err := insertTask(ctx, tx, task); err != nil {
				return fmt.Errorf("task %d: %w", i+1, err)
			}
			if task.GoalID != nil {
				if err := insertGoalLink(ctx, tx, newGoalLink(*task.GoalID, model.ItemTypeTask, task.ID)); err != nil {
					return fmt.Errorf("task %d: %w", i+1, err)
				}
			}
		}
		return nil
	})
}

// CreateEvent はイベントを作成する。GoalIDが指定されている場合は同一トランザクションでgoal_linksを作成する。
func (r *PostgresCalendarRepo) CreateEvent(ctx context.Context, event *model.Event) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertEventQuery,
			event.ID, event.UserID, event.CalendarID, event.Title, event.Description, event.Location,
			event.StartTime, nullIfEmpty(event.EndTime), event.Timezone, event.AllDay, event.Status, event.RecurrenceRule,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
		if event.GoalID != nil {
			return insertGoalLink(ctx, tx, newGoalLink(*event.GoalID, model.ItemTypeEvent, event.ID))
		}
		return nil
	})
}

// CreateGoal は目標を作成する。
func (r *PostgresCalendarRepo) CreateGoal(ctx context.Context, goal *model.Goal) error {
	_, err := r.db.ExecContext(ctx, insertGoalQuery,
		goal.ID, goal.UserID, goal.Title, goal.Description, goal.StartDate, goal.EndDate,
		goal.Status, goal.Priority, goal.ProgressType, goal.CurrentProgress,
	)
	if err != nil {
		return fmt.Errorf("failed to insert goal: %w", err)
	}
	return nil
}

// CreateGoalLink は目標とアイテムの紐付けを作成する。
func (r *PostgresCalendarRepo) CreateGoalLink(ctx context.Context, link *model.GoalLink) error {
	return insertGoalLink(ctx, r.db, link)
}

// CreateTaskList はタスクリストを作成する。
func (r *PostgresCalendarRepo) CreateTaskList(ctx context.Context, list *model.TaskList) error {
	_, err := r.db.ExecContext(ctx, insertTaskListQuery,
		list.ID, list.UserID, list.Name, list.Color, list.IsDefault, list.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task list: %w", err)
	}
	return nil
}

// CreateCalendar はカレンダーを作成する。
func (r *PostgresCalendarRepo) CreateCalendar(ctx context.Context, cal *model.Calendar) error {
	_, err := r.db.ExecContext(ctx, insertCalendarQuery,
		cal.ID, cal.UserID, cal.Name, cal.Color, cal.Timezone, cal.IsDefault,
	)
	if err != nil {
		return fmt.Errorf("failed to insert calendar: %w", err)
	}
	return nil
}

// CreateTag はタグを作成する。
func (r *PostgresCalendarRepo) CreateTag(ctx context.Context, tag *model.Tag) error {
	_, err := r.db.ExecContext(ctx, insertTagQuery,
		tag.ID, tag.UserID, tag.Name, tag.Description, tag.Color,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

// CreateTagLink はタグとアイテムの紐付けを作成する。
func (r *PostgresCalendarRepo) CreateTagLink(ctx context.Context, link *model.TagLink) error {
	_, err := r.db.ExecContext(ctx, insertTagLinkQuery,
		link.ID, link.TagID, string(link.ItemType), link.ItemID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tag link: %w", err)
	}
	return nil
}

// CreateReminder はリマインダーを作成する。
func (r *PostgresCalendarRepo) CreateReminder(ctx context.Context, rem *model.Reminder) error {
	_, err := r.db.ExecContext(ctx, insertReminderQuery,
		rem.ID, rem.UserID, string(rem.ItemType), rem.ItemID, rem.TriggerType, rem.TriggerOffsetMinutes,
		rem.TriggerDatetime, rem.DeliveryType, rem.Message, rem.IsEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	return nil
}

// CreateNote はメモを作成する。
func (r *PostgresCalendarRepo) CreateNote(ctx context.Context, note *model.Note) error {
	_, err := r.db.ExecContext(ctx, insertNoteQuery,
		note.ID, note.UserID, string(note.ItemType), note.ItemID, note.Content, note.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// CreateAttachment は添付ファイルを作成する。
func (r *PostgresCalendarRepo) CreateAttachment(ctx context.Context, att *model.Attachment) error {
	_, err := r.db.ExecContext(ctx, insertAttachmentQuery,
		att.ID, att.UserID, string(att.ItemType), att.ItemID, att.URL, att.FileName, att.FileType,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// CreateSharedAccess は共有アクセス権を作成する。
func (r *PostgresCalendarRepo) CreateSharedAccess(ctx context.Context, sa *model.SharedAccess) error {
	_, err := r.db.ExecContext(ctx, insertSharedAccessQuery,
		sa.ID, string(sa.ItemType), sa.ItemID, sa.SharedWithUserID, sa.Role, sa.GrantedBy, sa.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert shared access: %w", err)
	}
	return nil
}

// likeEscaper はLIKEパターンのワイルドカードをエスケープする。既定のエスケープ文字は \。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchEvents はタイトルに部分一致するユーザーのイベントを開始時刻順に最大limit件返す。
// queryに含まれる % と _ は文字として扱う。
func (r *PostgresCalendarRepo) SearchEvents(ctx context.Context, userID, query string, limit int) ([]model.EventSummary, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := r.db.QueryContext(ctx, searchEventsQuery, userID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	defer rows.Close()

	events := []model.EventSummary{}
	for rows.Next() {
		var e model.EventSummary
		var end sql.NullString
		if err := rows.Scan(&e.ID, &e.Title, &e.StartTime, &end); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EndTime = end.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// UpdateEventTime はイベントの開始時刻（と任意で終了時刻）を変更し、影響を受けた行数を返す。
func (r *PostgresCalendarRepo) UpdateEventTime(ctx context.Context, id, startTime string, endTime *string) (int64, error) {
	result, err := r.db.ExecContext(ctx, updateEventTimeQuery, startTime, endTime, id)
	if err != nil {
		return 0, fmt.Errorf("failed to update event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// inTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合は必ずロールバックし、コネクションをプールへ返却する。
func (r *PostgresCalendarRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, ex Executor, task *model.Task) error {
	_, err := ex.ExecContext(ctx, insertTaskQuery,
		task.ID, task.UserID, task.ListID, task.Title, task.Description, task.Status,
		task.Priority, task.DueDate, task.DueDatetime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func insertGoalLink(ctx context.Context, ex Executor, link *model.GoalLink) error {
	_, err := ex.ExecContext(ctx, insertGoalLinkQuery,
		link.ID, link.GoalID, string(link.ItemType), link.ItemID, link.Weight, link.Completed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert goal link: %w", err)
	}
	return nil
}

// nullIfEmpty は空文字列をNULLとして扱う。
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func newGoalLink(goalID string, itemType model.ItemType, itemID string) *model.GoalLink {
	return &model.GoalLink{
		ID:       uuid.NewString(),
		GoalID:   goalID,
		ItemType: itemType,
		ItemID:   itemID,
		Weight:   1.0,
	}
}
