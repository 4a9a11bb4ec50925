package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/hitoshi/calcoach/internal/model"
	"github.com/hitoshi/calcoach/internal/repository"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// errInvalidTasksJSON はbatch_create_tasksの一覧を解析できない場合のエラー。
var errInvalidTasksJSON = errors.New("tasks_json is not a valid JSON array of tasks")

var validItemTypes = map[model.ItemType]bool{
	model.ItemTypeTask:     true,
	model.ItemTypeEvent:    true,
	model.ItemTypeGoal:     true,
	model.ItemTypeCalendar: true,
	model.ItemTypeTaskList: true,
}

// handlers はツールの実処理。ストアとの間で型を変換する。
type handlers struct {
	store repository.CalendarRepository
	now   func() time.Time
	loc   *time.Location
	newID func() string
}

func (h *handlers) today() string {
	return h.now().In(h.loc).Format("2006-01-02")
}

type createGoalArgs struct {
	Title       string `json:"title"`
	EndDate     string `json:"end_date" jsonschema:"description=Target date (YYYY-MM-DD)"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date,omitempty" jsonschema:"description=YYYY-MM-DD. Defaults to today"`
	Priority    string `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
}

func (h *handlers) createGoal(ctx context.Context, a createGoalArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	goal := &model.Goal{
		ID:           h.newID(),
		UserID:       userID,
		Title:        a.Title,
		Description:  a.Description,
		StartDate:    withDefault(a.StartDate, h.today()),
		EndDate:      optional(a.EndDate),
		Status:       "active",
		Priority:     withDefault(a.Priority, "medium"),
		ProgressType: "percentage",
	}
	if err := h.store.CreateGoal(ctx, goal); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Goal created with ID: %s", goal.ID), nil
}

type createTaskArgs struct {
	Title       string `json:"title"`
	DueDate     string `json:"due_date" jsonschema:"description=YYYY-MM-DD"`
	Description string `json:"description,omitempty"`
	DueDatetime string `json:"due_datetime,omitempty" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
	Priority    *int   `json:"priority,omitempty" jsonschema:"minimum=0,maximum=5"`
	GoalID      string `json:"goal_id,omitempty"`
	ListID      string `json:"list_id,omitempty"`
}

func (h *handlers) createTask(ctx context.Context, a createTaskArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	task := &model.Task{
		ID:          h.newID(),
		UserID:      userID,
		ListID:      optional(a.ListID),
		GoalID:      optional(a.GoalID),
		Title:       a.Title,
		Description: a.Description,
		Status:      "pending",
		Priority:    1,
		DueDate:     optional(a.DueDate),
		DueDatetime: optional(a.DueDatetime),
	}
	if a.Priority != nil {
		task.Priority = *a.Priority
	}
	if err := h.store.CreateTask(ctx, task); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Task created with ID: %s", task.ID), nil
}

// taskListJSON はJSON配列を表す文字列。
// モデルが文字列ではなく配列そのものを渡した場合も受け付ける。
type taskListJSON string

func (j *taskListJSON) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*j = taskListJSON(s)
		return nil
	}
	*j = taskListJSON(b)
	return nil
}

func (taskListJSON) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string"}
}

type batchTaskItem struct {
	Title       string `json:"title"`
	DueDate     string `json:"due_date"`
	Description string `json:"description"`
}

type batchCreateTasksArgs struct {
	TasksJSON taskListJSON `json:"tasks_json" jsonschema:"description=JSON array of tasks. Each item has title and due_date (YYYY-MM-DD) and description"`
	GoalID    string       `json:"goal_id,omitempty"`
}

func (h *handlers) batchCreateTasks(ctx context.Context, a batchCreateTasksArgs) (string, error) {
	var items []batchTaskItem
	if err := json.Unmarshal([]byte(a.TasksJSON), &items); err != nil {
		return "", &ArgumentError{Tool: BatchCreateTasks, Err: errInvalidTasksJSON}
	}
	if len(items) == 0 {
		return "No tasks to create.", nil
	}

	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}

	today := h.today()
	goalID := optional(a.GoalID)
	tasks := make([]*model.Task, len(items))
	for i, item := range items {
		tasks[i] = &model.Task{
			ID:          h.newID(),
			UserID:      userID,
			GoalID:      goalID,
			Title:       withDefault(item.Title, "Untitled"),
			Description: item.Description,
			Status:      "pending",
			Priority:    1,
			DueDate:     optional(withDefault(item.DueDate, today)),
		}
	}

	if err := h.store.CreateTasks(ctx, tasks); err != nil {
		return "", fmt.Errorf("batch creation failed: %w", err)
	}
	slog.Info("タスクを一括作成しました", slog.Int("count", len(tasks)))
	return fmt.Sprintf("Success! Created %d tasks.", len(tasks)), nil
}

type createEventArgs struct {
	Title       string `json:"title"`
	StartTime   string `json:"start_time" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
	EndTime     string `json:"end_time" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	AllDay      bool   `json:"all_day,omitempty"`
	GoalID      string `json:"goal_id,omitempty"`
	CalendarID  string `json:"calendar_id,omitempty"`
}

func (h *handlers) createEvent(ctx context.Context, a createEventArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	event := &model.Event{
		ID:          h.newID(),
		UserID:      userID,
		CalendarID:  optional(a.CalendarID),
		GoalID:      optional(a.GoalID),
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
		StartTime:   a.StartTime,
		EndTime:     a.EndTime,
		Timezone:    h.loc.String(),
		AllDay:      a.AllDay,
		Status:      "confirmed",
	}
	if err := h.store.CreateEvent(ctx, event); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Event created with ID: %s", event.ID), nil
}

type searchEventsArgs struct {
	Query string `json:"query" jsonschema:"description=Part of the event title"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

func (h *handlers) searchEvents(ctx context.Context, a searchEventsArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	limit := a.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	events, err := h.store.SearchEvents(ctx, userID, strings.TrimSpace(a.Query), limit)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("No events found matching %q.", a.Query), nil
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	return string(raw), nil
}

type updateEventArgs struct {
	ID        string `json:"id"`
	StartTime string `json:"start_time" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
	EndTime   string `json:"end_time,omitempty" jsonschema:"description=YYYY-MM-DD HH:MM:SS. Unchanged when omitted"`
}

func (h *handlers) updateEvent(ctx context.Context, a updateEventArgs) (string, error) {
	affected, err := h.store.UpdateEventTime(ctx, a.ID, a.StartTime, optional(a.EndTime))
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", fmt.Errorf("event %s not found", a.ID)
	}
	return fmt.Sprintf("Success! Event %s moved to %s.", a.ID, a.StartTime), nil
}

type createTaskListArgs struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty" jsonschema:"description=Hex color such as #3B82F6"`
	IsDefault bool   `json:"is_default,omitempty"`
}

func (h *handlers) createTaskList(ctx context.Context, a createTaskListArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	list := &model.TaskList{
		ID:        h.newID(),
		UserID:    userID,
		Name:      a.Name,
		Color:     optional(a.Color),
		IsDefault: a.IsDefault,
	}
	if err := h.store.CreateTaskList(ctx, list); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Task List created: %s", list.ID), nil
}

type createCalendarArgs struct {
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Timezone  string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name"`
	IsDefault bool   `json:"is_default,omitempty"`
}

func (h *handlers) createCalendar(ctx context.Context, a createCalendarArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	cal := &model.Calendar{
		ID:        h.newID(),
		UserID:    userID,
		Name:      a.Name,
		Color:     optional(a.Color),
		Timezone:  withDefault(a.Timezone, "UTC"),
		IsDefault: a.IsDefault,
	}
	if err := h.store.CreateCalendar(ctx, cal); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Calendar created: %s", cal.ID), nil
}

type createTagArgs struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

func (h *handlers) createTag(ctx context.Context, a createTagArgs) (string, error) {
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	tag := &model.Tag{
		ID:          h.newID(),
		UserID:      userID,
		Name:        a.Name,
		Description: a.Description,
		Color:       optional(a.Color),
	}
	if err := h.store.CreateTag(ctx, tag); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Tag created: %s", tag.ID), nil
}

// ItemRef はgoal_linksなどが参照するアイテムの (item_type, item_id) の組。
// 参照先の存在は検証しない。
type ItemRef struct {
	ItemType model.ItemType `json:"item_type" jsonschema:"enum=task,enum=event,enum=goal,enum=calendar,enum=task_list"`
	ItemID   string         `json:"item_id"`
}

func (r ItemRef) validate() error {
	if !validItemTypes[r.ItemType] {
		return fmt.Errorf("unsupported item_type %q", r.ItemType)
	}
	if r.ItemID == "" {
		return errors.New("item_id is required")
	}
	return nil
}

type createTagLinkArgs struct {
	TagID string `json:"tag_id"`
	ItemRef
}

func (h *handlers) createTagLink(ctx context.Context, a createTagLinkArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	link := &model.TagLink{
		ID:       h.newID(),
		TagID:    a.TagID,
		ItemType: a.ItemType,
		ItemID:   a.ItemID,
	}
	if err := h.store.CreateTagLink(ctx, link); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Tag Link created: %s", link.ID), nil
}

type createGoalLinkArgs struct {
	GoalID string `json:"goal_id"`
	ItemRef
	Weight *float64 `json:"weight,omitempty" jsonschema:"description=Contribution to goal progress. Defaults to 1"`
}

func (h *handlers) createGoalLink(ctx context.Context, a createGoalLinkArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	link := &model.GoalLink{
		ID:       h.newID(),
		GoalID:   a.GoalID,
		ItemType: a.ItemType,
		ItemID:   a.ItemID,
		Weight:   1.0,
	}
	if a.Weight != nil {
		link.Weight = *a.Weight
	}
	if err := h.store.CreateGoalLink(ctx, link); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Goal Link created: %s", link.ID), nil
}

type createReminderArgs struct {
	ItemRef
	TriggerType          string `json:"trigger_type,omitempty" jsonschema:"enum=time,enum=offset"`
	TriggerOffsetMinutes *int   `json:"trigger_offset_minutes,omitempty" jsonschema:"description=Minutes before the item starts"`
	TriggerDatetime      string `json:"trigger_datetime,omitempty" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
	DeliveryType         string `json:"delivery_type,omitempty" jsonschema:"enum=popup,enum=email"`
	Message              string `json:"message,omitempty"`
}

func (h *handlers) createReminder(ctx context.Context, a createReminderArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	rem := &model.Reminder{
		ID:                   h.newID(),
		UserID:               userID,
		ItemType:             a.ItemType,
		ItemID:               a.ItemID,
		TriggerType:          withDefault(a.TriggerType, "time"),
		TriggerOffsetMinutes: a.TriggerOffsetMinutes,
		TriggerDatetime:      optional(a.TriggerDatetime),
		DeliveryType:         withDefault(a.DeliveryType, "popup"),
		Message:              a.Message,
		IsEnabled:            true,
	}
	if err := h.store.CreateReminder(ctx, rem); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Reminder created: %s", rem.ID), nil
}

type createNoteArgs struct {
	ItemRef
	Content string `json:"content"`
}

func (h *handlers) createNote(ctx context.Context, a createNoteArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	note := &model.Note{
		ID:        h.newID(),
		UserID:    userID,
		ItemType:  a.ItemType,
		ItemID:    a.ItemID,
		Content:   a.Content,
		CreatedBy: userID,
	}
	if err := h.store.CreateNote(ctx, note); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Note created: %s", note.ID), nil
}

type createAttachmentArgs struct {
	ItemRef
	URL      string `json:"url"`
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty" jsonschema:"description=MIME type"`
}

func (h *handlers) createAttachment(ctx context.Context, a createAttachmentArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	att := &model.Attachment{
		ID:       h.newID(),
		UserID:   userID,
		ItemType: a.ItemType,
		ItemID:   a.ItemID,
		URL:      a.URL,
		FileName: a.FileName,
		FileType: optional(a.FileType),
	}
	if err := h.store.CreateAttachment(ctx, att); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Attachment created: %s", att.ID), nil
}

type createSharedAccessArgs struct {
	ItemRef
	SharedWithUserID string `json:"shared_with_user_id"`
	Role             string `json:"role,omitempty" jsonschema:"enum=viewer,enum=editor"`
	ExpiresAt        string `json:"expires_at,omitempty" jsonschema:"description=YYYY-MM-DD HH:MM:SS"`
}

func (h *handlers) createSharedAccess(ctx context.Context, a createSharedAccessArgs) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	userID, err := h.store.DefaultUserID(ctx)
	if err != nil {
		return "", err
	}
	sa := &model.SharedAccess{
		ID:               h.newID(),
		ItemType:         a.ItemType,
		ItemID:           a.ItemID,
		SharedWithUserID: a.SharedWithUserID,
		Role:             withDefault(a.Role, "viewer"),
		GrantedBy:        userID,
		ExpiresAt:        optional(a.ExpiresAt),
	}
	if err := h.store.CreateSharedAccess(ctx, sa); err != nil {
		return "", err
	}
	return fmt.Sprintf("Success! Access granted: %s", sa.ID), nil
}

// optional は空文字列をnilとして扱う。
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
