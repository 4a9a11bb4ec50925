package model

// ItemType はgoal_links・tag_links・remindersなどが参照するアイテムの種別。
// (item_type, item_id) の組は参照先テーブルに対して検証されない。
type ItemType string

const (
	ItemTypeTask     ItemType = "task"
	ItemTypeEvent    ItemType = "event"
	ItemTypeGoal     ItemType = "goal"
	ItemTypeCalendar ItemType = "calendar"
	ItemTypeTaskList ItemType = "task_list"
)

// Task はtasksテーブルの1行を表す。
// 省略可能なカラムはnilの場合NULLとして挿入される。
type Task struct {
	ID          string
	UserID      string
	ListID      *string
	GoalID      *string // goal_linksで紐付ける目標（tasksテーブルのカラムではない）
	Title       string
	Description string
	Status      string
	Priority    int
	DueDate     *string // YYYY-MM-DD
	DueDatetime *string // YYYY-MM-DD HH:MM:SS
}

// Event はeventsテーブルの1行を表す。
type Event struct {
	ID             string
	UserID         string
	CalendarID     *string
	GoalID         *string
	Title          string
	Description    string
	Location       string
	StartTime      string
	EndTime        string
	Timezone       string
	AllDay         bool
	Status         string
	RecurrenceRule *string
}

// EventSummary はイベント検索の結果1件を表す。
type EventSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Goal はgoalsテーブルの1行を表す。
type Goal struct {
	ID              string
	UserID          string
	Title           string
	Description     string
	StartDate       string
	EndDate         *string
	Status          string
	Priority        string
	ProgressType    string
	CurrentProgress float64
}

// GoalLink は目標とアイテムの多態的な紐付けを表す。
type GoalLink struct {
	ID        string
	GoalID    string
	ItemType  ItemType
	ItemID    string
	Weight    float64
	Completed bool
}

// TaskList はtask_listsテーブルの1行を表す。
type TaskList struct {
	ID        string
	UserID    string
	Name      string
	Color     *string
	IsDefault bool
	Position  int
}

// Calendar はcalendarsテーブルの1行を表す。
type Calendar struct {
	ID        string
	UserID    string
	Name      string
	Color     *string
	Timezone  string
	IsDefault bool
}

// Tag はtagsテーブルの1行を表す。
type Tag struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Color       *string
}

// TagLink はタグとアイテムの多態的な紐付けを表す。
type TagLink struct {
	ID       string
	TagID    string
	ItemType ItemType
	ItemID   string
}

// Reminder はremindersテーブルの1行を表す。
type Reminder struct {
	ID                   string
	UserID               string
	ItemType             ItemType
	ItemID               string
	TriggerType          string
	TriggerOffsetMinutes *int
	TriggerDatetime      *string
	DeliveryType         string
	Message              string
	IsEnabled            bool
}

// Note はnotesテーブルの1行を表す。
type Note struct {
	ID        string
	UserID    string
	ItemType  ItemType
	ItemID    string
	Content   string
	CreatedBy string
}

// Attachment はattachmentsテーブルの1行を表す。
type Attachment struct {
	ID       string
	UserID   string
	ItemType ItemType
	ItemID   string
	URL      string
	FileName string
	FileType *string
}

// SharedAccess はshared_accessテーブルの1行を表す。
type SharedAccess struct {
	ID               string
	ItemType         ItemType
	ItemID           string
	SharedWithUserID string
	Role             string
	GrantedBy        string
	ExpiresAt        *string
}
