package tool

import (
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calcoach/internal/llm"
	"github.com/hitoshi/calcoach/internal/repository"
)

// SchemaVersion はモデルに提示するツール定義一式のバージョン。
// ツールの追加や引数の変更時に更新する。
const SchemaVersion = "2025-06-01"

// Name はツール名。Registryが扱うツールはここに列挙したものに限られる。
type Name string

const (
	CreateTask         Name = "create_task"
	CreateEvent        Name = "create_event"
	CreateGoal         Name = "create_goal"
	BatchCreateTasks   Name = "batch_create_tasks"
	CreateTaskList     Name = "create_task_list"
	CreateCalendar     Name = "create_calendar"
	CreateTag          Name = "create_tag"
	CreateTagLink      Name = "create_tag_link"
	CreateGoalLink     Name = "create_goal_link"
	CreateReminder     Name = "create_reminder"
	CreateNote         Name = "create_note"
	CreateAttachment   Name = "create_attachment"
	CreateSharedAccess Name = "create_shared_access"
	SearchEvents       Name = "search_events"
	UpdateEvent        Name = "update_event"
)

// Registry は固定されたツール一式を保持する。
// 構築後は読み取り専用のため、複数のgoroutineから同時に使用できる。
type Registry struct {
	tools       map[Name]Tool
	definitions []llm.Tool
}

// Options はRegistryの構築オプション。
type Options struct {
	// Now は日付の既定値に使う現在時刻。nilの場合はtime.Now。
	Now func() time.Time
	// Location は日付の既定値を計算するタイムゾーン。nilの場合はUTC。
	Location *time.Location
	// NewID は行IDの採番関数。nilの場合はuuid.NewString。
	NewID func() string
}

// NewRegistry はstoreを使うツール一式を登録したRegistryを生成する。
func NewRegistry(store repository.CalendarRepository, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	h := &handlers{store: store, now: opts.Now, loc: opts.Location, newID: opts.NewID}
	tools := []Tool{
		newTool(CreateGoal, "Creates a high-level goal. Returns the new goal ID so tasks and events can be linked to it.", h.createGoal),
		newTool(CreateTask, "Creates a single task. Pass goal_id to link it to an existing goal.", h.createTask),
		newTool(BatchCreateTasks, "Creates multiple tasks at once in one transaction. Either all tasks are created or none.", h.batchCreateTasks),
		newTool(CreateEvent, "Creates a calendar event. Pass goal_id to link it to an existing goal.", h.createEvent),
		newTool(SearchEvents, "Searches the user's events by title. Use it to find an event ID before updating it.", h.searchEvents),
		newTool(UpdateEvent, "Moves an event to a new time. Requires the event ID found by search_events.", h.updateEvent),
		newTool(CreateTaskList, "Creates a task list.", h.createTaskList),
		newTool(CreateCalendar, "Creates a calendar.", h.createCalendar),
		newTool(CreateTag, "Creates a tag.", h.createTag),
		newTool(CreateTagLink, "Attaches a tag to a task or an event or a goal.", h.createTagLink),
		newTool(CreateGoalLink, "Links an existing task or event to a goal.", h.createGoalLink),
		newTool(CreateReminder, "Creates a reminder for an item.", h.createReminder),
		newTool(CreateNote, "Adds a note to an item.", h.createNote),
		newTool(CreateAttachment, "Attaches a URL to an item.", h.createAttachment),
		newTool(CreateSharedAccess, "Shares an item with another user.", h.createSharedAccess),
	}

	r := &Registry{
		tools:       make(map[Name]Tool, len(tools)),
		definitions: make([]llm.Tool, 0, len(tools)),
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.definitions = append(r.definitions, t.Definition())
	}
	return r
}

// Definitions はモデルに提示するツール定義を登録順で返す。
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, len(r.definitions))
	copy(defs, r.definitions)
	return defs
}

// Lookup は名前でツールを検索する。
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[Name(name)]
	return t, ok
}

// Len は登録されているツール数を返す。
func (r *Registry) Len() int { return len(r.tools) }
