package handler

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/calcoach/internal/chat"
	"github.com/hitoshi/calcoach/internal/table"
)

// mockTableService はTableServiceInterfaceのモック。
type mockTableService struct {
	listTablesFn func(ctx context.Context) ([]string, error)
	readFn       func(ctx context.Context, name string) (*table.ReadResult, error)
	insertFn     func(ctx context.Context, name string, payload map[string]any) (string, error)
	updateFn     func(ctx context.Context, name, id string, payload map[string]any) error
	deleteFn     func(ctx context.Context, name, id string) error
}

func (m *mockTableService) ListTables(ctx context.Context) ([]string, error) {
	if m.listTablesFn != nil {
		return m.listTablesFn(ctx)
	}
	return []string{}, nil
}

func (m *mockTableService) Read(ctx context.Context, name string) (*table.ReadResult, error) {
	if m.readFn != nil {
		return m.readFn(ctx, name)
	}
	return &table.ReadResult{Columns: []string{}, Rows: []map[string]any{}}, nil
}

func (m *mockTableService) Insert(ctx context.Context, name string, payload map[string]any) (string, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, name, payload)
	}
	return "new-id", nil
}

func (m *mockTableService) Update(ctx context.Context, name, id string, payload map[string]any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, name, id, payload)
	}
	return nil
}

func (m *mockTableService) Delete(ctx context.Context, name, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, name, id)
	}
	return nil
}

// mockDispatcher はChatDispatcherのモック。
type mockDispatcher struct {
	turnFn func(ctx context.Context, sessionID, text string) (*chat.TurnResult, error)
}

func (m *mockDispatcher) Turn(ctx context.Context, sessionID, text string) (*chat.TurnResult, error) {
	if m.turnFn != nil {
		return m.turnFn(ctx, sessionID, text)
	}
	if sessionID == "" {
		sessionID = chat.DefaultSessionID
	}
	return &chat.TurnResult{SessionID: sessionID, Response: "ok"}, nil
}

// mockSessions はSessionDeleterのモック。
type mockSessions struct {
	existing map[string]bool
}

func (m *mockSessions) Delete(id string) bool {
	ok := m.existing[id]
	delete(m.existing, id)
	return ok
}

// mockPinger はPingerのモック。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// recordingMetrics はテーブル操作と応答ステータスを記録するMetricsCollector。
type recordingMetrics struct {
	mu       sync.Mutex
	tableOps []string
	statuses []int
}

func (m *recordingMetrics) RecordHTTPStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, code)
}

func (m *recordingMetrics) RecordChatTurn(string)                 {}
func (m *recordingMetrics) RecordToolCall(string, string)         {}
func (m *recordingMetrics) RecordCompletionLatency(time.Duration) {}
func (m *recordingMetrics) SetActiveSessions(int)                 {}

func (m *recordingMetrics) RecordTableOperation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableOps = append(m.tableOps, op+":"+outcome)
}
