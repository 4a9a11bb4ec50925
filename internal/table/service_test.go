package table

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/calcoach/internal/model"
	"github.com/hitoshi/calcoach/internal/repository"
)

var catalogTables = []string{"events", "notes", "tags", "tasks"}

const (
	rowID     = "7f3c2a4e-0c1b-4d2e-9a8f-1b2c3d4e5f60"
	missingID = "00000000-0000-4000-8000-000000000000"
)

// newTestService はsqlmock上のPostgresTableRepoを使うServiceを生成する。
// IDの採番は固定値に差し替える。
func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := NewService(repository.NewPostgresTableRepo(db, "public"), time.Second)
	svc.newID = func() string { return "generated-id" }
	return svc, mock
}

// expectTable はテーブル一覧とカラム一覧の問い合わせを期待値として登録する。
// columnsがnilの場合はテーブル一覧のみを期待する。
// カラムは "name:type" で型を指定できる。省略時はidがuuid型、それ以外はtext型。
func expectTable(mock sqlmock.Sqlmock, table string, columns ...string) {
	rows := sqlmock.NewRows([]string{"table_name"})
	for _, name := range catalogTables {
		rows.AddRow(name)
	}
	mock.ExpectQuery(`FROM information_schema\.tables`).WithArgs("public").WillReturnRows(rows)

	if columns == nil {
		return
	}
	colRows := sqlmock.NewRows([]string{"column_name", "data_type"})
	for _, c := range columns {
		name, dataType, ok := strings.Cut(c, ":")
		if !ok {
			dataType = "text"
			if name == "id" {
				dataType = "uuid"
			}
		}
		colRows.AddRow(name, dataType)
	}
	mock.ExpectQuery(`FROM information_schema\.columns`).WithArgs("public", table).WillReturnRows(colRows)
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("code = %s, want %s (message: %s)", apiErr.Code, code, apiErr.Message)
	}
}

func TestService_ListTables(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "")

	tables, err := svc.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables returned error: %v", err)
	}
	if len(tables) != len(catalogTables) {
		t.Errorf("tables = %v, want %v", tables, catalogTables)
	}
}

// 存在しないテーブル名はどの操作でもINVALID_TABLEとなり、後続のクエリを発行しないことを検証
func TestService_UnknownTable_IsRejectedBeforeAnyMutation(t *testing.T) {
	tests := []struct {
		name string
		run  func(svc *Service) error
	}{
		{"read", func(svc *Service) error {
			_, err := svc.Read(context.Background(), "users; DROP TABLE tasks")
			return err
		}},
		{"insert", func(svc *Service) error {
			_, err := svc.Insert(context.Background(), "secrets", map[string]any{"title": "x"})
			return err
		}},
		{"update", func(svc *Service) error {
			return svc.Update(context.Background(), "secrets", "id-1", map[string]any{"title": "x"})
		}},
		{"delete", func(svc *Service) error {
			return svc.Delete(context.Background(), "secrets", "id-1")
		}},
		{"insert without fields", func(svc *Service) error {
			_, err := svc.Insert(context.Background(), "secrets", map[string]any{})
			return err
		}},
		{"update without fields", func(svc *Service) error {
			return svc.Update(context.Background(), "secrets", "id-1", map[string]any{})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestService(t)
			expectTable(mock, "")

			assertAPIErrorCode(t, tt.run(svc), model.ErrCodeInvalidTable)
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestService_Read_OrdersByCreatedAtWhenPresent(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title", "created_at")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."tasks" ORDER BY "created_at" DESC LIMIT $1`)).
		WithArgs(ReadLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "created_at"}).
			AddRow("generated-id", "Buy milk", "2025-01-01T00:00:00Z"))

	result, err := svc.Read(context.Background(), "tasks")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(result.Columns) != 3 || result.Columns[0] != "id" {
		t.Errorf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 1 || result.Rows[0]["title"] != "Buy milk" {
		t.Errorf("Rows = %v", result.Rows)
	}
}

func TestService_Read_UnorderedWithoutCreatedAt(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tags", "id", "name")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."tags" LIMIT $1`)).
		WithArgs(ReadLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	result, err := svc.Read(context.Background(), "tags")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if result.Rows == nil {
		t.Error("Rows should be an empty slice, not nil")
	}
}

// IDを採番し、返却したIDと保存したIDが一致することを検証
func TestService_Insert_GeneratesID(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title", "due_date", "created_at")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."tasks" ("due_date", "id", "title") VALUES ($1, $2, $3)`)).
		WithArgs("2025-01-01", "generated-id", "Buy milk").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := svc.Insert(context.Background(), "tasks", map[string]any{
		"title":    "Buy milk",
		"due_date": "2025-01-01",
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if id != "generated-id" {
		t.Errorf("id = %q, want %q", id, "generated-id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestService_Insert_KeepsClientID(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")
	mock.ExpectExec(`INSERT INTO "public"\."tasks"`).
		WithArgs("client-id", "Buy milk").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := svc.Insert(context.Background(), "tasks", map[string]any{
		"id":    "client-id",
		"title": "Buy milk",
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if id != "client-id" {
		t.Errorf("id = %q, want %q", id, "client-id")
	}
}

// すべての空文字列フィールドがNULLに変換されることを検証
func TestService_Insert_EmptyStringsBecomeNull(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title", "description", "due_date", "due_datetime")
	mock.ExpectExec(`INSERT INTO "public"\."tasks"`).
		WithArgs(nil, nil, nil, "generated-id", "Buy milk").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.Insert(context.Background(), "tasks", map[string]any{
		"title":        "Buy milk",
		"description":  "",
		"due_date":     "",
		"due_datetime": "",
		"id":           "",
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestService_Insert_NestedJSONBoundAsText(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "metadata")
	mock.ExpectExec(`INSERT INTO "public"\."tasks"`).
		WithArgs("generated-id", `{"tags":["a","b"]}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.Insert(context.Background(), "tasks", map[string]any{
		"metadata": map[string]any{"tags": []any{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
}

func TestService_Insert_EmptyPayload(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")

	_, err := svc.Insert(context.Background(), "tasks", map[string]any{})
	assertAPIErrorCode(t, err, model.ErrCodeEmptyPayload)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// 未知のカラムはクエリ発行前に拒否されることを検証
func TestService_Insert_UnknownColumn(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")

	_, err := svc.Insert(context.Background(), "tasks", map[string]any{
		"title":          "x",
		`evil" = 1; --`: "y",
	})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidColumn)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// 更新時にペイロードのidが無視されることを検証
func TestService_Update_StripsID(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title", "status")
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "public"."tasks" SET "status" = $1, "title" = $2 WHERE "id" = $3`)).
		WithArgs(nil, "Buy oat milk", rowID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.Update(context.Background(), "tasks", rowID, map[string]any{
		"id":     "hijacked",
		"title":  "Buy oat milk",
		"status": "",
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestService_Update_OnlyIDIsEmptyPayload(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")

	err := svc.Update(context.Background(), "tasks", rowID, map[string]any{"id": "other"})
	assertAPIErrorCode(t, err, model.ErrCodeEmptyPayload)
}

func TestService_Update_NoRowMatched(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")
	mock.ExpectExec(`UPDATE "public"\."tasks"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.Update(context.Background(), "tasks", missingID, map[string]any{"title": "x"})
	assertAPIErrorCode(t, err, model.ErrCodeRowNotFound)
}

func TestService_Delete(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."tasks" WHERE "id" = $1`)).
		WithArgs(rowID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.Delete(context.Background(), "tasks", rowID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
}

func TestService_Delete_NoRowMatched(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "title")
	mock.ExpectExec(`DELETE FROM "public"\."tasks"`).
		WithArgs(missingID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := svc.Delete(context.Background(), "tasks", missingID)
	assertAPIErrorCode(t, err, model.ErrCodeRowNotFound)
}

// キーの型として解釈できないidは、クエリを発行せずNotFoundになることを検証
func TestService_MalformedKeyIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		key  string
		id   string
		run  func(svc *Service, id string) error
	}{
		{"update uuid", "id", "nope", func(svc *Service, id string) error {
			return svc.Update(context.Background(), "tasks", id, map[string]any{"title": "x"})
		}},
		{"delete uuid", "id", "nope", func(svc *Service, id string) error {
			return svc.Delete(context.Background(), "tasks", id)
		}},
		{"delete integer", "id:bigint", "12abc", func(svc *Service, id string) error {
			return svc.Delete(context.Background(), "tasks", id)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newTestService(t)
			expectTable(mock, "tasks", tt.key, "title")

			assertAPIErrorCode(t, tt.run(svc, tt.id), model.ErrCodeRowNotFound)
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

// 型変換に失敗した削除は一致する行が無いものとして扱うことを検証
func TestService_Delete_InvalidTextRepresentationIsNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id:character varying", "title")
	mock.ExpectExec(`DELETE FROM "public"\."tasks"`).
		WithArgs("nope").
		WillReturnError(&pq.Error{Code: "22P02"})

	err := svc.Delete(context.Background(), "tasks", "nope")
	assertAPIErrorCode(t, err, model.ErrCodeRowNotFound)
}

// 更新値の型変換エラーはNotFoundではなくINVALID_VALUEのまま返ることを検証
func TestService_Update_InvalidValueIsNotNotFound(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "priority")
	mock.ExpectExec(`UPDATE "public"\."tasks"`).
		WillReturnError(&pq.Error{Code: "22P02"})

	err := svc.Update(context.Background(), "tasks", rowID, map[string]any{"priority": "high"})
	assertAPIErrorCode(t, err, model.ErrCodeInvalidValue)
}

func TestService_Delete_TableWithoutIDColumn(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tags", "name")

	err := svc.Delete(context.Background(), "tags", "x")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidColumn)
}

// ドライバエラーがSQLSTATEクラスに従って分類されることを検証
func TestClassifyDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"foreign key", &pq.Error{Code: "23503"}, model.ErrCodeConstraintViolation},
		{"not null", &pq.Error{Code: "23502"}, model.ErrCodeConstraintViolation},
		{"invalid datetime", &pq.Error{Code: "22007"}, model.ErrCodeInvalidValue},
		{"invalid text representation", fmt.Errorf("failed to insert: %w", &pq.Error{Code: "22P02"}), model.ErrCodeInvalidValue},
		{"undefined column", &pq.Error{Code: "42703"}, model.ErrCodeInvalidColumn},
		{"syntax error", &pq.Error{Code: "42601"}, model.ErrCodeDatabaseError},
		{"timeout", fmt.Errorf("failed to insert: %w", context.DeadlineExceeded), model.ErrCodeUpstreamTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), model.ErrCodeDatabaseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertAPIErrorCode(t, classifyDBError(tt.err, "test"), tt.want)
		})
	}
}

// 生のエラーメッセージがレスポンス用のメッセージに含まれないことを検証
func TestClassifyDBError_DoesNotLeakDriverMessage(t *testing.T) {
	err := classifyDBError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "users_email_key"`}, "insert_row")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if regexp.MustCompile(`users_email_key`).MatchString(apiErr.Message) {
		t.Errorf("message leaks driver text: %s", apiErr.Message)
	}
}

func TestService_Insert_ConstraintViolation(t *testing.T) {
	svc, mock := newTestService(t)
	expectTable(mock, "tasks", "id", "user_id")
	mock.ExpectExec(`INSERT INTO "public"\."tasks"`).
		WillReturnError(&pq.Error{Code: "23503"})

	_, err := svc.Insert(context.Background(), "tasks", map[string]any{"user_id": "nobody"})
	assertAPIErrorCode(t, err, model.ErrCodeConstraintViolation)
}
