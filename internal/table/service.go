// Package table はスキーマを反射的に扱う汎用テーブルCRUDを提供する。
// テーブル名とカラム名はリクエストごとにカタログと照合してから使用する。
package table

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/calcoach/internal/model"
	"github.com/hitoshi/calcoach/internal/repository"
)

// ReadLimit はReadが返す最大行数。
const ReadLimit = 100

const (
	idColumn        = "id"
	createdAtColumn = "created_at"
)

// ReadResult はReadの戻り値。任意のスキーマを描画できるようカラム一覧を含む。
type ReadResult struct {
	Columns []string
	Rows    []map[string]any
}

// Service はテーブルプロキシのサービス層。
type Service struct {
	repo    repository.TableRepository
	timeout time.Duration
	newID   func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// timeoutは各データベース操作に適用する上限時間（0以下の場合は適用しない）。
func NewService(repo repository.TableRepository, timeout time.Duration) *Service {
	return &Service{
		repo:    repo,
		timeout: timeout,
		newID:   uuid.NewString,
	}
}

// ListTables は利用可能なテーブル名の一覧を返す。
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, classifyDBError(err, "list_tables")
	}
	return tables, nil
}

// Read はテーブルから最大ReadLimit件の行を返す。
// created_atカラムがあればその降順で並べる。
func (s *Service) Read(ctx context.Context, name string) (*ReadResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.validate(ctx, name)
	if err != nil {
		return nil, err
	}

	var orderBy *repository.Column
	if col, ok := t.Column(createdAtColumn); ok {
		orderBy = &col
	}

	rows, err := s.repo.SelectRows(ctx, t, orderBy, ReadLimit)
	if err != nil {
		return nil, classifyDBError(err, "read_table")
	}

	return &ReadResult{Columns: t.ColumnNames(), Rows: rows}, nil
}

// Insert は1行を挿入し、保存したIDを返す。
// テーブルにidカラムがありペイロードにIDがない場合は新しいUUIDを採番する。
// 空文字列の値はNULLとして挿入する。
func (s *Service) Insert(ctx context.Context, name string, payload map[string]any) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.validate(ctx, name)
	if err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", model.NewEmptyPayloadError()
	}

	values, err := normalizePayload(payload)
	if err != nil {
		return "", err
	}

	var id string
	if t.HasColumn(idColumn) {
		if v, ok := values[idColumn].(string); ok && v != "" {
			id = v
		} else if values[idColumn] != nil {
			id = fmt.Sprint(values[idColumn])
		} else {
			id = s.newID()
			values[idColumn] = id
		}
	}

	cols, args, err := bindColumns(t, values)
	if err != nil {
		return "", err
	}

	if err := s.repo.InsertRow(ctx, t, cols, args); err != nil {
		return "", classifyDBError(err, "insert_row")
	}

	slog.Info("行を挿入しました", slog.String("table", t.Name()), slog.String("id", id))
	return id, nil
}

// Update はidに一致する行を更新する。
// ペイロード中のidは無視し、行のIDは変更しない。
func (s *Service) Update(ctx context.Context, name, id string, payload map[string]any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.validate(ctx, name)
	if err != nil {
		return err
	}

	values, err := normalizePayload(payload)
	if err != nil {
		return err
	}
	delete(values, idColumn)
	if len(values) == 0 {
		return model.NewEmptyPayloadError()
	}

	key, ok := t.Column(idColumn)
	if !ok {
		return model.NewInvalidColumnError(t.Name(), idColumn)
	}

	cols, args, err := bindColumns(t, values)
	if err != nil {
		return err
	}
	if !keyAccepts(key, id) {
		return model.NewRowNotFoundError(t.Name(), id)
	}

	affected, err := s.repo.UpdateRow(ctx, t, key, id, cols, args)
	if err != nil {
		return classifyDBError(err, "update_row")
	}
	if affected == 0 {
		return model.NewRowNotFoundError(t.Name(), id)
	}
	return nil
}

// Delete はidに一致する行を削除する。
func (s *Service) Delete(ctx context.Context, name, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := s.validate(ctx, name)
	if err != nil {
		return err
	}

	key, ok := t.Column(idColumn)
	if !ok {
		return model.NewInvalidColumnError(t.Name(), idColumn)
	}

	if !keyAccepts(key, id) {
		return model.NewRowNotFoundError(t.Name(), id)
	}

	affected, err := s.repo.DeleteRow(ctx, t, key, id)
	if err != nil {
		// 比較対象はidだけなので、型変換の失敗は一致する行が無いことを意味する
		if isInvalidTextRepresentation(err) {
			return model.NewRowNotFoundError(t.Name(), id)
		}
		return classifyDBError(err, "delete_row")
	}
	if affected == 0 {
		return model.NewRowNotFoundError(t.Name(), id)
	}
	return nil
}

func (s *Service) validate(ctx context.Context, name string) (repository.Table, error) {
	t, err := s.repo.ValidateTable(ctx, name)
	if errors.Is(err, repository.ErrUnknownTable) {
		return repository.Table{}, model.NewInvalidTableError(name)
	}
	if err != nil {
		return repository.Table{}, classifyDBError(err, "validate_table")
	}
	return t, nil
}

// keyAccepts はidがキーカラムの型として解釈できるかどうかを返す。
// 解釈できないidに一致する行は存在しない。
func keyAccepts(key repository.Column, id string) bool {
	switch key.DataType() {
	case "uuid":
		_, err := uuid.Parse(id)
		return err == nil
	case "smallint", "integer", "bigint":
		_, err := strconv.ParseInt(id, 10, 64)
		return err == nil
	}
	return true
}

func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// normalizePayload はペイロードをバインド可能な値に変換したコピーを返す。
// 空文字列はNULL、オブジェクトと配列はJSONテキスト、json.Numberは文字列になる。
func normalizePayload(payload map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			if val == "" {
				values[k] = nil
			} else {
				values[k] = val
			}
		case json.Number:
			values[k] = val.String()
		case map[string]any, []any:
			raw, err := json.Marshal(val)
			if err != nil {
				return nil, model.NewInvalidRequestError(fmt.Sprintf("field %q cannot be encoded", k))
			}
			values[k] = string(raw)
		default:
			values[k] = val
		}
	}
	return values, nil
}

// bindColumns はペイロードのキーをカラムに解決する。
// 生成されるSQLを安定させるためキーは名前順に並べる。
func bindColumns(t repository.Table, values map[string]any) ([]repository.Column, []any, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]repository.Column, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		col, ok := t.Column(k)
		if !ok {
			return nil, nil, model.NewInvalidColumnError(t.Name(), k)
		}
		cols[i] = col
		args[i] = values[k]
	}
	return cols, args, nil
}

// classifyDBError はデータベースエラーをAPIErrorに変換する。
// 生のエラーメッセージはログにのみ出力する。
func classifyDBError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		slog.Warn("データベース操作がタイムアウトしました", slog.String("op", op), slog.String("error", err.Error()))
		return model.NewUpstreamTimeoutError("database")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		slog.Warn("データベース操作が失敗しました",
			slog.String("op", op),
			slog.String("sqlstate", string(pqErr.Code)),
			slog.String("error", pqErr.Message),
		)
		switch {
		case pqErr.Code == "42703":
			return model.NewInvalidColumnError(pqErr.Table, pqErr.Column)
		case pqErr.Code.Class() == "22":
			return model.NewInvalidValueError(pqErr.Code.Name())
		case pqErr.Code.Class() == "23":
			return model.NewConstraintViolationError(pqErr.Code.Name())
		}
		return model.NewDatabaseError()
	}

	slog.Error("データベース操作が失敗しました", slog.String("op", op), slog.String("error", err.Error()))
	return model.NewDatabaseError()
}
