package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calcoach/internal/metrics"
	"github.com/hitoshi/calcoach/internal/model"
	"github.com/hitoshi/calcoach/internal/table"
)

// maxPayloadSize はCRUDリクエストボディの上限（1MB）。
const maxPayloadSize = 1 << 20

// TableServiceInterface はテーブルハンドラーが必要とするサービスインターフェース。
type TableServiceInterface interface {
	ListTables(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) (*table.ReadResult, error)
	Insert(ctx context.Context, name string, payload map[string]any) (string, error)
	Update(ctx context.Context, name, id string, payload map[string]any) error
	Delete(ctx context.Context, name, id string) error
}

// TableHandler は汎用テーブルCRUDのHTTPハンドラー。
type TableHandler struct {
	service TableServiceInterface
	metrics metrics.MetricsCollector
}

// NewTableHandler はTableHandlerを生成する。mがnilの場合はメトリクスを記録しない。
func NewTableHandler(service TableServiceInterface, m metrics.MetricsCollector) *TableHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &TableHandler{service: service, metrics: m}
}

// readResponse はテーブル読み取りのAPIレスポンス。
type readResponse struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// insertResponse は行挿入のAPIレスポンス。
type insertResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// successResponse は更新・削除のAPIレスポンス。
type successResponse struct {
	Success bool `json:"success"`
}

// ListTables はテーブル名一覧を返す。
// GET /api/tables
func (h *TableHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.service.ListTables(r.Context())
	h.record("list_tables", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// ReadRows は最大100行とカラム一覧を返す。
// GET /api/data/{table}
func (h *TableHandler) ReadRows(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Read(r.Context(), chi.URLParam(r, "table"))
	h.record("read", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Columns: result.Columns, Rows: result.Rows})
}

// InsertRow は1行を挿入する。
// POST /api/data/{table}
func (h *TableHandler) InsertRow(w http.ResponseWriter, r *http.Request) {
	payload, apiErr := decodePayload(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	id, err := h.service.Insert(r.Context(), chi.URLParam(r, "table"), payload)
	h.record("insert", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, insertResponse{
		Success: true,
		Message: "Inserted successfully",
		ID:      id,
	})
}

// UpdateRow はIDで指定した行を更新する。
// PUT /api/data/{table}/{id}
func (h *TableHandler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	payload, apiErr := decodePayload(w, r)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	err := h.service.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), payload)
	h.record("update", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// DeleteRow はIDで指定した行を削除する。
// DELETE /api/data/{table}/{id}
func (h *TableHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"))
	h.record("delete", err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// record は操作結果をメトリクスに記録する。失敗時はエラーコードを結果ラベルにする。
func (h *TableHandler) record(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			outcome = strings.ToLower(apiErr.Code)
		}
	}
	h.metrics.RecordTableOperation(op, outcome)
}

// decodePayload はリクエストボディをJSONオブジェクトとして読み取る。
// 数値は精度を保つためjson.Numberのまま扱う。
// 空のボディとnullは空のペイロードとして返す。フィールドが無いことの判定は
// テーブル名の検証の後にServiceが行う。
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, *model.APIError) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, model.NewInvalidRequestError("request body too large")
		}
		return nil, model.NewInvalidRequestError("body must be a JSON object")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}
