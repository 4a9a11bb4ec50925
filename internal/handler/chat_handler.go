package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/calcoach/internal/chat"
	"github.com/hitoshi/calcoach/internal/model"
)

// maxChatMessageSize はチャットリクエストボディの上限（64KB）。
const maxChatMessageSize = 64 << 10

// ChatDispatcher はチャットハンドラーが必要とするターン実行のインターフェース。
type ChatDispatcher interface {
	Turn(ctx context.Context, sessionID, text string) (*chat.TurnResult, error)
}

// SessionDeleter はセッション破棄のためのインターフェース。
type SessionDeleter interface {
	Delete(id string) bool
}

// ChatHandler はチャットのHTTPハンドラー。
type ChatHandler struct {
	dispatcher ChatDispatcher
	sessions   SessionDeleter
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(dispatcher ChatDispatcher, sessions SessionDeleter) *ChatHandler {
	return &ChatHandler{dispatcher: dispatcher, sessions: sessions}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// Chat は1回の会話ターンを処理する。
// POST /api/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatMessageSize)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("body must be a JSON object with a message"))
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("message is required"))
		return
	}
	if req.SessionID != "" && req.SessionID != chat.DefaultSessionID {
		if _, err := uuid.Parse(req.SessionID); err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("sessionId must be a UUID"))
			return
		}
	}

	result, err := h.dispatcher.Turn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  result.Response,
		SessionID: result.SessionID,
	})
}

// NewSession はセッションIDを発行する。履歴は最初のターンで作成される。
// POST /api/chat/sessions
func (h *ChatHandler) NewSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": uuid.NewString()})
}

// DeleteSession はセッションの会話履歴を破棄する。
// DELETE /api/chat/{sessionId}
func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if !h.sessions.Delete(id) {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSessionNotFoundError(id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
