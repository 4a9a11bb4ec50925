package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL はGroqのOpenAI互換エンドポイント。
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// maxResponseSize はレスポンスボディの読み取り上限（4MB）。
	maxResponseSize = 4 << 20
)

// ErrNoChoices はレスポンスに補完候補が含まれない場合に返される。
var ErrNoChoices = errors.New("completion response has no choices")

// StatusError はAPIが2xx以外のステータスを返した場合のエラー。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Message)
}

// Client はOpenAI互換チャット補完APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Complete はチャット補完を1回実行する。
// 自動リトライは行わない。
func (c *Client) Complete(ctx context.Context, chatReq *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("言語モデルAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("model", chatReq.Model),
		)
		return nil, fmt.Errorf("failed to call completion API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: providerMessage(raw)}
		c.logger.Error("言語モデルAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("model", chatReq.Model),
			slog.String("error", statusErr.Message),
		)
		return nil, statusErr
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	c.logger.Debug("言語モデルAPIの呼び出しが完了しました",
		slog.String("model", chatResp.Model),
		slog.Int("total_tokens", chatResp.Usage.TotalTokens),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &chatResp, nil
}

// providerMessage はエラーレスポンスからプロバイダのメッセージを取り出す。
// {"error":{"message":...}} 形式でない場合はボディの先頭を返す。
func providerMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
