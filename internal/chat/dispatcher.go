// Package chat は言語モデルとの会話ターンとツール呼び出しのループを実装する。
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/hitoshi/calcoach/internal/llm"
	"github.com/hitoshi/calcoach/internal/metrics"
	"github.com/hitoshi/calcoach/internal/model"
	"github.com/hitoshi/calcoach/internal/tool"
)

// ターン結果のメトリクスラベル
const (
	outcomeOK       = "ok"
	outcomeUpstream = "upstream_error"
	outcomeTimeout  = "upstream_timeout"
	outcomeCanceled = "canceled"
)

// ツール呼び出し結果のメトリクスラベル
const (
	toolOK          = "ok"
	toolError       = "error"
	toolBadArgs     = "invalid_arguments"
	toolUnavailable = "unavailable"
)

// Completer はチャット補完APIの抽象。
type Completer interface {
	Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Config はDispatcherの設定を保持する。
type Config struct {
	Model string
	// MaxToolRounds はツール実行とモデル呼び出しを繰り返す上限。
	// 上限に達した後の呼び出しではツールを使わせない。
	MaxToolRounds int
	// CompletionTimeout は補完API呼び出し1回あたりのタイムアウト。
	CompletionTimeout time.Duration
	// ToolTimeout はツール実行1回あたりのタイムアウト。
	ToolTimeout time.Duration
	// Location はユーザー発言に付ける現在時刻のタイムゾーン。
	Location *time.Location
	Now      func() time.Time
}

// ExecutedCall は1ターン内で処理したツール呼び出しの記録。
type ExecutedCall struct {
	ID     string
	Name   string
	Result string
	Failed bool
}

// TurnResult は1ターンの結果。
type TurnResult struct {
	SessionID string
	Response  string
	Rounds    int
	Calls     []ExecutedCall
}

// Dispatcher はユーザー発言をモデルに送り、要求されたツールを実行して最終応答を返す。
type Dispatcher struct {
	completer Completer
	tools     *tool.Registry
	sessions  *SessionStore
	metrics   metrics.MetricsCollector
	cfg       Config
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(completer Completer, tools *tool.Registry, sessions *SessionStore, m metrics.MetricsCollector, cfg Config) *Dispatcher {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Dispatcher{
		completer: completer,
		tools:     tools,
		sessions:  sessions,
		metrics:   m,
		cfg:       cfg,
	}
}

// Turn は1回の会話ターンを実行する。
// 補完APIの失敗は*model.APIErrorとして返し、その場合セッション履歴はターン前の状態に戻る。
// ツールの失敗はモデルへの応答として会話に戻し、ターンは継続する。
func (d *Dispatcher) Turn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	sess, release, err := d.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, d.classifyError(err)
	}
	defer release()

	start := len(sess.history)
	if start == 0 {
		sess.history = append(sess.history, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	sess.history = append(sess.history, llm.Message{
		Role:    llm.RoleUser,
		Content: withClock(d.cfg.Now(), d.cfg.Location, text),
	})

	result := &TurnResult{SessionID: sessionID}
	definitions := d.tools.Definitions()

	for round := 0; ; round++ {
		req := &llm.ChatRequest{
			Model:      d.cfg.Model,
			Messages:   slices.Clone(sess.history),
			Tools:      definitions,
			ToolChoice: llm.ToolChoiceAuto,
		}
		exhausted := round >= d.cfg.MaxToolRounds
		if exhausted {
			req.ToolChoice = llm.ToolChoiceNone
		}

		msg, err := d.complete(ctx, req)
		if err != nil {
			sess.history = sess.history[:start]
			slog.Error("チャットターンが失敗しました",
				slog.String("session_id", sessionID),
				slog.Int("round", round),
				slog.String("error", err.Error()),
			)
			return nil, d.classifyError(err)
		}
		result.Rounds = round + 1

		if len(msg.ToolCalls) > 0 && exhausted {
			slog.Warn("ツール呼び出しの上限に達したため残りの呼び出しを破棄しました",
				slog.String("session_id", sessionID),
				slog.Int("dropped", len(msg.ToolCalls)),
			)
			msg.ToolCalls = nil
		}

		sess.history = append(sess.history, msg)
		if len(msg.ToolCalls) == 0 {
			result.Response = msg.Content
			d.metrics.RecordChatTurn(outcomeOK)
			return result, nil
		}

		for _, call := range msg.ToolCalls {
			executed := d.execute(ctx, call)
			result.Calls = append(result.Calls, executed)
			sess.history = append(sess.history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    executed.Result,
			})
		}
	}
}

// complete は補完APIを1回呼び出し、先頭の候補を返す。
func (d *Dispatcher) complete(ctx context.Context, req *llm.ChatRequest) (llm.Message, error) {
	if d.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.CompletionTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.completer.Complete(ctx, req)
	d.metrics.RecordCompletionLatency(time.Since(start))
	if err != nil {
		return llm.Message{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, llm.ErrNoChoices
	}

	msg := resp.Choices[0].Message
	msg.Role = llm.RoleAssistant
	return msg, nil
}

// execute はツール呼び出しを1件実行し、モデルに返す内容を記録する。
// 登録されていないツール名は実行せず、エラーを示すJSONを返す。
func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) ExecutedCall {
	name := call.Function.Name
	executed := ExecutedCall{ID: call.ID, Name: name}

	t, ok := d.tools.Lookup(name)
	if !ok {
		slog.Warn("未登録のツールが要求されました", slog.String("tool", name))
		d.metrics.RecordToolCall(name, toolUnavailable)
		executed.Result = fmt.Sprintf(`{"error":"tool %s is not available"}`, name)
		executed.Failed = true
		return executed
	}

	if d.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ToolTimeout)
		defer cancel()
	}

	out, err := t.Execute(ctx, call.Function.Arguments)
	if err != nil {
		outcome := toolError
		var argErr *tool.ArgumentError
		if errors.As(err, &argErr) {
			outcome = toolBadArgs
		}
		slog.Warn("ツールの実行に失敗しました",
			slog.String("tool", name),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
		)
		d.metrics.RecordToolCall(name, outcome)
		executed.Result = "Error: " + err.Error()
		executed.Failed = true
		return executed
	}

	slog.Info("ツールを実行しました", slog.String("tool", name))
	d.metrics.RecordToolCall(name, toolOK)
	executed.Result = out
	return executed
}

// classifyError はターンの失敗をAPIErrorに変換してメトリクスを記録する。
func (d *Dispatcher) classifyError(err error) *model.APIError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		d.metrics.RecordChatTurn(outcomeTimeout)
		return model.NewUpstreamTimeoutError("The completion API")
	case errors.Is(err, context.Canceled):
		d.metrics.RecordChatTurn(outcomeCanceled)
		return model.NewUpstreamError("request canceled")
	}

	d.metrics.RecordChatTurn(outcomeUpstream)
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return model.NewUpstreamError(statusErr.Error())
	}
	return model.NewUpstreamError(err.Error())
}
