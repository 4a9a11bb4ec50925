// Package tool は言語モデルから呼び出されるローカルツールを定義する。
// 各ツールは型付きの引数構造体を持ち、その構造体から引数スキーマを生成する。
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/hitoshi/calcoach/internal/llm"
)

// Tool はモデルに提示でき、名前で呼び出せるローカル操作。
type Tool interface {
	Name() Name
	Definition() llm.Tool
	// Execute はJSON文字列の引数で操作を実行し、モデルに返す結果文字列を返す。
	// エラーはモデルへのエラー応答として扱われ、チャットのターンは継続する。
	Execute(ctx context.Context, arguments string) (string, error)
}

// ArgumentError はモデルが渡した引数を解釈できない場合のエラー。
type ArgumentError struct {
	Tool Name
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// typedTool は引数構造体Aを持つTool実装。
type typedTool[A any] struct {
	name        Name
	description string
	parameters  *jsonschema.Schema
	run         func(ctx context.Context, args A) (string, error)
}

// newTool は引数構造体Aからスキーマを生成してToolを作る。
// omitemptyのないフィールドは必須になる。
func newTool[A any](name Name, description string, run func(ctx context.Context, args A) (string, error)) Tool {
	return &typedTool[A]{
		name:        name,
		description: description,
		parameters:  reflectParameters(new(A)),
		run:         run,
	}
}

func reflectParameters(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	// プロバイダによっては$schemaを受け付けない
	schema.Version = ""
	return schema
}

func (t *typedTool[A]) Name() Name { return t.name }

func (t *typedTool[A]) Definition() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.FunctionDefinition{
			Name:        string(t.name),
			Description: t.description,
			Parameters:  t.parameters,
		},
	}
}

func (t *typedTool[A]) Execute(ctx context.Context, arguments string) (string, error) {
	var args A
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", &ArgumentError{Tool: t.name, Err: err}
	}
	return t.run(ctx, args)
}
