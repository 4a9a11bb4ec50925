package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/calcoach/internal/metrics"
	"github.com/hitoshi/calcoach/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	// MetricsHandler は/metricsで公開するハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler

	// 死活監視
	DB Pinger

	// テーブルプロキシ
	TableService TableServiceInterface

	// チャット
	Chat     ChatDispatcher
	Sessions SessionDeleter
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → CORS → RateLimit(General)
//
// POST /api/chat にはチャット専用のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	healthHandler := NewHealthHandler(deps.DB)
	tableHandler := NewTableHandler(deps.TableService, deps.Metrics)
	chatHandler := NewChatHandler(deps.Chat, deps.Sessions)

	// --- レート制限対象外のルート ---
	r.Get("/", healthHandler.Root)
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/api/tables", tableHandler.ListTables)

		r.Route("/api/data/{table}", func(r chi.Router) {
			r.Get("/", tableHandler.ReadRows)
			r.Post("/", tableHandler.InsertRow)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", tableHandler.UpdateRow)
				r.Delete("/", tableHandler.DeleteRow)
			})
		})

		r.Route("/api/chat", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.ChatMiddleware()).Post("/", chatHandler.Chat)
			} else {
				r.Post("/", chatHandler.Chat)
			}
			r.Post("/sessions", chatHandler.NewSession)
			r.Delete("/{sessionId}", chatHandler.DeleteSession)
		})
	})

	return r
}
