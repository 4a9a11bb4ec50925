package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/calcoach/internal/chat"
	"github.com/hitoshi/calcoach/internal/config"
	"github.com/hitoshi/calcoach/internal/database"
	"github.com/hitoshi/calcoach/internal/handler"
	"github.com/hitoshi/calcoach/internal/llm"
	"github.com/hitoshi/calcoach/internal/logger"
	"github.com/hitoshi/calcoach/internal/metrics"
	"github.com/hitoshi/calcoach/internal/middleware"
	"github.com/hitoshi/calcoach/internal/repository"
	"github.com/hitoshi/calcoach/internal/table"
	"github.com/hitoshi/calcoach/internal/tool"
)

// shutdownTimeout はグレースフルシャットダウンで実行中のリクエストを待つ上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "5001"
		}
		return runHealthcheck(healthcheckURL(port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("llm_base_url", cfg.LLMBaseURL),
		slog.String("llm_model", cfg.LLMModel),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	return runServe(cfg)
}

// server はrunServeで組み立てた依存関係を保持する。
type server struct {
	handler  http.Handler
	calendar *repository.PostgresCalendarRepo
	sessions *chat.SessionStore
	limiter  *middleware.RateLimiter
}

// Close はバックグラウンドのクリーンアップを停止する。
func (s *server) Close() {
	s.sessions.Stop()
	s.limiter.Stop()
}

// newServer は全依存関係をワイヤリングする。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	tableRepo := repository.NewPostgresTableRepo(db, cfg.DatabaseSchema)
	calendarRepo := repository.NewPostgresCalendarRepo(db, cfg.DefaultUserEmail)

	// 3. テーブルプロキシ
	tableService := table.NewService(tableRepo, cfg.DBTimeout)

	// 4. チャット
	llmClient := llm.NewClient(&http.Client{Timeout: cfg.LLMTimeout}, log, cfg.LLMBaseURL, cfg.LLMAPIKey)
	tools := tool.NewRegistry(calendarRepo, tool.Options{Location: loc})
	sessions := chat.NewSessionStore(chat.SessionStoreConfig{
		IdleTimeout: cfg.ChatSessionIdleTimeout,
		OnChange:    collector.SetActiveSessions,
	})
	dispatcher := chat.NewDispatcher(llmClient, tools, sessions, collector, chat.Config{
		Model:             cfg.LLMModel,
		MaxToolRounds:     cfg.ChatMaxToolRounds,
		CompletionTimeout: cfg.LLMTimeout,
		ToolTimeout:       cfg.DBTimeout,
		Location:          loc,
	})

	// 5. ルーター
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitChat))
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		Metrics:            collector,
		MetricsHandler:     metrics.Handler(registry),

		DB: db,

		TableService: tableService,

		Chat:     dispatcher,
		Sessions: sessions,
	})

	return &server{
		handler:  router,
		calendar: calendarRepo,
		sessions: sessions,
		limiter:  limiter,
	}, nil
}

// writeTimeout はチャット1ターンの最悪時間（補完APIの呼び出し回数×タイムアウト）より長い書き込みタイムアウトを返す。
func writeTimeout(cfg *config.Config) time.Duration {
	rounds := cfg.ChatMaxToolRounds + 1
	return time.Duration(rounds)*cfg.LLMTimeout + 15*time.Second
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(context.Background(), db, cfg.DBTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 依存関係のワイヤリング
	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.Close()

	// 3. 既定ユーザーを先に用意する。usersテーブルがなくてもテーブルプロキシは動作する
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBTimeout)
	userID, err := srv.calendar.DefaultUserID(ctx)
	cancel()
	if err != nil {
		slog.Warn("failed to prepare default user", slog.String("error", err.Error()))
	} else {
		slog.Info("default user ready", slog.String("user_id", userID))
	}

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg),
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

func healthcheckURL(port string) string {
	return fmt.Sprintf("http://localhost:%s/health", port)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
