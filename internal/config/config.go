package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DatabaseSchema string
	DBTimeout      time.Duration

	// LLM
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Chat
	ChatMaxToolRounds      int
	ChatSessionIdleTimeout time.Duration
	ChatTimezone           string

	// Rate Limit（req/min/client）
	RateLimitGeneral int
	RateLimitChat    int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string

	// 行を持たないusersテーブルに作成する既定ユーザー
	DefaultUserEmail string

	// Logging
	LogLevel string
}

// Load はカレントディレクトリの.envを読み込んだ後、環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envで上書きしない。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return fromEnv()
}

// loadDotEnv はpathの.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if cfg.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseSchema = getEnvString("DATABASE_SCHEMA", "public")
	cfg.DBTimeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.LLMBaseURL = strings.TrimRight(getEnvString("LLM_BASE_URL", "https://api.groq.com/openai/v1"), "/")
	cfg.LLMModel = getEnvString("LLM_MODEL", "llama-3.3-70b-versatile")
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 60*time.Second)
	cfg.ChatMaxToolRounds = getEnvInt("CHAT_MAX_TOOL_ROUNDS", 5)
	cfg.ChatSessionIdleTimeout = getEnvDuration("CHAT_SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.ChatTimezone = getEnvString("CHAT_TIMEZONE", "Asia/Jerusalem")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 300)
	cfg.RateLimitChat = getEnvInt("RATE_LIMIT_CHAT", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5001")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGIN", []string{"http://localhost:5173"})
	cfg.DefaultUserEmail = getEnvString("DEFAULT_USER_EMAIL", "default@calcoach.local")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// Location はChatTimezoneのタイムゾーンを返す。
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ChatTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAT_TIMEZONE %q: %w", c.ChatTimezone, err)
	}
	return loc, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて分割する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
