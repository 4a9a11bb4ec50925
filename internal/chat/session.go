package chat

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/calcoach/internal/llm"
)

// DefaultSessionID はセッションIDが指定されない場合に使う共有セッション。
const DefaultSessionID = "default"

// Session は1つの会話履歴を保持する。
// historyはAcquireで得たロックの保持中にのみ読み書きする。
type Session struct {
	ID string

	sem     chan struct{}
	history []llm.Message

	// 以下はSessionStore.muで保護する
	refs     int
	lastUsed time.Time
}

// History は会話履歴のコピーを返す。
func (s *Session) History() []llm.Message {
	return slices.Clone(s.history)
}

// SessionStore はセッションIDごとの会話履歴を管理する。
// 同一セッションのターンは直列化され、一定時間使われないセッションは破棄される。
type SessionStore struct {
	idleTimeout time.Duration
	now         func() time.Time
	onChange    func(count int)

	mu       sync.Mutex
	sessions map[string]*Session

	stopCh   chan struct{}
	stopOnce sync.Once
}

// SessionStoreConfig はSessionStoreの設定を保持する。
type SessionStoreConfig struct {
	IdleTimeout     time.Duration // 最終利用からこの時間を過ぎたセッションを破棄する
	CleanupInterval time.Duration // 破棄を確認する間隔。0の場合はIdleTimeoutの半分
	// OnChange はセッション数が変化したときに呼ばれる。nilでもよい。
	OnChange func(count int)
}

// NewSessionStore は新しいSessionStoreを生成する。
// バックグラウンドで期限切れセッションのクリーンアップを開始する。
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = cfg.IdleTimeout / 2
	}
	if interval <= 0 {
		interval = time.Minute
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(int) {}
	}

	s := &SessionStore{
		idleTimeout: cfg.IdleTimeout,
		now:         time.Now,
		onChange:    onChange,
		sessions:    make(map[string]*Session),
		stopCh:      make(chan struct{}),
	}

	go s.cleanupLoop(interval)

	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Acquire はセッションを排他的に取得する。存在しなければ作成する。
// 返されたrelease関数を必ず呼ぶこと。ctxが先に終了した場合はctx.Err()を返す。
func (s *SessionStore) Acquire(ctx context.Context, id string) (*Session, func(), error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id, sem: make(chan struct{}, 1), lastUsed: s.now()}
		s.sessions[id] = sess
	}
	sess.refs++
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		s.onChange(count)
	}

	select {
	case sess.sem <- struct{}{}:
	case <-ctx.Done():
		s.unref(sess)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-sess.sem
			s.unref(sess)
		})
	}
	return sess, release, nil
}

func (s *SessionStore) unref(sess *Session) {
	s.mu.Lock()
	sess.refs--
	sess.lastUsed = s.now()
	s.mu.Unlock()
}

// Delete はセッションを破棄する。存在しなかった場合はfalseを返す。
// 実行中のターンはそのまま完了し、次のターンは新しい履歴で始まる。
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	if ok {
		s.onChange(count)
	}
	return ok
}

// Len は保持しているセッション数を返す。
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// cleanupLoop はバックグラウンドで期限切れセッションを定期的に破棄する。
func (s *SessionStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は使用中でなく、最終利用からIdleTimeoutを過ぎたセッションを削除する。
func (s *SessionStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for id, sess := range s.sessions {
		if sess.refs == 0 && now.Sub(sess.lastUsed) > s.idleTimeout {
			delete(s.sessions, id)
			evicted++
		}
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if evicted > 0 {
		slog.Info("アイドル状態のチャットセッションを破棄しました",
			slog.Int("evicted", evicted),
			slog.Int("remaining", count),
		)
		s.onChange(count)
	}
}
