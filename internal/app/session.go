package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"demandline/internal/config"
	"demandline/internal/db"
	"demandline/internal/engine"
	"demandline/internal/identity"
	"demandline/internal/metrics"
	"demandline/internal/migrate"
	"demandline/internal/report"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one isolated working set: its own demand store, ledger and
// database. It lives from Open to Close.
type Session struct {
	ID        string
	CreatedAt time.Time
	Engine    engine.Engine
	Reports   report.Generator

	conn *sql.DB
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// Options configure sessions created by a Manager.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// NewSession builds a standalone session outside any Manager.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	reg, err := identity.New(opts.Config.Identities)
	if err != nil {
		return nil, fmt.Errorf("identity registry: %w", err)
	}
	id := uuid.NewString()
	conn, err := db.Open(db.Config{Name: "session-" + id})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate session %s: %w", id, err)
	}
	e := engine.New(conn, opts.Config, reg)
	e.Logger = opts.Logger.With("session_id", id)
	e.Metrics = opts.Metrics
	e.Now = opts.Now
	if err := e.Init(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init session %s: %w", id, err)
	}
	return &Session{
		ID:        id,
		CreatedAt: opts.Now().UTC(),
		Engine:    e,
		Reports: report.Generator{
			Registry: reg,
			Title:    opts.Config.Report.Title,
			Metrics:  opts.Metrics,
			Now:      opts.Now,
		},
		conn: conn,
	}, nil
}

// Manager owns the open sessions of a process.
type Manager struct {
	opts     Options
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

func (m *Manager) Open(ctx context.Context) (*Session, error) {
	s, err := NewSession(ctx, m.opts)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.opts.Metrics.SessionOpened()
	m.opts.Logger.Info("session opened", "session_id", s.ID)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close discards a session and everything stored in it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.opts.Metrics.SessionClosed()
	m.opts.Logger.Info("session closed", "session_id", id)
	return s.Close()
}

// CloseAll is called at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			m.opts.Logger.Warn("close session", "session_id", id, "error", err)
		}
		m.opts.Metrics.SessionClosed()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
