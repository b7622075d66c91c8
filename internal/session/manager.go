package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"cyclecount/internal"
	"cyclecount/internal/logging"
)

const idPrefix = "INV-"

// FormatID renders the session id for t with millisecond resolution.
func FormatID(t time.Time) string {
	return fmt.Sprintf("%s%s-%03d", idPrefix, t.Format("20060102-150405"), t.Nanosecond()/int(time.Millisecond))
}

type Manager struct {
	store *Store
	log   *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	lastID time.Time
}

func NewManager(store *Store, log *zap.Logger) *Manager {
	return &Manager{store: store, log: logging.OrNop(log).Named("session"), now: time.Now}
}

// SetClock replaces time.Now, for tests and replays.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// NewID returns a fresh id. Two calls within the same millisecond get
// consecutive ids instead of the same one.
func (m *Manager) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now().Truncate(time.Millisecond)
	if !t.After(m.lastID) {
		t = m.lastID.Add(time.Millisecond)
	}
	m.lastID = t
	return FormatID(t)
}

func (m *Manager) CreateSession(ctx context.Context, branch internal.Branch, creator string) (internal.Session, error) {
	return m.CreateSessionWithID(ctx, m.NewID(), branch, creator)
}

// CreateSessionWithID records an open session under id. An id already present
// in Historial, or carried by Detalle rows, is rejected with
// ErrDuplicateSession and nothing is written.
func (m *Manager) CreateSessionWithID(ctx context.Context, id string, branch internal.Branch, creator string) (internal.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return internal.Session{}, errors.New("session id is empty")
	}
	if strings.TrimSpace(branch.Organization) == "" || strings.TrimSpace(branch.Location) == "" {
		return internal.Session{}, errors.New("organization and branch are required")
	}

	taken, err := m.store.hasDetail(ctx, id)
	if err != nil {
		return internal.Session{}, fmt.Errorf("check detail for %s: %w", id, err)
	}
	if taken {
		return internal.Session{}, fmt.Errorf("%w: %s already has detail rows", ErrDuplicateSession, id)
	}

	sess := internal.Session{
		ID:        id,
		Branch:    branch,
		CreatedBy: creator,
		CreatedAt: m.now(),
		Status:    internal.SessionOpen,
	}
	res := m.store.AppendSession(ctx, sess)
	if !res.OK {
		if errors.Is(res.Err, ErrDuplicateSession) {
			return internal.Session{}, res.Err
		}
		return internal.Session{}, &StoreError{Result: res}
	}
	m.log.Info("session created", zap.String("session", id), zap.String("organization", branch.Organization), zap.String("branch", branch.Location), zap.String("user", creator))
	return sess, nil
}

// PersistSample writes the sample lines of an already recorded session.
func (m *Manager) PersistSample(ctx context.Context, sessionID string, sample []internal.ClassifiedLine) internal.Outcome {
	sess, err := m.store.FindSession(ctx, sessionID)
	if err != nil {
		return internal.Failed(sessionID, fmt.Sprintf("sample not saved: %v", err))
	}
	return m.persist(ctx, sess, sample)
}

func (m *Manager) persist(ctx context.Context, sess internal.Session, sample []internal.ClassifiedLine) internal.Outcome {
	lines := make([]internal.SampledLine, 0, len(sample))
	for _, c := range sample {
		lines = append(lines, internal.SampledLine{ClassifiedLine: c, SessionID: sess.ID, Branch: sess.Branch})
	}
	res := m.store.AppendLines(ctx, lines)
	out := res.Outcome(sess.ID)
	if res.OK {
		out.Rows = len(lines)
		out.Message = fmt.Sprintf("%d sampled lines saved for %s", len(lines), sess.ID)
	}
	return out
}

// Open creates the session and then persists its sample. A failed session
// write stops before the detail write. A detail failure after the session
// was recorded is reported as partial and not retried.
func (m *Manager) Open(ctx context.Context, id string, branch internal.Branch, creator string, sample []internal.ClassifiedLine) internal.Outcome {
	if strings.TrimSpace(id) == "" {
		id = m.NewID()
	}
	sess, err := m.CreateSessionWithID(ctx, id, branch, creator)
	if err != nil {
		out := internal.Failed(id, fmt.Sprintf("session not created: %v", err))
		var se *StoreError
		if errors.As(err, &se) {
			out.Retryable = se.Result.Retryable
		}
		return out
	}

	out := m.persist(ctx, sess, sample)
	if !out.OK() {
		m.log.Error("session recorded without its sample", zap.String("session", sess.ID), zap.String("error", out.Message))
		return internal.Outcome{
			Status:    internal.OutcomePartial,
			SessionID: sess.ID,
			Retryable: out.Retryable,
			Message:   fmt.Sprintf("session %s was created but its sample could not be saved: %s", sess.ID, out.Message),
		}
	}
	return out
}

func (m *Manager) Get(ctx context.Context, id string) (internal.Session, error) {
	return m.store.FindSession(ctx, id)
}

func (m *Manager) ListSessions(ctx context.Context) ([]internal.Session, error) {
	return m.store.Sessions(ctx)
}

func (m *Manager) ListOpenSessions(ctx context.Context) ([]internal.Session, error) {
	all, err := m.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	var open []internal.Session
	for _, s := range all {
		if s.Status == internal.SessionOpen {
			open = append(open, s)
		}
	}
	return open, nil
}

// CloseSession flips the session to closed. warnings are carried into the
// outcome unchanged.
func (m *Manager) CloseSession(ctx context.Context, id, closer string, warnings []string) internal.Outcome {
	closedAt := m.now()
	res := m.store.UpdateSession(ctx, id, func(s *internal.Session) error {
		if s.Status == internal.SessionClosed {
			return fmt.Errorf("%w: %s", ErrSessionClosed, id)
		}
		s.Status = internal.SessionClosed
		s.ClosedAt = &closedAt
		s.ClosedBy = closer
		return nil
	})
	if !res.OK {
		out := res.Outcome(id)
		out.Message = fmt.Sprintf("session %s not closed: %s", id, res.Message)
		out.Warnings = warnings
		return out
	}
	m.log.Info("session closed", zap.String("session", id), zap.String("user", closer), zap.Int("warnings", len(warnings)))
	return internal.Outcome{
		Status:    internal.OutcomeSuccess,
		SessionID: id,
		Rows:      1,
		Message:   fmt.Sprintf("session %s closed", id),
		Warnings:  warnings,
	}
}
