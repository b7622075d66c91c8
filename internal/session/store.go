package session

import (
	"context"
	"errors"
	"fmt"

	"cyclecount/internal"
	"cyclecount/internal/tabular"
)

var (
	ErrDuplicateSession = errors.New("session: id already in use")
	ErrSessionNotFound  = errors.New("session: not found")
	ErrSessionClosed    = errors.New("session: already closed")
)

// StoreError carries the adapter result of a failed write so callers can
// still tell a busy store from a hard failure.
type StoreError struct {
	Result tabular.Result
}

func (e *StoreError) Error() string { return e.Result.Message }
func (e *StoreError) Unwrap() error { return e.Result.Err }

// Store is the repository over the Historial and Detalle tables. It hides the
// read-all, merge, write-all cycle the spreadsheet forces on every change.
type Store struct {
	adapter       *tabular.Adapter
	sessionsTable string
	detailTable   string
}

func NewStore(adapter *tabular.Adapter, sessionsTable, detailTable string) *Store {
	return &Store{adapter: adapter, sessionsTable: sessionsTable, detailTable: detailTable}
}

func (s *Store) Sessions(ctx context.Context) ([]internal.Session, error) {
	t, err := s.adapter.Read(ctx, s.sessionsTable)
	if err != nil {
		return nil, err
	}
	out := make([]internal.Session, 0, t.Len())
	for _, r := range t.Rows {
		if sess, ok := DecodeSession(r); ok {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *Store) FindSession(ctx context.Context, id string) (internal.Session, error) {
	all, err := s.Sessions(ctx)
	if err != nil {
		return internal.Session{}, err
	}
	for _, sess := range all {
		if sess.ID == id {
			return sess, nil
		}
	}
	return internal.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Lines returns the sampled lines of one session in stored order.
func (s *Store) Lines(ctx context.Context, sessionID string) ([]internal.SampledLine, error) {
	t, err := s.DetailRows(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]internal.SampledLine, 0, t.Len())
	for _, r := range t.Rows {
		out = append(out, DecodeLine(r))
	}
	return out, nil
}

// DetailRows returns the raw Detalle rows of one session, extra columns
// included.
func (s *Store) DetailRows(ctx context.Context, sessionID string) (tabular.Table, error) {
	t, err := s.adapter.Read(ctx, s.detailTable)
	if err != nil {
		return tabular.Table{}, err
	}
	out := tabular.Table{Columns: tabular.UnionColumns(DetailColumns, t.Columns)}
	for _, r := range t.Rows {
		if sid, _ := rowKey(r); sid == sessionID {
			out.Rows = append(out.Rows, r)
		}
	}
	return tabular.Normalize(out, out.Columns), nil
}

func (s *Store) hasDetail(ctx context.Context, sessionID string) (bool, error) {
	t, err := s.DetailRows(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return t.Len() > 0, nil
}

// AppendSession adds the session row unless the id is already taken.
func (s *Store) AppendSession(ctx context.Context, sess internal.Session) tabular.Result {
	return s.adapter.Update(ctx, s.sessionsTable, func(cur tabular.Table) (tabular.Table, error) {
		for _, r := range cur.Rows {
			if existing, ok := DecodeSession(r); ok && existing.ID == sess.ID {
				return tabular.Table{}, fmt.Errorf("%w: %s", ErrDuplicateSession, sess.ID)
			}
		}
		row := tabular.Table{Columns: SessionColumns, Rows: []tabular.Row{EncodeSession(sess)}}
		return tabular.Concat(cur, row), nil
	})
}

// UpdateSession applies fn to the stored session and writes it back.
func (s *Store) UpdateSession(ctx context.Context, id string, fn func(*internal.Session) error) tabular.Result {
	return s.adapter.Update(ctx, s.sessionsTable, func(cur tabular.Table) (tabular.Table, error) {
		t := tabular.Normalize(cur, tabular.UnionColumns(cur.Columns, SessionColumns))
		for _, r := range t.Rows {
			sess, ok := DecodeSession(r)
			if !ok || sess.ID != id {
				continue
			}
			if err := fn(&sess); err != nil {
				return tabular.Table{}, err
			}
			overlay(r, EncodeSession(sess))
			return t, nil
		}
		return tabular.Table{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	})
}

func (s *Store) AppendLines(ctx context.Context, lines []internal.SampledLine) tabular.Result {
	rows := tabular.Table{Columns: DetailColumns, Rows: make([]tabular.Row, 0, len(lines))}
	for _, l := range lines {
		rows.Rows = append(rows.Rows, EncodeLine(l))
	}
	return s.adapter.Append(ctx, s.detailTable, rows)
}

// UpdateLines hands fn the current lines of one session and writes back the
// lines it returns, matched by article and location. Rows of other sessions
// and unknown columns are left untouched. fn may run more than once when
// another writer gets in between; ErrNoChange skips the write.
func (s *Store) UpdateLines(ctx context.Context, sessionID string, fn func([]internal.SampledLine) ([]internal.SampledLine, error)) tabular.Result {
	return s.adapter.Update(ctx, s.detailTable, func(cur tabular.Table) (tabular.Table, error) {
		t := tabular.Normalize(cur, tabular.UnionColumns(cur.Columns, DetailColumns))
		index := map[internal.LineKey]int{}
		var lines []internal.SampledLine
		for i, r := range t.Rows {
			sid, key := rowKey(r)
			if sid != sessionID {
				continue
			}
			if _, dup := index[key]; dup {
				continue
			}
			index[key] = i
			lines = append(lines, DecodeLine(r))
		}

		updated, err := fn(lines)
		if err != nil {
			return tabular.Table{}, err
		}
		for _, l := range updated {
			if i, ok := index[l.Key()]; ok {
				overlay(t.Rows[i], EncodeLine(l))
			}
		}
		return t, nil
	})
}
