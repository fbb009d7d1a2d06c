package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// session is the per-call resource scope: the handle the command runs on,
// the connection acquired for it (if any), the timeout and the span. close
// releases all of them exactly once.
type session struct {
	m      *Mapper
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	op     string
	start  time.Time

	db   DB
	conn *sql.Conn // acquired here, released in close
	done bool
}

func (m *Mapper) open(ctx context.Context, db DB, cmd *Command, op string) (*session, error) {
	s := &session{m: m, op: op, start: time.Now(), cancel: func() {}}
	s.ctx, s.span = m.tel.start(ctx, op, cmd.SQL)
	if cmd.Timeout > 0 {
		s.ctx, s.cancel = context.WithTimeout(s.ctx, cmd.Timeout)
	}

	switch {
	case cmd.Tx != nil:
		s.db = cmd.Tx
	case db == nil:
		return nil, s.close(errors.New("sqlmap: nil database handle"))
	default:
		if c, ok := db.(Connector); ok {
			conn, err := c.Conn(s.ctx)
			if err != nil {
				return nil, s.close(err)
			}
			s.conn, s.db = conn, conn
		} else {
			s.db = db
		}
	}
	return s, nil
}

// close releases the connection, cancels the timeout and ends the span. err
// is the outcome of the call; the returned error adds any release failure.
func (s *session) close(err error) error {
	if s.done {
		return err
	}
	s.done = true
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			err = errors.Join(err, cerr)
		}
		s.conn = nil
	}
	s.cancel()
	s.m.tel.finish(s.ctx, s.span, s.op, s.start, err)
	return err
}

// preparer returns the handle as a Preparer when it supports statements.
func (s *session) preparer() (Preparer, bool) {
	p, ok := s.db.(Preparer)
	return p, ok
}
