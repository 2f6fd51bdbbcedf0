package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// PGLocker uses session-level advisory locks. Each lock pins its own
// connection so unlock runs on the session that locked.
type PGLocker struct {
	db *sql.DB
}

func NewPGLocker(db *sql.DB) *PGLocker { return &PGLocker{db: db} }

func (p *PGLocker) NewLock(key string) Lock {
	return &PGAdvisoryLock{db: p.db, id: LockID(key)}
}

// LockID derives the advisory key from a name.
func LockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

type PGAdvisoryLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok); err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.id, err)
	}
	if !ok {
		_ = conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		_ = l.conn.Close()
		l.conn = nil
	}()
	if _, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.id, err)
	}
	return nil
}
