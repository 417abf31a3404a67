package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Lease — session-level advisory lock PostgreSQL.
//
// Lock живёт, пока открыто соединение, поэтому Lease держит своё
// соединение из пула. Потеря соединения — потеря лидерства.
type Lease struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewLease создаёт Lease для ключа key.
func NewLease(pool *pgxpool.Pool, key int64) *Lease {
	return &Lease{pool: pool, key: key}
}

// Held пытается взять lock (или подтвердить, что он ещё наш).
// Ошибки трактуются как отсутствие лидерства.
func (l *Lease) Held(ctx context.Context) bool {
	ok, err := l.TryAcquire(ctx)
	return err == nil && ok
}

// TryAcquire берёт lock без ожидания.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Соединение умерло вместе с lock'ом
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release отпускает lock.
func (l *Lease) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key)
	l.conn.Release()
	l.conn = nil
}
