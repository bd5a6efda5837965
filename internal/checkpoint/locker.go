package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when lock acquisition exceeds its deadline.
var ErrLockTimeout = errors.New("checkpoint: lock acquisition timeout")

// Locker serializes turns per conversation. The orchestrator holds the lock
// across load, run, and save.
type Locker interface {
	Lock(ctx context.Context, conversationID string) error
	Unlock(conversationID string)
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu      sync.Mutex
	held    map[string]chan struct{}
	timeout time.Duration
}

// NewLocalLocker creates a LocalLocker. Timeout defaults to 30 seconds.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LocalLocker{
		held:    make(map[string]chan struct{}),
		timeout: timeout,
	}
}

// Lock blocks until the conversation lock is free, the context is done, or
// the acquire timeout passes.
func (l *LocalLocker) Lock(ctx context.Context, conversationID string) error {
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		released, taken := l.held[conversationID]
		if !taken {
			l.held[conversationID] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrLockTimeout
		}
	}
}

// Unlock releases the lock and wakes waiters. Unlocking an unheld lock is a
// no-op.
func (l *LocalLocker) Unlock(conversationID string) {
	l.mu.Lock()
	released, taken := l.held[conversationID]
	if taken {
		delete(l.held, conversationID)
	}
	l.mu.Unlock()
	if taken {
		close(released)
	}
}

// DBLockerConfig configures the database-backed lease lock.
type DBLockerConfig struct {
	OwnerID        string
	TTL            time.Duration
	AcquireTimeout time.Duration
	PollInterval   time.Duration
}

// DBLocker is a Locker backed by a lease row in Postgres, for multi-instance
// deployments. Stale leases are stolen once their TTL passes, so a crashed
// holder cannot wedge a conversation.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig
}

// NewDBLocker creates a lease locker on the given connection.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if strings.TrimSpace(cfg.OwnerID) == "" {
		return nil, errors.New("owner id is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &DBLocker{db: db, config: cfg}, nil
}

func (l *DBLocker) Lock(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation_id is required")
	}
	deadline := time.Now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.tryAcquire(ctx, conversationID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

func (l *DBLocker) tryAcquire(ctx context.Context, conversationID string) (bool, error) {
	now := time.Now()
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO conversation_locks (conversation_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE conversation_locks.expires_at < $3 OR conversation_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, conversationID, l.config.OwnerID, now, now.Add(l.config.TTL)).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

// Unlock releases the lease. Failures are best-effort; the lease expires via
// TTL.
func (l *DBLocker) Unlock(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = l.db.ExecContext(ctx, `
		DELETE FROM conversation_locks
		WHERE conversation_id = $1 AND owner_id = $2
	`, conversationID, l.config.OwnerID)
}
