package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propdesk/brokerage_backend/config"
)

// brokerFlagLock serializes flag leveling per broker across instances using
// a MySQL advisory lock. Advisory locks are not transactional, so the lock
// lives on its own pooled connection instead of the flagging transaction's
// session: a RELEASE_LOCK issued inside the transaction would run before
// COMMIT, and in that window a concurrent flagging could count active flags
// without seeing the still-uncommitted insert and compute the same level.
// Callers defer release at function scope, after the transaction commits.
type brokerFlagLock struct {
	conn     *sql.Conn
	lockName string
}

func acquireBrokerFlagLock(ctx context.Context, brokerId int) (*brokerFlagLock, error) {
	sqlDB, err := config.GetDB().DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}
	lockName := fmt.Sprintf("brokerflag:%d", brokerId)
	var ok int
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 30)", lockName).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if ok != 1 {
		_ = conn.Close()
		return nil, fmt.Errorf("could not acquire flag lock for broker_id=%d", brokerId)
	}
	return &brokerFlagLock{conn: conn, lockName: lockName}, nil
}

// release drops the advisory lock and returns the connection to the pool.
// Detached from the request context: the lock must be dropped even when the
// caller's context is already cancelled.
func (l *brokerFlagLock) release() {
	if l == nil || l.conn == nil {
		return
	}
	var released int
	_ = l.conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", l.lockName).Scan(&released)
	_ = l.conn.Close()
	l.conn = nil
}
