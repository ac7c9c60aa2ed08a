package cron

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"time"

	"gorm.io/gorm"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
)

const globalUnlockTimeout = 5 * time.Second

// GlobalLocker grants a named lock held by one database session.
type GlobalLocker interface {
	TryLockSession(ctx context.Context, conn *sql.Conn, name string) (bool, error)
	UnlockSession(ctx context.Context, conn *sql.Conn, name string) error
}

// withGlobalLock runs fn only if this process wins the named lock, so that a
// job runs on one gateway at a time. The lock is held on a dedicated
// connection while fn works through the pool, so no transaction stays open
// across fn's network calls. SQLite has a single writer and no advisory
// locks, so there fn runs directly.
func withGlobalLock(ctx context.Context, db *gorm.DB, locker GlobalLocker, name string, fn func(db *gorm.DB) error) (bool, error) {
	if db.Dialector.Name() != "postgres" {
		return true, fn(db.WithContext(ctx))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false, gwerrors.NewDatabaseError("failed to get underlying sql.DB", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return false, gwerrors.NewDatabaseError("failed to reserve lock connection", err).WithContext("lock", name)
	}
	defer conn.Close()

	held, err := locker.TryLockSession(ctx, conn, name)
	if err != nil || !held {
		return false, err
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), globalUnlockTimeout)
		defer cancel()
		if locker.UnlockSession(unlockCtx, conn, name) != nil {
			// Never hand a session still holding the lock back to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	if err := fn(db.WithContext(ctx)); err != nil {
		return true, gwerrors.WrapGatewayError(err, gwerrors.ErrCodeDatabase, "global job failed").WithContext("lock", name)
	}
	return true, nil
}
