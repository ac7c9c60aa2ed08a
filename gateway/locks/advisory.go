// Package locks provides the two levels of mutual exclusion used when
// sequencing interactions: an in-process per-contract lock and a
// transaction-scoped advisory lock in the primary store, plus session-level
// global locks that keep periodic jobs on one gateway.
package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/sortkey"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// Global lock names used with TryLockSession.
const (
	GlobalLockNetworkInfo = "gateway:network-info"
	GlobalLockSync        = "gateway:sync"
)

// postgres SQLSTATE for lock_not_available, raised when lock_timeout elapses.
const pgLockNotAvailable = "55P03"

// LockedState is what the sequencer learns once the contract lock is held.
type LockedState struct {
	LastSortKey    *string
	BlockHeight    int64
	BlockHash      string
	BlockTimestamp int64
}

// AdvisoryLocker takes transaction-scoped advisory locks. There is no unlock:
// postgres drops the lock when the transaction commits or rolls back.
// On SQLite, which serializes all writers, locking is a no-op.
type AdvisoryLocker struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAdvisoryLocker creates a locker that waits at most timeout for a lock.
func NewAdvisoryLocker(timeout time.Duration, logger zerolog.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{
		timeout: timeout,
		logger:  logger.With().Str("component", "advisory_lock").Logger(),
	}
}

// Acquire blocks until the contract's lock is held by tx, then reads the
// authoritative last sort key and the cached chain head.
func (l *AdvisoryLocker) Acquire(tx *gorm.DB, contractID string) (LockedState, error) {
	if isPostgres(tx) {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.timeout.Milliseconds())).Error; err != nil {
			return LockedState{}, gwerrors.NewDatabaseError("failed to set lock timeout", err)
		}
		a, b := sortkey.LockToken(contractID)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", a, b).Error; err != nil {
			if isLockTimeout(err) {
				l.logger.Warn().Str("contract_id", contractID).Dur("timeout", l.timeout).Msg("advisory lock wait timed out")
				return LockedState{}, gwerrors.NewLockTimeoutError("timed out waiting for contract lock", err).
					WithContext("contract_id", contractID)
			}
			return LockedState{}, gwerrors.NewDatabaseError("failed to acquire contract lock", err)
		}
	}

	last, err := l.LoadLastSortKey(tx, contractID)
	if err != nil {
		return LockedState{}, err
	}

	var head store.NetworkState
	if err := tx.Where("id = ?", store.SingletonID).Limit(1).Find(&head).Error; err != nil {
		return LockedState{}, gwerrors.NewDatabaseError("failed to read chain head", err)
	}

	return LockedState{
		LastSortKey:    last,
		BlockHeight:    head.Height,
		BlockHash:      head.CurrentBlockID,
		BlockTimestamp: head.BlockTimestamp,
	}, nil
}

// TryLockSession attempts a global named lock on conn without waiting. The
// lock belongs to the session, not to a transaction, and is held until
// UnlockSession or until the connection goes away.
func (l *AdvisoryLocker) TryLockSession(ctx context.Context, conn *sql.Conn, name string) (bool, error) {
	a, b := sortkey.LockToken(name)
	var held bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1, $2)", a, b).Scan(&held); err != nil {
		return false, gwerrors.NewDatabaseError("failed to try global lock", err).WithContext("lock", name)
	}
	return held, nil
}

// UnlockSession releases a lock taken with TryLockSession on the same conn.
func (l *AdvisoryLocker) UnlockSession(ctx context.Context, conn *sql.Conn, name string) error {
	a, b := sortkey.LockToken(name)
	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1, $2)", a, b).Scan(&released); err != nil {
		return gwerrors.NewDatabaseError("failed to release global lock", err).WithContext("lock", name)
	}
	if !released {
		l.logger.Warn().Str("lock", name).Msg("global lock was not held at release")
	}
	return nil
}

// LoadLastSortKey returns the greatest stored sort key of a contract, nil if
// the contract has no interactions.
func (l *AdvisoryLocker) LoadLastSortKey(tx *gorm.DB, contractID string) (*string, error) {
	return LoadLastSortKey(tx, contractID)
}

// LoadLastSortKey reads the contract's max sort key with the given handle.
func LoadLastSortKey(tx *gorm.DB, contractID string) (*string, error) {
	var last sql.NullString
	err := tx.Model(&store.Interaction{}).
		Select("MAX(sort_key)").
		Where("contract_id = ?", contractID).
		Row().
		Scan(&last)
	if err != nil {
		return nil, gwerrors.NewDatabaseError("failed to load last sort key", err).WithContext("contract_id", contractID)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.String, nil
}

func isPostgres(tx *gorm.DB) bool {
	return tx.Dialector.Name() == "postgres"
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
