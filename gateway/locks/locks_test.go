package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushchain/interaction-gateway/gateway/db"
	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/sortkey"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestContractMutexRegistry(t *testing.T) {
	t.Run("serializes one contract", func(t *testing.T) {
		reg := NewContractMutexRegistry()
		var inside, maxInside int32
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := reg.Acquire(context.Background(), "contract-a")
				if !assert.NoError(t, err) {
					return
				}
				defer release()

				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxInside)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("contracts are independent", func(t *testing.T) {
		reg := NewContractMutexRegistry()
		releaseA, err := reg.Acquire(context.Background(), "a")
		require.NoError(t, err)
		defer releaseA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		releaseB, err := reg.Acquire(ctx, "b")
		require.NoError(t, err)
		releaseB()
		assert.Equal(t, 2, reg.Len())
	})

	t.Run("cancelled wait", func(t *testing.T) {
		reg := NewContractMutexRegistry()
		release, err := reg.Acquire(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = reg.Acquire(ctx, "a")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		release()
		release() // second call is a no-op

		again, err := reg.Acquire(context.Background(), "a")
		require.NoError(t, err)
		again()
	})
}

func TestAdvisoryLocker_Postgres(t *testing.T) {
	a, b := sortkey.LockToken("contract-1")

	t.Run("acquire sets timeout and reads state under lock", func(t *testing.T) {
		gdb, mock := newMockPostgres(t)
		locker := NewAdvisoryLocker(5*time.Second, zerolog.Nop())

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout = '5000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(a, b).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`MAX\(sort_key\)`).WithArgs("contract-1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow("000000000007,1,aa"))
		mock.ExpectQuery(`network_states`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "height", "current_block_id", "block_timestamp"}).
				AddRow(1, 1200, "block-1200", 1700000000))
		mock.ExpectCommit()

		var state LockedState
		err := gdb.Transaction(func(tx *gorm.DB) error {
			var err error
			state, err = locker.Acquire(tx, "contract-1")
			return err
		})
		require.NoError(t, err)
		require.NotNil(t, state.LastSortKey)
		assert.Equal(t, "000000000007,1,aa", *state.LastSortKey)
		assert.Equal(t, int64(1200), state.BlockHeight)
		assert.Equal(t, "block-1200", state.BlockHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock timeout rolls back", func(t *testing.T) {
		gdb, mock := newMockPostgres(t)
		locker := NewAdvisoryLocker(50*time.Millisecond, zerolog.Nop())

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout = '50ms'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`pg_advisory_xact_lock`).WithArgs(a, b).
			WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
		mock.ExpectRollback()

		err := gdb.Transaction(func(tx *gorm.DB) error {
			_, err := locker.Acquire(tx, "contract-1")
			return err
		})
		require.Error(t, err)
		assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeLockTimeout))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other lock failure is a database error", func(t *testing.T) {
		gdb, mock := newMockPostgres(t)
		locker := NewAdvisoryLocker(time.Second, zerolog.Nop())

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnError(assert.AnError)
		mock.ExpectRollback()

		err := gdb.Transaction(func(tx *gorm.DB) error {
			_, err := locker.Acquire(tx, "contract-1")
			return err
		})
		assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeDatabase))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session lock does not wait", func(t *testing.T) {
		gdb, mock := newMockPostgres(t)
		locker := NewAdvisoryLocker(time.Second, zerolog.Nop())
		ga, gb := sortkey.LockToken(GlobalLockNetworkInfo)

		mock.ExpectQuery(`pg_try_advisory_lock`).WithArgs(ga, gb).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		conn, err := sqlDB.Conn(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		held, err := locker.TryLockSession(context.Background(), conn, GlobalLockNetworkInfo)
		require.NoError(t, err)
		assert.False(t, held)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session lock released on the same connection", func(t *testing.T) {
		gdb, mock := newMockPostgres(t)
		locker := NewAdvisoryLocker(time.Second, zerolog.Nop())
		ga, gb := sortkey.LockToken(GlobalLockSync)

		mock.ExpectQuery(`pg_try_advisory_lock`).WithArgs(ga, gb).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
		mock.ExpectQuery(`pg_advisory_unlock`).WithArgs(ga, gb).
			WillReturnError(assert.AnError)

		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		conn, err := sqlDB.Conn(context.Background())
		require.NoError(t, err)
		defer conn.Close()

		held, err := locker.TryLockSession(context.Background(), conn, GlobalLockSync)
		require.NoError(t, err)
		assert.True(t, held)

		err = locker.UnlockSession(context.Background(), conn, GlobalLockSync)
		assert.True(t, gwerrors.HasCode(err, gwerrors.ErrCodeDatabase))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAdvisoryLocker_SQLite(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()
	gdb := database.Client()

	locker := NewAdvisoryLocker(time.Second, zerolog.Nop())

	last, err := locker.LoadLastSortKey(gdb, "c1")
	require.NoError(t, err)
	assert.Nil(t, last)

	for i, key := range []string{"000000000001,5,aa", "000000000002,1,bb", "000000000001,9,cc"} {
		require.NoError(t, gdb.Create(&store.Interaction{
			InteractionID:      "tx-" + key,
			ContractID:         "c1",
			SortKey:            key,
			BlockHeight:        int64(i),
			ConfirmationStatus: store.StatusNotProcessed,
		}).Error)
	}
	require.NoError(t, gdb.Create(&store.NetworkState{ID: store.SingletonID, Height: 99, CurrentBlockID: "blk"}).Error)

	err = gdb.Transaction(func(tx *gorm.DB) error {
		state, err := locker.Acquire(tx, "c1")
		require.NoError(t, err)
		require.NotNil(t, state.LastSortKey)
		assert.Equal(t, "000000000002,1,bb", *state.LastSortKey)
		assert.Equal(t, int64(99), state.BlockHeight)
		return nil
	})
	require.NoError(t, err)
}
