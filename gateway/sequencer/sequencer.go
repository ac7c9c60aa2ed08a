// Package sequencer admits interactions: it assigns each one the next sort key
// of its contract and persists it, serialized per contract both inside the
// process and across gateway instances sharing the primary store.
package sequencer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/interaction-gateway/gateway/cache"
	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/ledger"
	"github.com/pushchain/interaction-gateway/gateway/locks"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/replica"
	"github.com/pushchain/interaction-gateway/gateway/sortkey"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// Reasons attached to CONFLICT errors under the "reason" context key.
const (
	ReasonDuplicate     = "duplicate"
	ReasonNonMonotonic  = "non_monotonic"
	conflictReasonField = "reason"
)

// maxTieWait bounds how long an admission waits for the wall clock to leave
// the millisecond of the contract's last key.
const maxTieWait = 50 * time.Millisecond

// Admission is one interaction waiting for its sort key.
type Admission struct {
	InteractionID string
	ContractID    string
	FunctionName  string
	Input         string
	Owner         string
	Raw           string

	// Block the interaction belongs to. Nil means "the current chain head",
	// read under the contract lock.
	Block *ledger.Block

	Source string

	// Bundle, when set, is queued for upload in the same transaction.
	Bundle *string
}

// Sequencer is safe for concurrent use.
type Sequencer struct {
	db       *gorm.DB
	mutexes  *locks.ContractMutexRegistry
	locker   *locks.AdvisoryLocker
	keys     *cache.LastSortKeys
	replicas replica.Writer
	metrics  metrics.GatewayMetrics
	secret   string
	now      func() time.Time
	logger   zerolog.Logger
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithClock replaces the wall clock used for sort keys.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// WithReplicas sets the writer invoked after each commit.
func WithReplicas(w replica.Writer) Option {
	return func(s *Sequencer) { s.replicas = w }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.GatewayMetrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// New creates a sequencer writing to db.
func New(
	db *gorm.DB,
	mutexes *locks.ContractMutexRegistry,
	locker *locks.AdvisoryLocker,
	keys *cache.LastSortKeys,
	processSecret string,
	logger zerolog.Logger,
	opts ...Option,
) *Sequencer {
	s := &Sequencer{
		db:      db,
		mutexes: mutexes,
		locker:  locker,
		keys:    keys,
		metrics: metrics.Noop(),
		secret:  processSecret,
		now:     time.Now,
		logger:  logger.With().Str("component", "sequencer").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sequence admits one interaction and returns the committed row.
func (s *Sequencer) Sequence(ctx context.Context, a Admission) (*store.Interaction, error) {
	if a.InteractionID == "" {
		return nil, gwerrors.NewValidationError("interaction id is required")
	}
	if a.ContractID == "" {
		return nil, gwerrors.NewValidationError("contract id is required").WithContext("interaction_id", a.InteractionID)
	}
	started := time.Now()

	release, err := s.mutexes.Acquire(ctx, a.ContractID)
	if err != nil {
		return nil, gwerrors.New(gwerrors.ErrCodeTimeout, "gave up waiting for contract lock", err).
			WithContext("contract_id", a.ContractID)
	}
	defer release()

	var created store.Interaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := s.locker.Acquire(tx, a.ContractID)
		if err != nil {
			return err
		}

		var known int64
		if err := tx.Model(&store.Interaction{}).Where("interaction_id = ?", a.InteractionID).Count(&known).Error; err != nil {
			return gwerrors.NewDatabaseError("failed to check interaction id", err)
		}
		if known > 0 {
			return gwerrors.NewConflictError("interaction already admitted").
				WithContext("interaction_id", a.InteractionID).
				WithContext(conflictReasonField, ReasonDuplicate)
		}

		block := ledger.Block{Height: state.BlockHeight, ID: state.BlockHash, Timestamp: state.BlockTimestamp}
		if a.Block != nil {
			block = *a.Block
		} else if block.ID == "" {
			return gwerrors.New(gwerrors.ErrCodeUpstream, "chain head not known yet", nil)
		}

		millis, err := s.admissionMillis(ctx, block.Height, state.LastSortKey)
		if err != nil {
			return err
		}
		key := sortkey.Next(block.Height, millis, block.ID, a.InteractionID, s.secret)
		if !sortkey.After(key, state.LastSortKey) {
			s.metrics.IncMonotonicityViolations()
			return gwerrors.NewConflictError("sort key does not advance past the contract's last sort key").
				WithContext("contract_id", a.ContractID).
				WithContext("sort_key", key).
				WithContext("last_sort_key", *state.LastSortKey).
				WithContext(conflictReasonField, ReasonNonMonotonic)
		}

		created = store.Interaction{
			InteractionID:      a.InteractionID,
			ContractID:         a.ContractID,
			SortKey:            key,
			PreviousSortKey:    state.LastSortKey,
			FunctionName:       a.FunctionName,
			Input:              a.Input,
			Interaction:        a.Raw,
			Owner:              a.Owner,
			BlockHeight:        block.Height,
			BlockID:            block.ID,
			BlockTimestamp:     block.Timestamp,
			ConfirmationStatus: store.StatusNotProcessed,
			Source:             a.Source,
			SyncTimestamp:      millis,
		}
		if err := tx.Create(&created).Error; err != nil {
			return gwerrors.NewDatabaseError("failed to insert interaction", err).
				WithContext("interaction_id", a.InteractionID)
		}

		if a.Bundle != nil {
			item := store.BundleItem{
				InteractionID: created.ID,
				State:         store.BundleStatePending,
				Transaction:   *a.Bundle,
			}
			if err := tx.Create(&item).Error; err != nil {
				return gwerrors.NewDatabaseError("failed to queue bundle item", err).
					WithContext("interaction_id", a.InteractionID)
			}
		}
		return nil
	})
	if err != nil {
		if gwerrors.HasCode(err, gwerrors.ErrCodeLockTimeout) {
			s.metrics.IncLockTimeouts()
		}
		event := s.logger.Warn()
		if gwerrors.HasCode(err, gwerrors.ErrCodeConflict) {
			event = s.logger.Debug()
		}
		event.Err(err).
			Str("contract_id", a.ContractID).
			Str("interaction_id", a.InteractionID).
			Msg("admission rolled back")
		return nil, gwerrors.WrapGatewayError(err, gwerrors.ErrCodeDatabase, "admission failed")
	}

	s.keys.Set(a.ContractID, created.SortKey)
	release()

	s.metrics.IncAdmittedInteractions(a.Source)
	s.metrics.ObserveAdmission(time.Since(started))
	s.logger.Info().
		Str("contract_id", created.ContractID).
		Str("interaction_id", created.InteractionID).
		Str("sort_key", created.SortKey).
		Str("source", created.Source).
		Msg("interaction admitted")

	if s.replicas != nil {
		s.replicas.Replicate(ctx, created)
	}
	return &created, nil
}

// admissionMillis reads the wall clock for a new key. When the contract's
// last key sits in the same block and millisecond, the digest alone would
// order the two keys, so it waits for the clock to move on.
func (s *Sequencer) admissionMillis(ctx context.Context, height int64, last *string) (int64, error) {
	millis := s.now().UnixMilli()
	if last == nil {
		return millis, nil
	}
	lastHeight, lastMillis, ok := sortkey.Prefix(*last)
	if !ok || lastHeight != height || millis != lastMillis {
		return millis, nil
	}

	ticker := time.NewTicker(100 * time.Microsecond)
	defer ticker.Stop()
	deadline := time.NewTimer(maxTieWait)
	defer deadline.Stop()
	for millis == lastMillis {
		select {
		case <-ctx.Done():
			return 0, gwerrors.New(gwerrors.ErrCodeTimeout, "gave up waiting for the clock to advance", ctx.Err())
		case <-deadline.C:
			// A stalled clock falls through to the monotonicity check.
			return millis, nil
		case <-ticker.C:
			millis = s.now().UnixMilli()
		}
	}
	return millis, nil
}

// LastSortKey returns the contract's last sort key, from cache when possible.
func (s *Sequencer) LastSortKey(ctx context.Context, contractID string) (*string, error) {
	return s.keys.GetOrLoad(contractID, func() (*string, error) {
		return locks.LoadLastSortKey(s.db.WithContext(ctx), contractID)
	})
}

// IsDuplicate reports whether err rejected an already admitted interaction.
func IsDuplicate(err error) bool {
	return conflictReason(err) == ReasonDuplicate
}

// IsNonMonotonic reports whether err rejected a sort key that did not advance.
func IsNonMonotonic(err error) bool {
	return conflictReason(err) == ReasonNonMonotonic
}

func conflictReason(err error) string {
	var gwErr *gwerrors.GatewayError
	if !gwerrors.As(err, &gwErr) || gwErr.Code != gwerrors.ErrCodeConflict {
		return ""
	}
	reason, _ := gwErr.Context[conflictReasonField].(string)
	return reason
}
