// Package replica copies committed interactions to secondary stores. The
// primary commit is authoritative: a secondary that keeps failing is logged,
// recorded and reported, never surfaced to the caller. Queue moves the work
// off the admission path.
package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gwerrors "github.com/pushchain/interaction-gateway/gateway/errors"
	"github.com/pushchain/interaction-gateway/gateway/metrics"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

// Writer replicates one committed interaction.
type Writer interface {
	Replicate(ctx context.Context, interaction store.Interaction)
}

// FailureEvent describes a secondary write that exhausted its retries.
type FailureEvent struct {
	Replica       string
	InteractionID string
	ContractID    string
	SortKey       string
	Attempts      int
	Err           error
	At            time.Time
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event FailureEvent)
}

// LogNotifier reports failures at error level.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "replica_notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, event FailureEvent) {
	n.logger.Error().
		Err(event.Err).
		Str("replica", event.Replica).
		Str("interaction_id", event.InteractionID).
		Str("contract_id", event.ContractID).
		Str("sort_key", event.SortKey).
		Int("attempts", event.Attempts).
		Msg("replica write failed")
}

// Secondary is a named replica store.
type Secondary struct {
	Name string
	DB   *gorm.DB
}

// Config bounds the retries of each secondary write.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// ReplicaWriter writes to every secondary concurrently, each with its own
// bounded retries.
type ReplicaWriter struct {
	primary     *gorm.DB
	secondaries []Secondary
	cfg         Config
	notifier    Notifier
	metrics     metrics.GatewayMetrics
	logger      zerolog.Logger
}

// New creates a replica writer. Failures are recorded in primary.
func New(primary *gorm.DB, secondaries []Secondary, cfg Config, notifier Notifier, m metrics.GatewayMetrics, logger zerolog.Logger) *ReplicaWriter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	logger = logger.With().Str("component", "replica_writer").Logger()
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &ReplicaWriter{
		primary:     primary,
		secondaries: secondaries,
		cfg:         cfg,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
	}
}

// Replicate blocks until every secondary succeeded or gave up. It outlives
// cancellation of ctx so a finished primary commit is always followed through.
func (w *ReplicaWriter) Replicate(ctx context.Context, interaction store.Interaction) {
	if len(w.secondaries) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, sec := range w.secondaries {
		g.Go(func() error {
			w.replicateOne(ctx, sec, interaction)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *ReplicaWriter) replicateOne(ctx context.Context, sec Secondary, interaction store.Interaction) {
	retryCfg := &gwerrors.RetryConfig{
		MaxAttempts:  w.cfg.MaxAttempts,
		InitialDelay: w.cfg.RetryDelay,
		MaxDelay:     w.cfg.RetryDelay * 8,
		Multiplier:   2.0,
		RetryAll:     true,
	}

	attempts := 0
	err := gwerrors.RetryWithConfig(ctx, func() error {
		attempts++
		row := interaction
		return sec.DB.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row).Error
	}, retryCfg)
	if err == nil {
		w.logger.Debug().
			Str("replica", sec.Name).
			Str("interaction_id", interaction.InteractionID).
			Int("attempts", attempts).
			Msg("interaction replicated")
		return
	}

	w.recordFailure(ctx, sec.Name, interaction, attempts, err)
}

// recordFailures gives up on interaction for every secondary.
func (w *ReplicaWriter) recordFailures(ctx context.Context, interaction store.Interaction, attempts int, err error) {
	for _, sec := range w.secondaries {
		w.recordFailure(ctx, sec.Name, interaction, attempts, err)
	}
}

func (w *ReplicaWriter) recordFailure(ctx context.Context, replica string, interaction store.Interaction, attempts int, err error) {
	event := FailureEvent{
		Replica:       replica,
		InteractionID: interaction.InteractionID,
		ContractID:    interaction.ContractID,
		SortKey:       interaction.SortKey,
		Attempts:      attempts,
		Err:           err,
		At:            time.Now(),
	}
	w.metrics.IncReplicaFailures(replica)

	failure := store.ReplicaFailure{
		Replica:       replica,
		InteractionID: interaction.InteractionID,
		Attempts:      attempts,
		ErrorMsg:      fmt.Sprintf("%v", err),
	}
	if dbErr := w.primary.WithContext(ctx).Create(&failure).Error; dbErr != nil {
		w.logger.Error().Err(dbErr).Str("replica", replica).Msg("failed to record replica failure")
	}
	w.notifier.Notify(ctx, event)
}
