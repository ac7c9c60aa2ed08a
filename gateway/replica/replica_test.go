package replica

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/interaction-gateway/gateway/db"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []FailureEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event FailureEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, event FailureEvent) {
	m.Called(ctx, event)
}

func openDB(t *testing.T, migrate bool) *db.DB {
	d, err := db.OpenInMemoryDB(migrate)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleInteraction() store.Interaction {
	return store.Interaction{
		ID:                 7,
		InteractionID:      "tx-1",
		ContractID:         "c1",
		SortKey:            "000000000010,1,aa",
		BlockHeight:        10,
		ConfirmationStatus: store.StatusNotProcessed,
		Source:             store.SourceGateway,
	}
}

func TestReplicate(t *testing.T) {
	primary := openDB(t, true)
	healthy := openDB(t, true)
	broken := openDB(t, false) // no tables: every insert fails

	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(e FailureEvent) bool {
		return e.Replica == "broken" && e.InteractionID == "tx-1" && e.Attempts == 3 && e.Err != nil
	})).Return().Once()

	w := New(primary.Client(), []Secondary{
		{Name: "healthy", DB: healthy.Client()},
		{Name: "broken", DB: broken.Client()},
	}, Config{MaxAttempts: 3, RetryDelay: time.Millisecond}, notifier, nil, zerolog.Nop())

	w.Replicate(context.Background(), sampleInteraction())

	var copied store.Interaction
	require.NoError(t, healthy.Client().Where("interaction_id = ?", "tx-1").First(&copied).Error)
	assert.Equal(t, uint(7), copied.ID)
	assert.Equal(t, "000000000010,1,aa", copied.SortKey)

	var failures []store.ReplicaFailure
	require.NoError(t, primary.Client().Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, "broken", failures[0].Replica)
	assert.Equal(t, "tx-1", failures[0].InteractionID)
	assert.Equal(t, 3, failures[0].Attempts)

	notifier.AssertExpectations(t)
}

func TestReplicateIsIdempotent(t *testing.T) {
	primary := openDB(t, true)
	secondary := openDB(t, true)
	notifier := &recordingNotifier{}

	w := New(primary.Client(), []Secondary{{Name: "s", DB: secondary.Client()}},
		Config{MaxAttempts: 2, RetryDelay: time.Millisecond}, notifier, nil, zerolog.Nop())

	w.Replicate(context.Background(), sampleInteraction())
	w.Replicate(context.Background(), sampleInteraction())

	var count int64
	require.NoError(t, secondary.Client().Model(&store.Interaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Empty(t, notifier.events)
}

func TestReplicateSurvivesCancelledContext(t *testing.T) {
	primary := openDB(t, true)
	secondary := openDB(t, true)

	w := New(primary.Client(), []Secondary{{Name: "s", DB: secondary.Client()}},
		Config{MaxAttempts: 1}, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Replicate(ctx, sampleInteraction())

	var count int64
	require.NoError(t, secondary.Client().Model(&store.Interaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestQueue(t *testing.T) {
	t.Run("callers never wait on a failing secondary", func(t *testing.T) {
		primary := openDB(t, true)
		broken := openDB(t, false)
		notifier := &recordingNotifier{}

		w := New(primary.Client(), []Secondary{{Name: "broken", DB: broken.Client()}},
			Config{MaxAttempts: 3, RetryDelay: 200 * time.Millisecond}, notifier, nil, zerolog.Nop())
		q := NewQueue(w, QueueConfig{Size: 10, Workers: 1}, zerolog.Nop())

		started := time.Now()
		q.Replicate(context.Background(), sampleInteraction())
		assert.Less(t, time.Since(started), 100*time.Millisecond)

		q.Stop()
		var failures []store.ReplicaFailure
		require.NoError(t, primary.Client().Find(&failures).Error)
		require.Len(t, failures, 1, "stop drains queued work")
		assert.Equal(t, 3, failures[0].Attempts)
	})

	t.Run("full queue records the interaction as failed", func(t *testing.T) {
		primary := openDB(t, true)
		broken := openDB(t, false)
		notifier := &recordingNotifier{}

		w := New(primary.Client(), []Secondary{{Name: "broken", DB: broken.Client()}},
			Config{MaxAttempts: 3, RetryDelay: 200 * time.Millisecond}, notifier, nil, zerolog.Nop())
		q := NewQueue(w, QueueConfig{Size: 1, Workers: 1}, zerolog.Nop())

		for i := 0; i < 3; i++ {
			in := sampleInteraction()
			in.InteractionID = fmt.Sprintf("tx-%d", i)
			q.Replicate(context.Background(), in)
		}

		var dropped int64
		require.NoError(t, primary.Client().Model(&store.ReplicaFailure{}).Where("attempts = ?", 0).Count(&dropped).Error)
		assert.GreaterOrEqual(t, dropped, int64(1))

		q.Stop()
		var total int64
		require.NoError(t, primary.Client().Model(&store.ReplicaFailure{}).Count(&total).Error)
		assert.Equal(t, int64(3), total, "every interaction is either retried or recorded")

		q.Replicate(context.Background(), sampleInteraction())
		require.NoError(t, primary.Client().Model(&store.ReplicaFailure{}).Count(&total).Error)
		assert.Equal(t, int64(4), total, "work after stop is recorded, not lost")
	})

	t.Run("healthy secondary receives the copy", func(t *testing.T) {
		primary := openDB(t, true)
		secondary := openDB(t, true)

		w := New(primary.Client(), []Secondary{{Name: "s", DB: secondary.Client()}},
			Config{MaxAttempts: 1}, nil, nil, zerolog.Nop())
		q := NewQueue(w, QueueConfig{}, zerolog.Nop())
		q.Replicate(context.Background(), sampleInteraction())
		q.Stop()

		var count int64
		require.NoError(t, secondary.Client().Model(&store.Interaction{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}
