package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h-a-s-h/kbin/db"
)

func testBus(t *testing.T) (*Bus, *db.DB) {
	t.Helper()
	database, err := db.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { database.Close() })

	bus := New(database, Config{Workers: 2, MaxAttempts: 3}, zerolog.Nop())
	return bus, database
}

func TestSuccessfulItemIsRemoved(t *testing.T) {
	bus, database := testBus(t)

	var calls atomic.Int32
	bus.Register("test.ok", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, bus.Enqueue(context.Background(), "test.ok", map[string]int{"n": 1}))
	require.NoError(t, bus.DrainPending(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
	pending, err := database.CountWorkByStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestFailedItemIsRescheduledWithBackoff(t *testing.T) {
	bus, database := testBus(t)

	var calls atomic.Int32
	bus.Register("test.flaky", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return errors.New("remote hiccup")
	})

	require.NoError(t, bus.Enqueue(context.Background(), "test.flaky", struct{}{}))
	require.NoError(t, bus.DrainPending(context.Background()))

	// One attempt, then parked behind its backoff; still pending, not dead.
	assert.Equal(t, int32(1), calls.Load())
	pending, err := database.CountWorkByStatus("pending")
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	dead, err := database.CountWorkByStatus("dead")
	require.NoError(t, err)
	assert.Equal(t, 0, dead)
}

func TestUnrecoverableErrorDeadLettersImmediately(t *testing.T) {
	bus, database := testBus(t)

	var calls atomic.Int32
	bus.Register("test.doomed", func(ctx context.Context, payload []byte) error {
		calls.Add(1)
		return Unrecoverable(errors.New("object does not exist"))
	})

	require.NoError(t, bus.Enqueue(context.Background(), "test.doomed", struct{}{}))
	require.NoError(t, bus.DrainPending(context.Background()))

	assert.Equal(t, int32(1), calls.Load(), "no retry after an unrecoverable error")
	dead, err := database.CountWorkByStatus("dead")
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestMaxAttemptsDeadLetters(t *testing.T) {
	bus, database := testBus(t)

	bus.Register("test.always-fails", func(ctx context.Context, payload []byte) error {
		return errors.New("never works")
	})

	id, err := database.EnqueueWork("test.always-fails", []byte(`{}`))
	require.NoError(t, err)

	// Fast-forward past the backoff between attempts.
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.DrainPending(context.Background()))
		require.NoError(t, database.RetryWork(id, i+1, 0, "never works"))
	}
	require.NoError(t, bus.DrainPending(context.Background()))

	dead, err := database.CountWorkByStatus("dead")
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestUnknownKindDeadLetters(t *testing.T) {
	bus, database := testBus(t)

	_, err := database.EnqueueWork("test.nobody-home", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, bus.DrainPending(context.Background()))

	dead, err := database.CountWorkByStatus("dead")
	require.NoError(t, err)
	assert.Equal(t, 1, dead)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	bus, _ := testBus(t)
	bus.Register("test.once", func(ctx context.Context, payload []byte) error { return nil })
	assert.Panics(t, func() {
		bus.Register("test.once", func(ctx context.Context, payload []byte) error { return nil })
	})
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffFor(1))
	assert.Equal(t, 4*time.Second, backoffFor(2))
	assert.Equal(t, 32*time.Second, backoffFor(5))
	assert.Equal(t, 5*time.Minute, backoffFor(20))
}

func TestUnrecoverableSurvivesWrapping(t *testing.T) {
	base := errors.New("gone")
	wrapped := Unrecoverable(base)
	assert.True(t, IsUnrecoverable(wrapped))
	assert.True(t, IsUnrecoverable(errors.Join(errors.New("context"), wrapped)))
	assert.False(t, IsUnrecoverable(base))
	assert.True(t, errors.Is(wrapped, base))
}
