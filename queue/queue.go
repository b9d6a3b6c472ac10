// Package queue is the asynchronous work bus between the inbox dispatcher,
// the activity handlers and their follow-up jobs. Items are persisted in
// sqlite and delivered at least once; handlers are expected to be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/h-a-s-h/kbin/db"
)

// Work item kinds. Handlers are bound to kinds by explicit registration at
// process start, never by discovery.
const (
	KindInboundActivity = "activity.inbound"
	KindEntryEmbed      = "entry.embed"
	KindDeliver         = "activity.deliver"
)

// Handler executes one leased work item. Returning an error wrapped with
// Unrecoverable dead-letters the item; any other error schedules a retry
// with backoff.
type Handler func(ctx context.Context, payload []byte) error

type Config struct {
	Workers     int
	BatchSize   int
	Interval    time.Duration
	Visibility  time.Duration
	MaxAttempts int
}

// Bus polls the durable queue and fans leased items out to workers.
type Bus struct {
	db       *db.DB
	log      zerolog.Logger
	cfg      Config
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(database *db.DB, cfg Config, log zerolog.Logger) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Bus{
		db:       database,
		log:      log,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a work item kind. Registering a kind twice is
// a programming error.
func (b *Bus) Register(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[kind]; dup {
		panic(fmt.Sprintf("queue: duplicate handler for kind %q", kind))
	}
	b.handlers[kind] = h
}

// Enqueue marshals payload and appends it to the durable queue. Payloads
// carry identifiers only; entities are re-fetched at execution time.
func (b *Bus) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal work payload: %w", err)
	}
	if _, err := b.db.EnqueueWork(kind, raw); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", kind, err)
	}
	b.log.Debug().Str("kind", kind).Msg("work enqueued")
	return nil
}

// Run polls until ctx is canceled.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Info().
		Int("workers", b.cfg.Workers).
		Dur("interval", b.cfg.Interval).
		Msg("work queue starting")

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("work queue stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := b.processOnce(ctx); err != nil {
				b.log.Error().Err(err).Msg("queue poll failed")
			}
		}
	}
}

// DrainPending processes batches until nothing is ready or ctx ends. Used
// by one-shot commands that have no long-running poll loop. Items waiting
// on a retry backoff are left for a later run.
func (b *Bus) DrainPending(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		items, err := b.db.LeaseWork(b.cfg.BatchSize, b.cfg.Visibility)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		b.executeBatch(ctx, items)
	}
}

// processOnce leases one batch and executes it across the worker pool.
func (b *Bus) processOnce(ctx context.Context) error {
	items, err := b.db.LeaseWork(b.cfg.BatchSize, b.cfg.Visibility)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	b.executeBatch(ctx, items)
	return nil
}

func (b *Bus) executeBatch(ctx context.Context, items []db.WorkItem) {
	sem := make(chan struct{}, b.cfg.Workers)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item db.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			b.execute(ctx, item)
		}(item)
	}
	wg.Wait()
}

func (b *Bus) execute(ctx context.Context, item db.WorkItem) {
	b.mu.RLock()
	handler, ok := b.handlers[item.Kind]
	b.mu.RUnlock()
	if !ok {
		b.log.Error().Str("kind", item.Kind).Msg("no handler registered, dead-lettering")
		b.fail(item, fmt.Errorf("no handler for kind %s", item.Kind), true)
		return
	}

	err := handler(ctx, item.Payload)
	if err == nil {
		if err := b.db.CompleteWork(item.Id); err != nil {
			b.log.Error().Err(err).Str("id", item.Id.String()).Msg("failed to complete work item")
		}
		return
	}

	b.fail(item, err, IsUnrecoverable(err))
}

func (b *Bus) fail(item db.WorkItem, cause error, unrecoverable bool) {
	attempts := item.Attempts + 1

	if unrecoverable || attempts >= b.cfg.MaxAttempts {
		b.log.Warn().
			Err(cause).
			Str("kind", item.Kind).
			Str("id", item.Id.String()).
			Int("attempts", attempts).
			Bool("unrecoverable", unrecoverable).
			Msg("work item dead-lettered")
		if err := b.db.DeadLetterWork(item.Id, cause.Error()); err != nil {
			b.log.Error().Err(err).Str("id", item.Id.String()).Msg("failed to dead-letter work item")
		}
		return
	}

	backoff := backoffFor(attempts)
	b.log.Debug().
		Err(cause).
		Str("kind", item.Kind).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Msg("work item failed, retrying")
	if err := b.db.RetryWork(item.Id, attempts, backoff, cause.Error()); err != nil {
		b.log.Error().Err(err).Str("id", item.Id.String()).Msg("failed to reschedule work item")
	}
}

// backoffFor doubles per attempt, capped at five minutes.
func backoffFor(attempts int) time.Duration {
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks an error as permanent: the work item is dead-lettered
// instead of retried, because retrying would fail the same way again.
func Unrecoverable(err error) error {
	return &unrecoverableError{err: err}
}

func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
