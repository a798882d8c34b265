package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"triage/internal/logging"
)

// Bus carries publish events between processes serving the same results.
// Listen calls subscribed after every successful subscription, including
// reconnects; events sent while disconnected are not redelivered.
type Bus interface {
	Notify(ctx context.Context, ev Event) error
	Listen(ctx context.Context, subscribed func(context.Context), handle func(Event)) error
}

// LocalBus is used when only one process serves results.
type LocalBus struct{}

func (LocalBus) Notify(context.Context, Event) error { return nil }

// Listen blocks until ctx is done.
func (LocalBus) Listen(ctx context.Context, _ func(context.Context), _ func(Event)) error {
	<-ctx.Done()
	return nil
}

// PGBus broadcasts events with PostgreSQL LISTEN/NOTIFY.
type PGBus struct {
	dsn     string
	channel string
	origin  string
	logger  *slog.Logger

	mu     sync.Mutex
	notify *pgx.Conn
}

// NewPGBus returns a bus on channel. origin tags events sent by this process.
func NewPGBus(dsn, channel, origin string, logger *slog.Logger) *PGBus {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PGBus{dsn: dsn, channel: channel, origin: origin, logger: logger}
}

// Notify sends ev to every listener, including other processes.
func (b *PGBus) Notify(ctx context.Context, ev Event) error {
	ev.Origin = b.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notify == nil || b.notify.IsClosed() {
		conn, err := pgx.Connect(ctx, b.dsn)
		if err != nil {
			return fmt.Errorf("connect notify: %w", err)
		}
		b.notify = conn
	}
	if _, err := b.notify.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		_ = b.notify.Close(context.Background())
		b.notify = nil
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Listen delivers events from other processes until ctx is done, reconnecting
// with backoff when the connection drops.
func (b *PGBus) Listen(ctx context.Context, subscribed func(context.Context), handle func(Event)) error {
	backoff := time.Second
	for {
		err := b.listenOnce(ctx, subscribed, handle)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn("result bus listener disconnected",
			logging.String("channel", b.channel),
			logging.Duration("retry_in", backoff),
			logging.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (b *PGBus) listenOnce(ctx context.Context, subscribed func(context.Context), handle func(Event)) error {
	conn, err := pgx.Connect(ctx, b.dsn)
	if err != nil {
		return fmt.Errorf("connect listen: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", b.channel, err)
	}
	b.logger.Info("result bus listening", logging.String("channel", b.channel))
	if subscribed != nil {
		subscribed(ctx)
	}
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			b.logger.Warn("result bus payload rejected", logging.Error(err))
			continue
		}
		if ev.Origin != "" && ev.Origin == b.origin {
			continue
		}
		handle(ev)
	}
}

// Close releases the notify connection.
func (b *PGBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notify == nil {
		return nil
	}
	err := b.notify.Close(context.Background())
	b.notify = nil
	return err
}

// FetchFunc loads a published snapshot by run id.
type FetchFunc func(ctx context.Context, runID string) (*Snapshot, error)

// ResyncFunc republishes the latest complete run of every cycle and reports
// how many cycles changed.
type ResyncFunc func(ctx context.Context) (int, error)

// Follow keeps store in step with publishes made by other processes: each bus
// event is resolved to a snapshot and installed with the normal atomic swap.
// resync runs after every (re)subscription to recover publishes missed while
// the listener was down.
func Follow(ctx context.Context, bus Bus, store *Store, fetch FetchFunc, resync ResyncFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	subscribed := func(ctx context.Context) {
		if resync == nil {
			return
		}
		changed, err := resync(ctx)
		if err != nil {
			logging.WarnWithContext(logger, "result resync after subscribe failed", "result_resync_failed",
				logging.Error(err),
				logging.Impact("results missed while disconnected stay stale until the next publish"))
			return
		}
		if changed > 0 {
			logger.Info("result store resynced after subscribe",
				logging.Int("cycles", changed),
				logging.EventType("result_resync"))
		}
	}
	return bus.Listen(ctx, subscribed, func(ev Event) {
		if ev.Type != EventResultPublished || ev.RunID == "" {
			return
		}
		if live := store.ForCycle(ev.CycleYear); live != nil && live.RunID == ev.RunID {
			return
		}
		snap, err := fetch(ctx, ev.RunID)
		if err != nil {
			logging.WarnWithContext(logger, "refresh from bus failed", "result_refresh_failed",
				logging.RunID(ev.RunID),
				logging.Cycle(ev.CycleYear),
				logging.Error(err),
				logging.Hint("results stay on the previous snapshot until the next publish"))
			return
		}
		if store.Publish(snap) {
			logger.Info("result store refreshed from bus",
				logging.RunID(ev.RunID),
				logging.Cycle(ev.CycleYear))
		}
	})
}
