package store

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/funcbase/gateway/internal/debounce"
	"github.com/funcbase/gateway/internal/logging"
)

// Channel is the Postgres NOTIFY channel the admin service signals after
// every configuration write.
const Channel = "gateway_invalidated"

// Listener holds a dedicated connection in LISTEN mode and invokes a
// callback (debounced) for every notification. Payloads are opaque; any
// message means "refresh".
type Listener struct {
	dsn       string
	debouncer *debounce.Debouncer

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewListener creates a listener. onInvalidate runs at most once per window;
// it must not block for long since it runs on a timer goroutine.
func NewListener(dsn string, window time.Duration, onInvalidate func()) *Listener {
	return &Listener{
		dsn:       dsn,
		debouncer: debounce.New(window, func(string) { onInvalidate() }),
	}
}

// Start begins listening in the background. It returns immediately; the
// connection is established (and re-established) by the background loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop tears down the connection and cancels pending debounced callbacks.
func (l *Listener) Stop() {
	l.once.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		l.wg.Wait()
		l.debouncer.Stop()
	})
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // retry forever

	for {
		if ctx.Err() != nil {
			return
		}

		err := l.listen(ctx, policy)
		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		logging.Warn("notify listener disconnected",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// listen connects, issues LISTEN, and blocks on notifications until the
// connection breaks or ctx is cancelled.
func (l *Listener) listen(ctx context.Context, policy *backoff.ExponentialBackOff) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}

	policy.Reset()
	logging.Info("notify listener connected", zap.String("channel", Channel))

	// Notifications may have been lost while disconnected, so force a
	// refresh unconditionally after every (re)connect.
	l.debouncer.Trigger(debounce.DefaultKey)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		logging.Debug("gateway invalidation received",
			zap.String("payload", notification.Payload),
		)
		l.debouncer.Trigger(debounce.DefaultKey)
	}
}
