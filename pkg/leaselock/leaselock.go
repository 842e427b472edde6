// Package leaselock keeps two loader runs from purging and writing the same
// graph store at once. A run holds a row in load_leases and extends it while
// the load is in progress.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/lobbygraph/backend/internal/util"
	"github.com/lobbygraph/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("graph store is leased by another run")
	ErrLost = errors.New("graph store lease lost")
)

const (
	extendTries   = 3
	extendTimeout = 15 * time.Second
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait polls until the lease frees up instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// TokenPrefix makes the holder recognizable in load_leases, e.g. a run id.
	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Millisecond)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

func (o Options) pollDelay() time.Duration {
	if o.WaitJitter <= 0 {
		return o.WaitInterval
	}
	return o.WaitInterval + rand.N(o.WaitJitter+1)
}

// Holder is the run currently holding a store lease.
type Holder struct {
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// BusyError reports who holds a lease. It matches ErrBusy.
type BusyError struct {
	Key    string
	Holder Holder
}

func (e *BusyError) Error() string {
	if e.Holder.Token == "" {
		return fmt.Sprintf("%s: %s", ErrBusy, e.Key)
	}
	return fmt.Sprintf("%s: %s held by %s until %s",
		ErrBusy, e.Key, e.Holder.Token, e.Holder.ExpiresAt.Format(time.RFC3339))
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// Lease is a held store lease. Context is cancelled with ErrLost as its
// cause when the lease cannot be extended, so work bound to it stops
// writing.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client   *Client
	cancel   context.CancelCauseFunc
	stopped  chan struct{}
	released atomic.Bool
}

func New(db dbConn) *Client {
	return &Client{db: db}
}

// StoreKey is the lease key for a loader run against the named store.
func StoreKey(storeName string) string {
	return "graph-load:" + storeName
}

// WithLease runs fn while holding key and releases it afterwards. fn gets
// the lease context.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[Lease] Failed to release lease", "key", key, "err", err)
		}
	}()
	err = fn(lease.Context)
	if errors.Is(context.Cause(lease.Context), ErrLost) {
		return errors.Join(err, ErrLost)
	}
	return err
}

// Acquire claims key. Without Options.Wait a held key fails with a
// *BusyError naming the current holder.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease key is empty")
	}
	opts = opts.withDefaults()
	ttlMs := max(opts.TTL.Milliseconds(), 1)

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + id

	for {
		claimed, err := c.claim(ctx, key, token, ttlMs)
		if err != nil {
			return nil, fmt.Errorf("claim lease %s: %w", key, err)
		}
		if claimed {
			break
		}
		busy := c.busy(ctx, key)
		if !opts.Wait {
			return nil, busy
		}
		logger.Debug("[Lease] Store is busy, waiting", "key", key, "holder", busy.Holder.Token)
		if err := wait(ctx, opts.pollDelay()); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery, ttlMs)

	logger.Info("[Lease] Acquired lease", "key", key, "token", token, "ttl", opts.TTL)
	return l, nil
}

func (c *Client) claim(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, claimSQL, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return got == key, err
}

// busy describes the current holder of key. A failed lookup still yields a
// BusyError, only without the holder.
func (c *Client) busy(ctx context.Context, key string) *BusyError {
	e := &BusyError{Key: key}
	err := c.db.QueryRow(ctx, holderSQL, key).Scan(&e.Holder.Token, &e.Holder.AcquiredAt, &e.Holder.ExpiresAt)
	if err != nil {
		logger.Debug("[Lease] Could not read lease holder", "key", key, "err", err)
		e.Holder = Holder{}
	}
	return e
}

// Release stops extending the lease and deletes its row if still held.
// Further calls are no-ops.
func (l *Lease) Release(ctx context.Context) error {
	l.cancel(context.Canceled)
	<-l.stopped
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	if _, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token); err != nil {
		return fmt.Errorf("release lease %s: %w", l.Key, err)
	}
	logger.Debug("[Lease] Released lease", "key", l.Key)
	return nil
}

func (l *Lease) keepAlive(every time.Duration, ttlMs int64) {
	defer close(l.stopped)
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.Context.Done():
			return
		case <-t.C:
			err := l.extend(ttlMs)
			if err == nil {
				continue
			}
			if l.Context.Err() != nil {
				return
			}
			logger.Error("[Lease] Could not extend lease", "key", l.Key, "err", err)
			l.cancel(ErrLost)
			return
		}
	}
}

// extend pushes the expiry out by ttlMs. ErrLost means another run took
// the row over.
func (l *Lease) extend(ttlMs int64) error {
	notLost := func(err error) bool { return !errors.Is(err, ErrLost) }
	return util.RetryErrWithContext(l.Context, extendTries, util.Backoff{Initial: 200 * time.Millisecond}, notLost, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, extendTimeout)
		defer cancel()
		var got string
		err := l.client.db.QueryRow(attemptCtx, extendSQL, l.Key, l.Token, ttlMs).Scan(&got)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrLost
		case err != nil && ctx.Err() == nil && attemptCtx.Err() != nil:
			// The attempt timed out but the lease is still live: retry.
			return fmt.Errorf("extend lease %s: timed out after %s", l.Key, extendTimeout)
		}
		return err
	})
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const claimSQL = `
INSERT INTO load_leases (store_key, run_token, acquired_at, expires_at)
VALUES ($1, $2, now(), now() + make_interval(secs => $3::bigint / 1000.0))
ON CONFLICT (store_key) DO UPDATE
SET run_token   = EXCLUDED.run_token,
    acquired_at = EXCLUDED.acquired_at,
    expires_at  = EXCLUDED.expires_at
WHERE load_leases.expires_at < now()
   OR load_leases.run_token = EXCLUDED.run_token
RETURNING store_key;
`

const extendSQL = `
UPDATE load_leases
SET expires_at = now() + make_interval(secs => $3::bigint / 1000.0)
WHERE store_key = $1 AND run_token = $2
RETURNING store_key;
`

const releaseSQL = `
DELETE FROM load_leases
WHERE store_key = $1 AND run_token = $2;
`

const holderSQL = `
SELECT run_token, acquired_at, expires_at
FROM load_leases
WHERE store_key = $1;
`
