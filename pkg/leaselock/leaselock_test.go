package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	values []any
	err    error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *string:
			*d = r.values[i].(string)
		case *time.Time:
			*d = r.values[i].(time.Time)
		}
	}
	return nil
}

// fakeDB keeps a single lease row in memory and ignores expiry.
type fakeDB struct {
	mu        sync.Mutex
	holder    string
	expires   time.Time
	extendErr error
	extends   int
	releases  int
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if sql == releaseSQL && db.holder == args[1].(string) {
		db.holder = ""
		db.releases++
	}
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := args[0].(string)
	switch sql {
	case holderSQL:
		if db.holder == "" {
			return row{err: pgx.ErrNoRows}
		}
		return row{values: []any{db.holder, db.expires.Add(-time.Minute), db.expires}}
	case claimSQL:
		token := args[1].(string)
		if db.holder != "" && db.holder != token {
			return row{err: pgx.ErrNoRows}
		}
		db.holder = token
		db.expires = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		return row{values: []any{key}}
	case extendSQL:
		db.extends++
		if db.extendErr != nil {
			return row{err: db.extendErr}
		}
		if db.holder != args[1].(string) {
			return row{err: pgx.ErrNoRows}
		}
		return row{values: []any{key}}
	}
	return row{err: errors.New("unexpected query")}
}

func (db *fakeDB) steal() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.holder = "someone-else"
}

func TestAcquireAndRelease(t *testing.T) {
	db := &fakeDB{}
	c := New(db)

	lease, err := c.Acquire(context.Background(), StoreKey("neo4j"), Options{TokenPrefix: "run-"})
	require.NoError(t, err)
	assert.Equal(t, "graph-load:neo4j", lease.Key)
	assert.Contains(t, lease.Token, "run-")

	_, err = c.Acquire(context.Background(), StoreKey("neo4j"), Options{})
	require.ErrorIs(t, err, ErrBusy)
	var busy *BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, lease.Token, busy.Holder.Token)
	assert.Contains(t, err.Error(), lease.Token)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))
	assert.Equal(t, 1, db.releases)
	assert.ErrorIs(t, lease.Context.Err(), context.Canceled)

	again, err := c.Acquire(context.Background(), StoreKey("neo4j"), Options{})
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

func TestAcquireEmptyKey(t *testing.T) {
	_, err := New(&fakeDB{}).Acquire(context.Background(), "", Options{})
	require.Error(t, err)
}

func TestAcquireWaitHonorsContext(t *testing.T) {
	db := &fakeDB{holder: "other"}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(db).Acquire(ctx, "k", Options{Wait: true, WaitInterval: 5 * time.Millisecond})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLeaseLostCancelsContext(t *testing.T) {
	db := &fakeDB{}
	lease, err := New(db).Acquire(context.Background(), "k", Options{TTL: time.Second, RenewEvery: 5 * time.Millisecond})
	require.NoError(t, err)
	defer lease.Release(context.Background())

	db.steal()

	select {
	case <-lease.Context.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lease context was not cancelled")
	}
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
}

func TestWithLeaseReportsLoss(t *testing.T) {
	db := &fakeDB{}
	c := New(db)

	err := c.WithLease(context.Background(), "k", Options{TTL: time.Second, RenewEvery: 5 * time.Millisecond}, func(ctx context.Context) error {
		db.steal()
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrLost)
}

func TestWithLeaseReleases(t *testing.T) {
	db := &fakeDB{}
	called := false
	err := New(db).WithLease(context.Background(), "k", Options{}, func(ctx context.Context) error {
		called = true
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, db.releases)
}

func TestExtendRetriesTransientErrors(t *testing.T) {
	db := &fakeDB{extendErr: errors.New("connection reset")}
	lease, err := New(db).Acquire(context.Background(), "k", Options{TTL: time.Second, RenewEvery: 5 * time.Millisecond})
	require.NoError(t, err)
	defer lease.Release(context.Background())

	select {
	case <-lease.Context.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("lease context was not cancelled")
	}
	assert.ErrorIs(t, context.Cause(lease.Context), ErrLost)
	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Equal(t, extendTries, db.extends)
}

func TestBusyErrorWithoutHolder(t *testing.T) {
	err := &BusyError{Key: "graph-load:postgres"}
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, ErrBusy.Error()+": graph-load:postgres", err.Error())
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{TTL: time.Minute, RenewEvery: 2 * time.Minute, WaitJitter: -1}.withDefaults()
	assert.Equal(t, 30*time.Second, o.RenewEvery)
	assert.Equal(t, 250*time.Millisecond, o.WaitInterval)
	assert.Zero(t, o.WaitJitter)

	d := Options{}.withDefaults()
	assert.Equal(t, 5*time.Minute, d.TTL)
}
