package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	val string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.val
	return nil
}

// fakeDB keeps lock holders in memory and ignores expiry.
type fakeDB struct {
	mu      sync.Mutex
	holders map[string]string
}

func newFakeDB() *fakeDB {
	return &fakeDB{holders: make(map[string]string)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	if f.holders[key] == token {
		delete(f.holders, key)
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := args[0].(string), args[1].(string)
	switch sql {
	case tryAcquireSQL:
		if h, ok := f.holders[key]; ok && h != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.holders[key] = token
		return fakeRow{val: key}
	case renewSQL:
		if f.holders[key] != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{val: key}
	}
	return fakeRow{err: errors.New("unexpected query")}
}

func TestAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeDB())

	lease, err := c.Acquire(ctx, OntologyKey("news"), Options{TokenPrefix: "w1-"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Acquire(ctx, OntologyKey("news"), Options{}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second acquire err = %v, want ErrBusy", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if lease.Context.Err() == nil {
		t.Fatal("lease context still live after release")
	}
	again, err := c.Acquire(ctx, OntologyKey("news"), Options{})
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestRenewLossCancelsLease(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	c := New(db)

	lease, err := c.Acquire(ctx, "k", Options{TTL: 2 * time.Second, RenewEvery: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	db.mu.Lock()
	delete(db.holders, "k")
	db.mu.Unlock()

	select {
	case <-lease.Context.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("lease context not cancelled")
	}
	if cause := context.Cause(lease.Context); !errors.Is(cause, ErrLost) {
		t.Fatalf("cause = %v, want ErrLost", cause)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{TTL: time.Second, RenewEvery: 5 * time.Second}.withDefaults()
	if o.RenewEvery != time.Second {
		t.Fatalf("RenewEvery = %v", o.RenewEvery)
	}
	if o := (Options{}).withDefaults(); o.TTL != 5*time.Minute || o.RenewEvery != 150*time.Second {
		t.Fatalf("defaults = %+v", o)
	}
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	err := l.WithLease(ctx, "k", Options{}, func(ctx context.Context) error {
		if err := l.WithLease(ctx, "k", Options{}, func(context.Context) error { return nil }); !errors.Is(err, ErrBusy) {
			t.Fatalf("nested err = %v, want ErrBusy", err)
		}
		return l.WithLease(ctx, "other", Options{}, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOntologyKey(t *testing.T) {
	if got := OntologyKey(""); got != "ontology:default" {
		t.Fatalf("OntologyKey = %q", got)
	}
}
