package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppc/internal/bus"
	"github.com/matheus3301/wppc/internal/remote"
	"github.com/matheus3301/wppc/internal/status"
	chatsync "github.com/matheus3301/wppc/internal/sync"
)

type fakeChecker struct {
	mu     sync.Mutex
	health remote.Health
	calls  int
}

func (f *fakeChecker) CheckHealth(context.Context) remote.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.health
}

type fakeConn struct {
	state    *chatsync.State
	ingested []bool
}

func (f *fakeConn) State() *chatsync.State { return f.state }

func (f *fakeConn) IngestConnection(connected bool) {
	f.ingested = append(f.ingested, connected)
	f.state.SetConnected(connected)
}

type fakePruner struct{ cutoff time.Time }

func (f *fakePruner) PruneAvatars(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 2, nil
}

func authenticatedMachine(t *testing.T, b *bus.Bus) *status.Machine {
	t.Helper()
	m := status.NewMachine(b)
	for _, p := range []status.Phase{status.AwaitingToken, status.Authenticated} {
		if err := m.Transition(p); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestHealthCheckRecordsChanges(t *testing.T) {
	b := bus.New()
	checker := &fakeChecker{health: remote.Health{Connected: true, SessionExists: true}}
	conn := &fakeConn{state: chatsync.NewState(b)}
	h := newHealth(checker, authenticatedMachine(t, b), conn, &fakePruner{}, time.Second, zap.NewNop())

	h.Check(context.Background())
	h.Check(context.Background())
	checker.health = remote.Health{Err: errors.New("timeout")}
	h.Check(context.Background())

	want := []bool{true, false}
	if len(conn.ingested) != len(want) || conn.ingested[0] != want[0] || conn.ingested[1] != want[1] {
		t.Errorf("ingested = %v, want %v", conn.ingested, want)
	}
}

func TestHealthCheckSkipsUntilAuthenticated(t *testing.T) {
	b := bus.New()
	checker := &fakeChecker{}
	h := newHealth(checker, status.NewMachine(b), &fakeConn{state: chatsync.NewState(b)}, &fakePruner{}, 0, nil)

	h.Check(context.Background())
	if checker.calls != 0 {
		t.Errorf("server probed %d times before login", checker.calls)
	}
}

func TestHealthPrunesDayOldAvatars(t *testing.T) {
	b := bus.New()
	p := &fakePruner{}
	h := newHealth(&fakeChecker{}, status.NewMachine(b), &fakeConn{state: chatsync.NewState(b)}, p, 0, nil)

	h.pruneAvatars()
	if age := time.Since(p.cutoff); age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("cutoff age = %v, want about 24h", age)
	}
}

func TestHealthStartStop(t *testing.T) {
	b := bus.New()
	h := newHealth(&fakeChecker{}, status.NewMachine(b), &fakeConn{state: chatsync.NewState(b)}, &fakePruner{}, time.Hour, nil)
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	if n := len(h.sched.Entries()); n != 2 {
		t.Errorf("scheduled jobs = %d, want 2", n)
	}
	h.Stop()
}
