package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"timing-backend/internal/importer"
	"timing-backend/internal/localstore"
	"timing-backend/internal/race"
	"timing-backend/internal/store"
	"timing-backend/internal/syncengine"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *store.MemoryStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	remote := store.NewMemoryStore()
	svc := New(Options{
		Remote:       remote,
		Local:        localstore.NewMemoryStore(),
		Clock:        clock,
		Sync:         syncengine.Config{WriteTimeout: time.Second, FlushMaxAttempts: 1},
		Hold:         time.Hour,
		TickInterval: time.Second,
		Location:     time.UTC,
	})
	t.Cleanup(svc.Close)
	return svc, remote, clock
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestController_RequiresJoin(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Controller(); !errors.Is(err, ErrNoRace) {
		t.Errorf("Controller() error = %v, want ErrNoRace", err)
	}
	if err := svc.Join("  "); err == nil {
		t.Error("Join with a blank race id should fail")
	}
}

func TestJoinStartAndBoard(t *testing.T) {
	ctx := context.Background()
	svc, remote, clock := newService(t)

	if err := svc.Join("enduro-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "subscription", func() bool { return remote.Subscribers() == 1 })

	ctrl, err := svc.Controller()
	if err != nil {
		t.Fatalf("Controller: %v", err)
	}
	ctrl.Import(ctx, []importer.Row{{Number: "101", Name: "A"}, {Number: "102", Name: "B"}})
	if _, err := ctrl.Start(ctx, "101", false); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, "remote snapshot", func() bool { return len(remote.Docs("enduro-1")) == 2 })

	clock.Advance(30 * time.Second)
	svc.refresh()
	board := svc.Board()
	if board.RaceID != "enduro-1" {
		t.Errorf("RaceID = %q, want enduro-1", board.RaceID)
	}
	if len(board.Waiting) != 1 || board.Waiting[0].RiderNumber != "102" {
		t.Errorf("Waiting = %+v, want [102]", board.Waiting)
	}
	if len(board.OnTrack) != 1 || board.OnTrack[0].ElapsedText != "0m 30s" {
		t.Errorf("OnTrack = %+v, want 101 at 0m 30s", board.OnTrack)
	}
	if board.LastStarted == nil || board.LastStarted.RiderNumber != "101" {
		t.Errorf("LastStarted = %+v, want 101", board.LastStarted)
	}
	if !board.Online || board.Pending != 0 {
		t.Errorf("Online/Pending = %v/%d, want true/0", board.Online, board.Pending)
	}
}

func TestJoinAnotherRaceReplacesSubscription(t *testing.T) {
	svc, remote, _ := newService(t)
	svc.Join("a")
	svc.Join("b")
	waitFor(t, "single subscription", func() bool { return remote.Subscribers() == 1 })
	if svc.RaceID() != "b" {
		t.Errorf("RaceID = %q, want b", svc.RaceID())
	}

	svc.Leave()
	if svc.RaceID() != "" {
		t.Errorf("RaceID after Leave = %q, want empty", svc.RaceID())
	}
	if n := remote.Subscribers(); n != 0 {
		t.Errorf("Subscribers after Leave = %d, want 0", n)
	}
}

func TestRunAdvancesCurrentMoment(t *testing.T) {
	svc, _, clock := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	if !svc.Now().Equal(t0) {
		t.Fatalf("Now before tick = %v, want %v", svc.Now(), t0)
	}

	// drain any signal left by construction
	select {
	case <-svc.Changes():
	default:
	}

	clock.Advance(time.Second)
	select {
	case <-svc.Changes():
	case <-time.After(time.Second):
		t.Fatal("no change signal after tick")
	}
	if !svc.Now().Equal(t0.Add(time.Second)) {
		t.Errorf("Now after tick = %v, want %v", svc.Now(), t0.Add(time.Second))
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestWithControllerHoldsOffJoin(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	svc.Join("a")

	joined := make(chan struct{})
	err := svc.WithController(func(ctrl *race.Controller) error {
		go func() {
			svc.Join("b")
			close(joined)
		}()
		time.Sleep(20 * time.Millisecond)
		select {
		case <-joined:
			t.Error("Join completed while a controller call was in flight")
		default:
		}
		_, err := ctrl.Start(ctx, "1", false)
		return err
	})
	if err != nil {
		t.Fatalf("WithController: %v", err)
	}

	<-joined
	if got := svc.RaceID(); got != "b" {
		t.Errorf("RaceID = %q, want b", got)
	}
	if n := svc.Registry().Len(); n != 0 {
		t.Errorf("race b registry has %d riders, want none from race a", n)
	}

	svc.Leave()
	if err := svc.WithController(func(*race.Controller) error { return nil }); !errors.Is(err, ErrNoRace) {
		t.Errorf("WithController after Leave = %v, want ErrNoRace", err)
	}
}

func TestRunDrainsQueueAfterRemoteBlip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, remote, clock := newService(t)
	svc.Join("r1")
	waitFor(t, "subscription", func() bool { return remote.Subscribers() == 1 })
	ctrl, _ := svc.Controller()

	remote.SetOffline(true)
	if _, err := ctrl.Start(ctx, "9", false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	remote.SetOffline(false)
	if svc.Engine().Online() {
		t.Fatal("engine should be offline after the failed write")
	}

	go svc.Run(ctx)
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(time.Second)

	waitFor(t, "drain on tick", func() bool {
		e := svc.Engine()
		return e.PendingCount() == 0 && e.Online() && len(remote.Docs("r1")) == 1
	})
}

func TestResults(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)
	svc.Join("r1")
	ctrl, _ := svc.Controller()

	ctrl.Start(ctx, "1", false)
	ctrl.Start(ctx, "2", false)
	clock.Advance(time.Minute)
	ctrl.FinishNow(ctx, "2")
	clock.Advance(time.Second)
	ctrl.FinishNow(ctx, "1")

	entries := svc.Results()
	if len(entries) != 2 || entries[0].Rider.RiderNumber != "2" || entries[0].RaceTime != "01:00.00" {
		t.Errorf("Results = %+v, want 2 first at 01:00.00", entries)
	}
}
