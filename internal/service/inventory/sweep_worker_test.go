package inventory

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestSweepWorkerRemovesExpired(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	store.Replace(makeReservation("expired", -time.Minute), now.Add(-2*time.Minute))
	store.Replace(makeReservation("active", time.Hour), now)

	worker := NewSweepWorker(store, WithInterval(time.Minute))
	worker.sweep(now)

	if _, ok := store.Get("active", now); !ok {
		t.Fatal("active reservation must survive the sweep")
	}
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1", store.Len())
	}
}

func TestSweepWorkerRunStopsOnContextCancel(t *testing.T) {
	store := NewStore()
	worker := NewSweepWorker(store,
		WithInterval(5*time.Millisecond),
		WithLogger(log.New().WithField("component", "sweep-test")),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestSweepWorkerNilStore(t *testing.T) {
	worker := NewSweepWorker(nil)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker with nil store must return immediately")
	}
}
