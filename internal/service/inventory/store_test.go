package inventory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func makeReservation(sessionID string, ttl time.Duration) domain.Reservation {
	now := time.Now().UTC()
	return domain.Reservation{
		SessionID: sessionID,
		Items:     []domain.ReservationItem{{ProductID: "product-1", Qty: 2}},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestStoreReplaceAndGet(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	_, replaced := store.Replace(makeReservation("s1", time.Minute), now)
	if replaced {
		t.Fatal("first replace must not report a previous reservation")
	}

	res, ok := store.Get("s1", now)
	if !ok {
		t.Fatal("reservation must be visible after replace")
	}
	if res.QtyFor("product-1") != 2 {
		t.Fatalf("qty = %d, want 2", res.QtyFor("product-1"))
	}

	_, replaced = store.Replace(makeReservation("s1", time.Minute), now)
	if !replaced {
		t.Fatal("second replace must report the previous reservation")
	}
}

func TestStoreExpiryAtReadTime(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	store.Replace(makeReservation("s1", time.Minute), now)

	// Истечение видно читателю до запуска зачистки.
	later := now.Add(2 * time.Minute)
	if _, ok := store.Get("s1", later); ok {
		t.Fatal("expired reservation must be invisible to Get")
	}
	if qty := store.ReservedQty("product-1", later); qty != 0 {
		t.Fatalf("reserved qty after expiry = %d, want 0", qty)
	}

	// Но запись всё ещё занимает слот до Sweep.
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want 1 before sweep", store.Len())
	}
	if removed := store.Sweep(later); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
	if store.Len() != 0 {
		t.Fatalf("store len = %d, want 0 after sweep", store.Len())
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	store.Replace(makeReservation("s1", time.Minute), now)

	if _, released := store.Delete("s1", now); !released {
		t.Fatal("delete of an active reservation must report release")
	}
	if _, released := store.Delete("s1", now); released {
		t.Fatal("repeated delete must be a silent no-op")
	}
	if _, released := store.Delete("missing", now); released {
		t.Fatal("delete of a missing session must be a silent no-op")
	}
}

func TestStoreReservedQtyAcrossSessions(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		store.Replace(makeReservation(fmt.Sprintf("s%d", i), time.Minute), now)
	}

	if qty := store.ReservedQty("product-1", now); qty != 20 {
		t.Fatalf("reserved qty = %d, want 20", qty)
	}
}

func TestStoreConcurrentSessions(t *testing.T) {
	store := NewStore()
	now := time.Now().UTC()

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", n)
			store.Replace(makeReservation(session, time.Minute), now)
			if _, ok := store.Get(session, now); !ok {
				t.Errorf("session %s lost its reservation", session)
			}
			store.Delete(session, now)
		}(i)
	}
	wg.Wait()

	if qty := store.ReservedQty("product-1", now); qty != 0 {
		t.Fatalf("reserved qty after release storm = %d, want 0", qty)
	}
}
