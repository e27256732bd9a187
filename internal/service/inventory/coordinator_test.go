package inventory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *memory.StockRepository) {
	t.Helper()

	stock := memory.NewStockRepository()
	logger := log.New().WithField("component", "inventory-test")
	coord := NewCoordinatorWithoutMetrics(NewStore(), stock, cfg, logger)
	return coord, stock
}

func items(productID string, qty int32) []domain.ReservationItem {
	return []domain.ReservationItem{{ProductID: productID, Qty: qty}}
}

func TestReserveThenReleaseRestoresAvailability(t *testing.T) {
	coord, stock := newTestCoordinator(t, DefaultConfig())
	stock.SetStock("product-x", 5)

	before := coord.VerifyAvailability("product-x", 1)
	if before.AvailableStock != 5 {
		t.Fatalf("initial available = %d, want 5", before.AvailableStock)
	}

	result := coord.ReserveItems("session-a", items("product-x", 5))
	if !result.Success {
		t.Fatal("reserve must succeed")
	}
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 0 {
		t.Fatalf("available after reserve = %d, want 0", got)
	}

	coord.ReleaseReservation("session-a")
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 5 {
		t.Fatalf("available after release = %d, want 5", got)
	}
}

func TestAvailabilityNeverNegative(t *testing.T) {
	coord, stock := newTestCoordinator(t, DefaultConfig())
	stock.SetStock("product-x", 3)

	// Разрешительная политика допускает резерв сверх остатка.
	coord.ReserveItems("s1", items("product-x", 3))
	coord.ReserveItems("s2", items("product-x", 4))

	avail := coord.VerifyAvailability("product-x", 1)
	if avail.AvailableStock != 0 {
		t.Fatalf("available = %d, want clamped 0", avail.AvailableStock)
	}
	if !avail.Available {
		t.Fatal("oversell policy must still admit")
	}
}

func TestAvailabilityNeverNegativeConcurrent(t *testing.T) {
	coord, stock := newTestCoordinator(t, DefaultConfig())
	stock.SetStock("product-x", 10)

	const workers = 40
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", n)
			coord.ReserveItems(session, items("product-x", 1))
			if avail := coord.VerifyAvailability("product-x", 1); avail.AvailableStock < 0 {
				t.Errorf("available went negative: %d", avail.AvailableStock)
			}
			if n%2 == 0 {
				coord.ReleaseReservation(session)
			}
		}(i)
	}
	wg.Wait()

	if avail := coord.VerifyAvailability("product-x", 1); avail.AvailableStock < 0 {
		t.Fatalf("final available negative: %d", avail.AvailableStock)
	}
}

func TestReserveIdempotentPerSession(t *testing.T) {
	coord, stock := newTestCoordinator(t, DefaultConfig())
	stock.SetStock("product-x", 10)

	coord.ReserveItems("session-a", items("product-x", 4))
	// Повторный резерв той же сессии замещает предыдущий, а не суммируется с ним.
	coord.ReserveItems("session-a", items("product-x", 2))

	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 8 {
		t.Fatalf("available = %d, want 8 (old hold replaced)", got)
	}
}

func TestVerifyAvailabilityMissingProduct(t *testing.T) {
	coord, _ := newTestCoordinator(t, DefaultConfig())

	avail := coord.VerifyAvailability("ghost", 1)
	if avail.Available {
		t.Fatal("missing product must be unavailable even under oversell policy")
	}
	if avail.AvailableStock != 0 {
		t.Fatalf("available stock = %d, want 0", avail.AvailableStock)
	}
}

func TestStrictModeBlocksInsufficientStock(t *testing.T) {
	cfg := Config{TTL: DefaultTTL, AllowOversell: false}
	coord, stock := newTestCoordinator(t, cfg)
	stock.SetStock("product-x", 3)

	result := coord.ReserveItems("session-a", items("product-x", 5))
	if result.Success {
		t.Fatal("strict mode must reject insufficient stock")
	}
	if len(result.Unavailable) != 1 {
		t.Fatalf("unavailable items = %d, want 1", len(result.Unavailable))
	}
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 3 {
		t.Fatalf("rejected reserve must not hold stock, available = %d", got)
	}
}

func TestStrictModeConcurrentAdmission(t *testing.T) {
	cfg := Config{TTL: DefaultTTL, AllowOversell: false}
	coord, stock := newTestCoordinator(t, cfg)
	stock.SetStock("product-x", 10)

	const workers = 30
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			coord.ReserveItems(fmt.Sprintf("s%d", n), items("product-x", 1))
		}(i)
	}
	wg.Wait()

	// В строгом режиме допуск сериализован: суммарные резервы не превышают сток.
	reserved := coord.Store().ReservedQty("product-x", time.Now().UTC())
	if reserved > 10 {
		t.Fatalf("reserved %d exceeds on-hand 10", reserved)
	}
	if reserved != 10 {
		t.Fatalf("reserved = %d, want exactly 10", reserved)
	}
}

func TestExpiredReservationExcludedBeforeSweep(t *testing.T) {
	cfg := Config{TTL: 10 * time.Millisecond, AllowOversell: true}
	coord, stock := newTestCoordinator(t, cfg)
	stock.SetStock("product-x", 5)

	coord.ReserveItems("session-a", items("product-x", 5))
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}

	time.Sleep(20 * time.Millisecond)

	// Зачистка ещё не запускалась, но истёкший резерв уже не учитывается.
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 5 {
		t.Fatalf("available after TTL = %d, want 5", got)
	}
}

func TestCommitReservationDecrementsStock(t *testing.T) {
	coord, stock := newTestCoordinator(t, DefaultConfig())
	stock.SetStock("product-x", 5)

	coord.ReserveItems("session-a", items("product-x", 2))
	if err := coord.CommitReservation("session-a"); err != nil {
		t.Fatalf("commit: %v", err)
	}

	onHand, err := stock.GetStock("product-x")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if onHand != 3 {
		t.Fatalf("on-hand after commit = %d, want 3", onHand)
	}
	if got := coord.VerifyAvailability("product-x", 1).AvailableStock; got != 3 {
		t.Fatalf("available after commit = %d, want 3", got)
	}

	// Повторный commit той же сессии — безопасный no-op.
	if err := coord.CommitReservation("session-a"); err != nil {
		t.Fatalf("repeated commit: %v", err)
	}
	if onHand, _ = stock.GetStock("product-x"); onHand != 3 {
		t.Fatalf("on-hand after repeated commit = %d, want 3", onHand)
	}
}

func TestReleaseMissingReservationSilent(t *testing.T) {
	coord, _ := newTestCoordinator(t, DefaultConfig())
	// Не должно ни паниковать, ни логировать ошибкой.
	coord.ReleaseReservation("ghost-session")
	coord.ReleaseReservation("")
}
