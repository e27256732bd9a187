package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPublishDelivered(t *testing.T) {
	b := New(WithQueueSize(16))

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)
	b.Subscribe(TopicOrderCreated, func(ctx context.Context, event Event) error {
		mu.Lock()
		got = append(got, event)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	if !b.Publish(TopicOrderCreated, map[string]interface{}{"order_id": "order-1"}) {
		t.Fatal("publish should be accepted")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Payload["order_id"] != "order-1" {
		t.Errorf("unexpected payload: %+v", got[0].Payload)
	}
}

func TestPublishNeverBlocksWhenFull(t *testing.T) {
	b := New(WithQueueSize(2))
	// Dispatcher не запущен: очередь заполняется и перестаёт принимать.

	if !b.Publish(TopicOrderPaid, nil) {
		t.Fatal("first publish should fit")
	}
	if !b.Publish(TopicOrderPaid, nil) {
		t.Fatal("second publish should fit")
	}

	delivered := make(chan bool, 1)
	go func() {
		delivered <- b.Publish(TopicOrderPaid, nil)
	}()

	select {
	case accepted := <-delivered:
		if accepted {
			t.Error("publish into a full queue must report a drop")
		}
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}

	if b.Dropped(TopicOrderPaid) != 1 {
		t.Errorf("expected 1 dropped event, got %d", b.Dropped(TopicOrderPaid))
	}
}

func TestHandlerErrorDoesNotStopOthers(t *testing.T) {
	b := New(WithQueueSize(4))

	second := make(chan struct{}, 1)
	b.Subscribe(TopicDeliveryCompleted, func(ctx context.Context, event Event) error {
		return errors.New("handler boom")
	})
	b.Subscribe(TopicDeliveryCompleted, func(ctx context.Context, event Event) error {
		second <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(TopicDeliveryCompleted, nil)

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler was not invoked after first failed")
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	b := New(WithQueueSize(4))

	wrong := make(chan struct{}, 1)
	right := make(chan struct{}, 1)
	b.Subscribe(TopicOrderCanceled, func(ctx context.Context, event Event) error {
		wrong <- struct{}{}
		return nil
	})
	b.Subscribe(TopicPaymentFailedFinal, func(ctx context.Context, event Event) error {
		right <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(TopicPaymentFailedFinal, nil)

	select {
	case <-right:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed topic handler was not invoked")
	}
	select {
	case <-wrong:
		t.Fatal("handler received event from a foreign topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDrainOnShutdown(t *testing.T) {
	b := New(WithQueueSize(8))

	var mu sync.Mutex
	count := 0
	b.Subscribe(TopicOrderCreated, func(ctx context.Context, event Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		b.Publish(TopicOrderCreated, nil)
	}

	// Запускаем Run с уже отменённым контекстом: очередь дообрабатывается при drain.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 drained events, got %d", count)
	}
}
