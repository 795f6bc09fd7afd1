package state

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeliveriesDetectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDeliveries()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	inserted, err := store.RecordDelivery(ctx, Delivery{DeliveryID: "d-1", ReceivedAt: now})
	if err != nil || !inserted {
		t.Fatalf("first delivery: inserted=%v err=%v", inserted, err)
	}
	inserted, err = store.RecordDelivery(ctx, Delivery{DeliveryID: "d-1", ReceivedAt: now.Add(time.Minute)})
	if err != nil || inserted {
		t.Fatalf("redelivery: inserted=%v err=%v", inserted, err)
	}
	inserted, err = store.RecordDelivery(ctx, Delivery{DeliveryID: "d-2", ReceivedAt: now})
	if err != nil || !inserted {
		t.Fatalf("other delivery: inserted=%v err=%v", inserted, err)
	}
}

func TestMemoryDeliveriesExpire(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDeliveries()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.RecordDelivery(ctx, Delivery{DeliveryID: "d-1", ReceivedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	inserted, err := store.RecordDelivery(ctx, Delivery{DeliveryID: "d-1", ReceivedAt: now.Add(2 * time.Hour)})
	if err != nil || !inserted {
		t.Fatalf("expired delivery should be accepted again: inserted=%v err=%v", inserted, err)
	}

	purged, err := store.PurgeExpiredDeliveries(ctx, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 || store.Len() != 0 {
		t.Fatalf("purged=%d remaining=%d", purged, store.Len())
	}
}

func TestMemoryDeliveriesRequiresID(t *testing.T) {
	if _, err := NewMemoryDeliveries().RecordDelivery(context.Background(), Delivery{}); err == nil {
		t.Fatalf("expected error for empty delivery id")
	}
}
