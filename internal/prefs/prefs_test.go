package prefs

import (
	"context"
	"testing"

	"searchwatch/internal/store"
)

func TestBackendStoreDestinations(t *testing.T) {
	t.Parallel()

	b := store.NewMemory()
	ctx := context.Background()
	blob := `{
		"theme": "dark",
		"deliveryMethods": [
			{"deliveryId": "d1", "deliveryName": "ops chat", "deliveryType": "telegram",
			 "deliveryOptions": {"chatId": 42}},
			{"deliveryId": "d2", "deliveryType": "webhook",
			 "deliveryOptions": {"url": "https://example.com/hook"}}
		]
	}`
	if err := b.Put(ctx, "user preferences", "alice", []byte(blob)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s := NewBackendStore(b)
	dests, err := s.Destinations(ctx, "alice")
	if err != nil {
		t.Fatalf("Destinations: %v", err)
	}
	if len(dests) != 2 {
		t.Fatalf("destinations = %d, want 2", len(dests))
	}
	if dests[0].ID != "d1" || dests[0].CourierType != "telegram" {
		t.Fatalf("dests[0] = %+v", dests[0])
	}
	if got, ok := dests[0].Parameters["chatId"].(float64); !ok || got != 42 {
		t.Fatalf("chatId = %v", dests[0].Parameters["chatId"])
	}
}

func TestBackendStoreMissingUser(t *testing.T) {
	t.Parallel()

	s := NewBackendStore(store.NewMemory())
	dests, err := s.Destinations(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Destinations: %v", err)
	}
	if len(dests) != 0 {
		t.Fatalf("destinations = %v, want none", dests)
	}
}

func TestBackendStoreCorruptBlob(t *testing.T) {
	t.Parallel()

	b := store.NewMemory()
	if err := b.Put(context.Background(), "user preferences", "alice", []byte("{")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := NewBackendStore(b).Destinations(context.Background(), "alice"); err == nil {
		t.Fatal("want decode error")
	}
}
