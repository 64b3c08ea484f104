package prefs

// Package prefs reads per-user delivery preferences: the named destinations
// a user has configured, each tagged with the courier type that should carry
// it and the parameters that courier needs.

import (
	"context"
	"encoding/json"
	"fmt"

	"searchwatch/internal/store"
)

// Destination is one configured delivery endpoint.
type Destination struct {
	ID          string         `json:"deliveryId"`
	Name        string         `json:"deliveryName,omitempty"`
	CourierType string         `json:"deliveryType"`
	Parameters  map[string]any `json:"deliveryOptions,omitempty"`
}

// Store exposes the destinations configured for a user. A missing user is
// not an error; it yields an empty list.
type Store interface {
	Destinations(ctx context.Context, userID string) ([]Destination, error)
}

const bucket = "user preferences"

// document is the stored shape of a user's preference blob. Only the
// delivery section is read here.
type document struct {
	DeliveryMethods []Destination `json:"deliveryMethods"`
}

// BackendStore reads preference blobs from the shared key-value backend.
type BackendStore struct {
	backend store.Backend
}

func NewBackendStore(b store.Backend) *BackendStore {
	return &BackendStore{backend: b}
}

func (s *BackendStore) Destinations(ctx context.Context, userID string) ([]Destination, error) {
	raw, ok, err := s.backend.Get(ctx, bucket, userID)
	if err != nil {
		return nil, fmt.Errorf("prefs: load %q: %w", userID, err)
	}
	if !ok {
		return nil, nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("prefs: decode %q: %w", userID, err)
	}
	return doc.DeliveryMethods, nil
}

// MemStore is a fixed in-memory Store, used in tests and as a fallback when
// no preference backend is configured.
type MemStore map[string][]Destination

func (m MemStore) Destinations(_ context.Context, userID string) ([]Destination, error) {
	return m[userID], nil
}
