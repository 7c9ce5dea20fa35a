package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"metal-basket-engine/internal/domain"
	"metal-basket-engine/internal/storage"
)

func TestStore_PolicyLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if _, err := store.GetPolicy(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before init, got %v", err)
	}

	p := domain.DefaultPolicy(time.Now().UTC())
	if err := store.InitPolicy(ctx, p); err != nil {
		t.Fatalf("InitPolicy failed: %v", err)
	}

	got, err := store.GetPolicy(ctx)
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if got.RebalanceIntervalDays != 30 {
		t.Errorf("Expected interval 30, got %d", got.RebalanceIntervalDays)
	}
	if !got.TargetFractions[domain.ConstituentGold].Equal(dec("0.5")) {
		t.Errorf("Expected gold fraction 0.5, got %s", got.TargetFractions[domain.ConstituentGold])
	}

	err = store.InitPolicy(ctx, p)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on second init, got %v", err)
	}
}
