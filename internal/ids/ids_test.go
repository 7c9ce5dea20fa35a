package ids

import (
	"strings"
	"testing"

	"metal-basket-engine/internal/domain"
)

func TestNewTokenID(t *testing.T) {
	id := NewTokenID()
	if !strings.HasPrefix(id, "MBT-") {
		t.Errorf("expected MBT- prefix, got %s", id)
	}
	if len(id) <= len("MBT-") {
		t.Errorf("expected nonempty suffix, got %s", id)
	}

	// Fresh IDs must not collide.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTokenID()
		if seen[id] {
			t.Fatalf("duplicate token ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if !strings.HasPrefix(id, "REBAL-") {
		t.Errorf("expected REBAL- prefix, got %s", id)
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if seen[id] {
			t.Fatalf("duplicate request ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestOperationID(t *testing.T) {
	got := OperationID("REBAL-abc", domain.ConstituentGold)

	if !strings.HasPrefix(got, "OP-") {
		t.Errorf("expected OP- prefix, got %s", got)
	}
	if len(got) != len("OP-")+32 {
		t.Errorf("expected 32 hex characters after prefix, got %s", got)
	}

	// Same inputs must produce the same ID.
	got2 := OperationID("REBAL-abc", domain.ConstituentGold)
	if got != got2 {
		t.Errorf("OperationID not deterministic: %s != %s", got, got2)
	}
}

func TestOperationID_DifferentInputs(t *testing.T) {
	base := OperationID("REBAL-abc", domain.ConstituentGold)

	if diff := OperationID("REBAL-xyz", domain.ConstituentGold); base == diff {
		t.Error("different request must produce different operation ID")
	}
	if diff := OperationID("REBAL-abc", domain.ConstituentSilver); base == diff {
		t.Error("different constituent must produce different operation ID")
	}
}
