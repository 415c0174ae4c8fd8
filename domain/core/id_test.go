package core

import (
	"context"
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestParseRunID(t *testing.T) {
	id := NewRunID()
	parsed, err := ParseRunID(id.String())
	if err != nil {
		t.Fatalf("ParseRunID(%q) failed: %v", id, err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	if _, err := ParseRunID("  "); err == nil {
		t.Error("Expected error for blank run ID")
	}
	if _, err := ParseRunID("run-1"); err == nil {
		t.Error("Expected error for non-UUID run ID")
	}
}

func TestRunIDContext(t *testing.T) {
	if _, ok := RunIDFromContext(context.Background()); ok {
		t.Error("Expected no run ID on a bare context")
	}
	id := NewRunID()
	got, ok := RunIDFromContext(ContextWithRunID(context.Background(), id))
	if !ok || got != id {
		t.Errorf("Expected run ID %s, got %s (ok=%v)", id, got, ok)
	}
}
