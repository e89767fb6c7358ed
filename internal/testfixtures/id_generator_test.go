package testfixtures

import (
	"testing"

	"github.com/google/uuid"
)

func TestIDGenerator(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("")
	if first, second := gen.Next(), gen.Next(); first != "id-1" || second != "id-2" {
		t.Fatalf("unexpected sequence %q, %q", first, second)
	}

	random := NewUUIDGenerator()
	a, b := random.Next(), random.Next()
	if a == b {
		t.Fatal("expected distinct uuids")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected a valid uuid, got %q: %v", a, err)
	}
}
