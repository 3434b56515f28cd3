package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("card")
	if !strings.HasPrefix(id, "card-") || len(id) != len("card-")+32 {
		t.Fatalf("NewID(card) = %q", id)
	}
	if NewID("") == NewID("") {
		t.Fatal("expected distinct ids")
	}
}
