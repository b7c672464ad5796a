package idgen

import (
	"testing"
	"time"
)

func TestNewIsValidAndSortable(t *testing.T) {
	a := New()
	time.Sleep(time.Millisecond)
	b := New()

	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected both ids to be valid ULIDs: %s, %s", a, b)
	}
	if a >= b {
		t.Fatalf("expected a < b for creation-ordered ids, got a=%s b=%s", a, b)
	}
}

func TestNewWithTimePreservesTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	id := NewWithTime(want)

	got, err := Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp error: %v", err)
	}
	if !got.Equal(want) {
		t.Fatalf("Timestamp = %v, want %v", got, want)
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	if Valid("not-a-ulid") {
		t.Fatal("expected invalid id to fail Valid")
	}
	if Valid("") {
		t.Fatal("expected empty string to fail Valid")
	}
}

func TestNewOpaqueIsNotULID(t *testing.T) {
	id := NewOpaque()
	if Valid(id) {
		t.Fatalf("expected opaque id %q not to be a well-formed ULID", id)
	}
	if len(id) != 36 {
		t.Fatalf("expected UUID-formatted string, got %q", id)
	}
}
