package capture

import "testing"

func TestSetNeverExceedsMax(t *testing.T) {
	s := NewSet(3)
	for i := 0; i < 10; i++ {
		s.Append(Image{ID: string(rune('a' + i))})
		if s.Len() > 3 {
			t.Fatalf("set grew past bound: %d", s.Len())
		}
	}
	if !s.Full() {
		t.Fatal("expected set to be full")
	}
	if s.Append(Image{ID: "z"}) {
		t.Fatal("expected append on full set to be a no-op")
	}
	if got := s.Images()[2].ID; got != "c" {
		t.Fatalf("expected tail to stay %q, got %q", "c", got)
	}
}

func TestSetRemoveLastRoundTrip(t *testing.T) {
	s := NewSet(3)
	s.Append(Image{ID: "1"})
	s.Append(Image{ID: "2"})
	before := s.Len()

	removed, ok := s.RemoveLast()
	if !ok || removed.ID != "2" {
		t.Fatalf("expected to remove tail, got %+v ok=%v", removed, ok)
	}
	s.Append(Image{ID: "2b"})
	if s.Len() != before {
		t.Fatalf("expected length %d after retake, got %d", before, s.Len())
	}
}

func TestSetRemoveLastOnEmpty(t *testing.T) {
	s := NewSet(1)
	if _, ok := s.RemoveLast(); ok {
		t.Fatal("expected no-op on empty set")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty set, got %d", s.Len())
	}
}

func TestSetImagesReturnsCopy(t *testing.T) {
	s := NewSet(2)
	s.Append(Image{ID: "1"})
	snapshot := s.Images()
	snapshot[0].ID = "mutated"
	if s.Images()[0].ID != "1" {
		t.Fatal("snapshot mutation leaked into set")
	}
}
