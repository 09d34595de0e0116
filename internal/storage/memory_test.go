package storage

import (
	"testing"
)

func TestMemoryStorageSaveAndQuery(t *testing.T) {
	s := NewMemoryStorage()

	recs := []*Record{
		NewRecord("a", "http://a/1").Set("ref", "DA-1"),
		NewRecord("a", "http://a/2").Set("ref", "DA-2"),
		NewRecord("b", "http://b/1").Set("ref", "DA-3"),
	}
	if err := s.Save(recs); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got := len(s.Records()); got != 3 {
		t.Errorf("records = %d, want 3", got)
	}
	byA := s.ByAuthority("a")
	if len(byA) != 2 {
		t.Errorf("records for a = %d, want 2", len(byA))
	}
	if byA[0].Fields["ref"] != "DA-1" {
		t.Errorf("first record ref = %v", byA[0].Fields["ref"])
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestMemoryStorageCopiesOnRead(t *testing.T) {
	s := NewMemoryStorage()
	s.Save([]*Record{NewRecord("a", "http://a/")})

	got := s.Records()
	got[0] = nil
	if s.Records()[0] == nil {
		t.Error("Records must return a copy of the slice")
	}
}
