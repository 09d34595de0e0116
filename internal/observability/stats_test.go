package observability

import (
	"testing"
	"time"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats(time.Now())
	s.RequestsSubmitted.Add(42)
	s.ResponsesReceived.Add(40)
	s.RequestsFailed.Add(2)
	s.AddWaitResponse(120 * time.Millisecond)
	s.AddWaitDelay(80 * time.Millisecond)

	snap := s.Snapshot()
	if snap["requests_submitted"].(int64) != 42 {
		t.Errorf("requests_submitted = %v", snap["requests_submitted"])
	}
	if s.WaitResponse() != 120*time.Millisecond {
		t.Errorf("wait_response = %v", s.WaitResponse())
	}
	if s.WaitDelay() != 80*time.Millisecond {
		t.Errorf("wait_delay = %v", s.WaitDelay())
	}
}

func TestRecordQualityThreshold(t *testing.T) {
	q := NewRecordQuality()

	// 5 failures with nothing processed is still acceptable.
	for i := 0; i < 5; i++ {
		q.RecordFailed("a")
	}
	if q.Exceeded("a") {
		t.Error("5 failures should be within threshold")
	}
	q.RecordFailed("a")
	if !q.Exceeded("a") {
		t.Error("6 failures with no successes should exceed 5 + 10%")
	}
}

func TestRecordQualityTenPercentHeadroom(t *testing.T) {
	q := NewRecordQuality()

	// 100 processed plus 15 failed records: threshold 5 + 115/10 = 16.
	for i := 0; i < 100; i++ {
		q.RecordProcessed("big")
	}
	for i := 0; i < 15; i++ {
		q.RecordFailed("big")
	}
	if q.Exceeded("big") {
		p, f := q.Counts("big")
		t.Errorf("processed=%d failed=%d should be acceptable", p, f)
	}
	for i := 0; i < 3; i++ {
		q.RecordFailed("big")
	}
	if !q.Exceeded("big") {
		t.Error("18 failures out of 118 should exceed the threshold")
	}
}

func TestRecordQualityPerAuthority(t *testing.T) {
	q := NewRecordQuality()
	for i := 0; i < 10; i++ {
		q.RecordFailed("bad")
	}
	if q.Exceeded("good") {
		t.Error("authorities must be tracked independently")
	}
	if !q.Exceeded("bad") {
		t.Error("bad authority should have exceeded its threshold")
	}
}
