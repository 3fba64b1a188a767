package cachestats

import "testing"

func TestEmptySnapshot(t *testing.T) {
	tracker := NewTracker(0)
	s := tracker.Snapshot()

	if s.Total != 0 {
		t.Errorf("Expected total 0, got %d", s.Total)
	}
	if s.HitRate != 0 || s.WindowHitRate != 0 {
		t.Errorf("Expected zero rates on empty tracker, got %f / %f", s.HitRate, s.WindowHitRate)
	}
	if s.WindowSize != DefaultWindowSize {
		t.Errorf("Expected default window size %d, got %d", DefaultWindowSize, s.WindowSize)
	}
}

func TestLifetimeRatio(t *testing.T) {
	tracker := NewTracker(8)

	for i := 0; i < 3; i++ {
		tracker.RecordHit()
	}
	tracker.RecordMiss()

	s := tracker.Snapshot()
	if s.Hits != 3 || s.Misses != 1 {
		t.Errorf("Expected 3 hits / 1 miss, got %d / %d", s.Hits, s.Misses)
	}
	if s.HitRate != 0.75 {
		t.Errorf("Expected hit rate 0.75, got %f", s.HitRate)
	}
}

func TestWindowRollsOver(t *testing.T) {
	tracker := NewTracker(4)

	// Four misses, then four hits: the window forgets the misses.
	for i := 0; i < 4; i++ {
		tracker.RecordMiss()
	}
	for i := 0; i < 4; i++ {
		tracker.RecordHit()
	}

	s := tracker.Snapshot()
	if s.WindowHitRate != 1.0 {
		t.Errorf("Expected window hit rate 1.0, got %f", s.WindowHitRate)
	}
	if s.HitRate != 0.5 {
		t.Errorf("Expected lifetime hit rate 0.5, got %f", s.HitRate)
	}
}

func TestPartialWindow(t *testing.T) {
	tracker := NewTracker(10)

	tracker.RecordHit()
	tracker.RecordMiss()

	s := tracker.Snapshot()
	if s.WindowHitRate != 0.5 {
		t.Errorf("Expected window hit rate 0.5 over 2 outcomes, got %f", s.WindowHitRate)
	}
}

func TestReset(t *testing.T) {
	tracker := NewTracker(4)

	tracker.RecordHit()
	tracker.RecordMiss()
	tracker.Reset()

	s := tracker.Snapshot()
	if s.Total != 0 || s.HitRate != 0 || s.WindowHitRate != 0 {
		t.Errorf("Expected clean state after reset, got %+v", s)
	}

	// The tracker keeps working after a reset.
	tracker.RecordHit()
	if s := tracker.Snapshot(); s.HitRate != 1.0 {
		t.Errorf("Expected hit rate 1.0 after reset and one hit, got %f", s.HitRate)
	}
}
