package registry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/geo"
)

func testLimits() Limits {
	return Limits{
		ReferenceLat:  0,
		ReferenceLon:  0,
		MaxDistanceNM: 1000,
		MaxAltitudeFt: 75000,
		MinAltitudeFt: -1500,
	}
}

func mustNew(t *testing.T, capacity int, limits Limits) *Registry {
	t.Helper()
	r, err := New(capacity, limits)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, 3, 100} {
		if _, err := New(capacity, testLimits()); err == nil {
			t.Errorf("New(%d) expected error", capacity)
		}
	}
}

func TestHashDeterministicAndInRange(t *testing.T) {
	r := mustNew(t, 256, testLimits())

	addresses := []string{"", "A", "ABC123", "4CA593", "ZZZZZZ", "abcdef", "~~~~~~"}
	for _, address := range addresses {
		h1 := r.hash(address)
		h2 := r.hash(address)
		if h1 != h2 {
			t.Errorf("hash(%q) not deterministic: %d != %d", address, h1, h2)
		}
		if int(h1) >= r.Capacity() {
			t.Errorf("hash(%q) = %d, outside [0, %d)", address, h1, r.Capacity())
		}
	}
}

func TestUpdateRejectsInvalidPositions(t *testing.T) {
	limits := testLimits()
	limits.MaxDistanceNM = geo.DistanceNM(0, 0, 0, 1)
	r := mustNew(t, 256, limits)
	now := time.Now()

	tests := []struct {
		name     string
		lat, lon float64
		altFt    int
	}{
		{"latitude above 90", 95, 0, 1000},
		{"latitude below -90", -95, 0, 1000},
		{"longitude above 180", 0, 181, 1000},
		{"longitude below -180", 0, -181, 1000},
		{"altitude above band", 0, 0.5, 80000},
		{"altitude below band", 0, 0.5, -2000},
		{"beyond max distance", 0, 1.001, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Update("ABC123", tt.lat, tt.lon, tt.altFt, now)
			if !errors.Is(err, ErrPositionInvalid) {
				t.Errorf("Update() error = %v, want ErrPositionInvalid", err)
			}
		})
	}

	if r.Count() != 0 {
		t.Errorf("Count() = %d after rejected updates, want 0", r.Count())
	}
}

func TestUpdateAcceptsBoundaryDistance(t *testing.T) {
	limits := testLimits()
	limits.MaxDistanceNM = geo.DistanceNM(0, 0, 0, 1)
	r := mustNew(t, 256, limits)

	sample, created, err := r.Update("ABC123", 0, 1, 1000, time.Now())
	if err != nil {
		t.Fatalf("Update() at exactly max distance: %v", err)
	}
	if !created {
		t.Errorf("Update() created = false, want true")
	}
	if sample.DistanceNM > limits.MaxDistanceNM {
		t.Errorf("sample distance %v beyond limit %v", sample.DistanceNM, limits.MaxDistanceNM)
	}
}

func TestUpdateExtremaMonotonic(t *testing.T) {
	r := mustNew(t, 256, testLimits())
	base := time.Now()

	// Scenario: 10nm out, then 5nm back in. Max distance must keep the
	// farther sample while current reflects the latest.
	farLon := 10.0 / 60.0
	nearLon := 5.0 / 60.0

	farSample, _, err := r.Update("ABC123", 0, farLon, 30000, base)
	if err != nil {
		t.Fatalf("first Update(): %v", err)
	}
	nearSample, created, err := r.Update("ABC123", 0, nearLon, 20000, base.Add(time.Second))
	if err != nil {
		t.Fatalf("second Update(): %v", err)
	}
	if created {
		t.Errorf("second Update() created = true, want false")
	}

	pending := r.Pending()
	if len(pending) != 1 {
		t.Fatalf("Pending() returned %d aircraft, want 1", len(pending))
	}
	aircraft := pending[0]

	if aircraft.Current.DistanceNM != nearSample.DistanceNM {
		t.Errorf("current distance = %v, want %v", aircraft.Current.DistanceNM, nearSample.DistanceNM)
	}
	if aircraft.Bounds.MaxDist.DistanceNM != farSample.DistanceNM {
		t.Errorf("max distance = %v, want %v", aircraft.Bounds.MaxDist.DistanceNM, farSample.DistanceNM)
	}
	if aircraft.Bounds.MinDist.DistanceNM != nearSample.DistanceNM {
		t.Errorf("min distance = %v, want %v", aircraft.Bounds.MinDist.DistanceNM, nearSample.DistanceNM)
	}
	if aircraft.Bounds.MaxAlt.AltitudeFt != 30000 {
		t.Errorf("max altitude = %d, want 30000", aircraft.Bounds.MaxAlt.AltitudeFt)
	}
	if aircraft.Bounds.MinAlt.AltitudeFt != 20000 {
		t.Errorf("min altitude = %d, want 20000", aircraft.Bounds.MinAlt.AltitudeFt)
	}
	if aircraft.FirstSeen.DistanceNM != farSample.DistanceNM {
		t.Errorf("first seen distance = %v, want %v", aircraft.FirstSeen.DistanceNM, farSample.DistanceNM)
	}
}

func TestUpdateExtremaIgnoreTies(t *testing.T) {
	r := mustNew(t, 256, testLimits())
	base := time.Now()

	first, _, err := r.Update("ABC123", 10, 10, 5000, base)
	if err != nil {
		t.Fatalf("first Update(): %v", err)
	}
	// Identical position one second later: ties must keep the earlier sample.
	if _, _, err := r.Update("ABC123", 10, 10, 5000, base.Add(time.Second)); err != nil {
		t.Fatalf("second Update(): %v", err)
	}

	aircraft := r.Pending()[0]
	if !aircraft.Bounds.MaxLat.Timestamp.Equal(first.Timestamp) {
		t.Errorf("tie replaced max-lat sample: got %v, want %v",
			aircraft.Bounds.MaxLat.Timestamp, first.Timestamp)
	}
	if !aircraft.Current.Timestamp.Equal(base.Add(time.Second)) {
		t.Errorf("current not overwritten on tie")
	}
}

func TestEvictionRemovesOldest(t *testing.T) {
	const capacity = 64
	r := mustNew(t, capacity, testLimits())
	base := time.Now()

	// Fill to the 95% threshold (60 of 64) with strictly increasing
	// last-seen timestamps.
	for i := 0; i < 60; i++ {
		address := fmt.Sprintf("AC%04d", i)
		if _, _, err := r.Update(address, 1, 1, 10000, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Update(%s): %v", address, err)
		}
	}
	if r.Count() != 60 {
		t.Fatalf("Count() = %d, want 60", r.Count())
	}

	// The next brand-new address triggers eviction of the oldest 5% of
	// capacity (3 entries) before the insert.
	if _, created, err := r.Update("NEW001", 1, 1, 10000, base.Add(time.Hour)); err != nil || !created {
		t.Fatalf("Update(NEW001) created=%v err=%v", created, err)
	}

	if r.Count() != 58 {
		t.Errorf("Count() = %d after eviction, want 58", r.Count())
	}
	if r.Count() > capacity {
		t.Errorf("Count() = %d exceeds capacity %d", r.Count(), capacity)
	}

	live := make(map[string]bool)
	for _, u := range r.Pending() {
		live[u.Address] = true
	}
	for i := 0; i < 3; i++ {
		address := fmt.Sprintf("AC%04d", i)
		if live[address] {
			t.Errorf("oldest entry %s survived eviction", address)
		}
	}
	for i := 3; i < 60; i++ {
		address := fmt.Sprintf("AC%04d", i)
		if !live[address] {
			t.Errorf("newer entry %s was evicted", address)
		}
	}
	if !live["NEW001"] {
		t.Errorf("new entry missing after eviction")
	}
}

func TestTableFull(t *testing.T) {
	// Capacity 2 never reaches an eviction quota (5% of 2 rounds to 0),
	// so the third distinct address wraps the probe sequence.
	r := mustNew(t, 2, testLimits())
	now := time.Now()

	if _, _, err := r.Update("AAAAAA", 1, 1, 1000, now); err != nil {
		t.Fatalf("Update(AAAAAA): %v", err)
	}
	if _, _, err := r.Update("BBBBBB", 1, 1, 1000, now); err != nil {
		t.Fatalf("Update(BBBBBB): %v", err)
	}
	if _, _, err := r.Update("CCCCCC", 1, 1, 1000, now); !errors.Is(err, ErrTableFull) {
		t.Errorf("Update(CCCCCC) error = %v, want ErrTableFull", err)
	}
}

func TestMarkPublished(t *testing.T) {
	r := mustNew(t, 256, testLimits())
	base := time.Now()

	if _, _, err := r.Update("ABC123", 1, 1, 1000, base); err != nil {
		t.Fatalf("Update(): %v", err)
	}
	if n := len(r.Pending()); n != 1 {
		t.Fatalf("Pending() = %d aircraft, want 1", n)
	}

	r.MarkPublished([]string{"ABC123"}, base.Add(time.Second))
	if n := len(r.Pending()); n != 0 {
		t.Errorf("Pending() = %d aircraft after MarkPublished, want 0", n)
	}

	// A newer sample makes it pending again.
	if _, _, err := r.Update("ABC123", 1, 1.1, 1000, base.Add(2*time.Second)); err != nil {
		t.Fatalf("Update(): %v", err)
	}
	if n := len(r.Pending()); n != 1 {
		t.Errorf("Pending() = %d aircraft after new sample, want 1", n)
	}
}
