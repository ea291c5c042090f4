package analyser

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/config"
	"github.com/saviobatista/adsb-analyser/internal/testutils"
	"github.com/saviobatista/adsb-analyser/internal/types"
)

// fakeSink records publishes and optionally fails them.
type fakeSink struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (f *fakeSink) Publish(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeMirror struct {
	lines []string
	fail  bool
}

func (f *fakeMirror) PublishRaw(line, source string, ts time.Time) error {
	if f.fail {
		return errors.New("jetstream unavailable")
	}
	f.lines = append(f.lines, line)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		FeedSource:       "test:30003",
		PublishInterval:  time.Hour,
		StatusInterval:   time.Minute,
		PersistInterval:  time.Minute,
		PositionLat:      51.5,
		PositionLon:      -0.1,
		DistanceMaxNM:    1000,
		AltitudeMaxFt:    75000,
		AltitudeMinFt:    -1500,
		RegistryCapacity: 1024,
		VoxelCellNM:      5,
		VoxelCellFt:      5000,
		StorageDir:       t.TempDir(),
	}
}

func mustEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestProcessLineUpdatesRegistryAndGrid(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	now := time.Now()

	e.ProcessLine(testutils.MockPositionLine("4CA593", 51.6, 0.0, 35000), now)

	g := e.Stats.Snapshot().Global
	if g.MessagesTotal != 1 || g.MessagesPosition != 1 || g.PositionValid != 1 {
		t.Errorf("counters = %+v, want one total/position/valid", g)
	}
	if g.AircraftSeen != 1 {
		t.Errorf("AircraftSeen = %d, want 1", g.AircraftSeen)
	}
	if e.Registry.Count() != 1 {
		t.Errorf("Registry.Count() = %d, want 1", e.Registry.Count())
	}
	if e.Grid.Occupancy() == 0 {
		t.Errorf("grid untouched by accepted position")
	}
}

func TestProcessLineNonPositionCountsMessageOnly(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	e.ProcessLine(testutils.MockNonPositionLine("ABC123"), time.Now())

	g := e.Stats.Snapshot().Global
	if g.MessagesTotal != 1 {
		t.Errorf("MessagesTotal = %d, want 1", g.MessagesTotal)
	}
	if g.MessagesPosition != 0 || e.Registry.Count() != 0 {
		t.Errorf("non-position line reached the registry")
	}
}

func TestProcessLineInvalidPositionCounted(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	// Latitude beyond 90 passes the parser but fails validation.
	e.ProcessLine(testutils.MockPositionLine("ABC123", 95.0, 0.0, 1000), time.Now())

	g := e.Stats.Snapshot().Global
	if g.PositionInvalid != 1 {
		t.Errorf("PositionInvalid = %d, want 1", g.PositionInvalid)
	}
	if g.PositionValid != 0 || e.Registry.Count() != 0 {
		t.Errorf("invalid position mutated the registry")
	}
	if e.Grid.Occupancy() != 0 {
		t.Errorf("rejected position reached the grid")
	}
}

func TestPublishIdempotentWithoutUpdates(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	sink := &fakeSink{}
	e.SetSink(sink)

	e.Publish(time.Now())
	if sink.count() != 0 {
		t.Errorf("publish with no dirty aircraft issued a bus call")
	}
}

func TestPublishBatchAndAcknowledge(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	sink := &fakeSink{}
	e.SetSink(sink)
	now := time.Now()

	e.ProcessLine(testutils.MockPositionLine("AAAAAA", 51.6, 0.0, 35000), now)
	e.ProcessLine(testutils.MockPositionLine("BBBBBB", 51.7, 0.1, 20000), now)

	e.Publish(now.Add(time.Second))
	if sink.count() != 1 {
		t.Fatalf("publish issued %d bus calls, want 1", sink.count())
	}

	var msg types.BusMessage
	if err := json.Unmarshal(sink.payloads[0], &msg); err != nil {
		t.Fatalf("batch payload not valid JSON: %v", err)
	}
	if len(msg.Aircraft) != 2 {
		t.Fatalf("batch contains %d aircraft, want 2", len(msg.Aircraft))
	}
	if msg.PositionLat != 51.5 || msg.PositionLon != -0.1 {
		t.Errorf("batch reference position = %v,%v, want 51.5,-0.1", msg.PositionLat, msg.PositionLon)
	}
	for _, a := range msg.Aircraft {
		if a.ICAO != "AAAAAA" && a.ICAO != "BBBBBB" {
			t.Errorf("unexpected aircraft %q in batch", a.ICAO)
		}
		if a.Current.Time == 0 || a.Bounds.MaxDist.Dist == 0 {
			t.Errorf("aircraft %s missing current/bounds data", a.ICAO)
		}
	}

	// Acknowledged batch: the next tick has nothing to publish.
	e.Publish(now.Add(2 * time.Second))
	if sink.count() != 1 {
		t.Errorf("acknowledged aircraft republished")
	}
	if g := e.Stats.Snapshot().Global; g.PublishedMQTT != 2 {
		t.Errorf("PublishedMQTT = %d, want 2", g.PublishedMQTT)
	}
}

func TestPublishFailureLeavesAircraftDirty(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	sink := &fakeSink{fail: true}
	e.SetSink(sink)
	now := time.Now()

	e.ProcessLine(testutils.MockPositionLine("AAAAAA", 51.6, 0.0, 35000), now)

	e.Publish(now.Add(time.Second))
	if g := e.Stats.Snapshot().Global; g.PublishedMQTT != 0 {
		t.Errorf("failed publish counted as published")
	}

	// Broker recovers: the same aircraft is retried on the next tick.
	sink.fail = false
	e.Publish(now.Add(2 * time.Second))
	if sink.count() != 1 {
		t.Fatalf("dirty aircraft not retried after failure")
	}
	var msg types.BusMessage
	if err := json.Unmarshal(sink.payloads[0], &msg); err != nil {
		t.Fatalf("batch payload not valid JSON: %v", err)
	}
	if len(msg.Aircraft) != 1 || msg.Aircraft[0].ICAO != "AAAAAA" {
		t.Errorf("retried batch = %+v, want AAAAAA", msg.Aircraft)
	}
}

func TestPublishIntervalDrivenByLineArrival(t *testing.T) {
	cfg := testConfig(t)
	cfg.PublishInterval = time.Millisecond
	e := mustEngine(t, cfg)
	sink := &fakeSink{}
	e.SetSink(sink)

	// A line arriving after the interval has elapsed triggers the publish.
	e.ProcessLine(testutils.MockPositionLine("AAAAAA", 51.6, 0.0, 35000), time.Now().Add(time.Second))
	if sink.count() != 1 {
		t.Errorf("publish not triggered on the line path: %d calls", sink.count())
	}
}

func TestMirrorReceivesEveryMSGLine(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	mirror := &fakeMirror{}
	e.SetMirror(mirror)
	now := time.Now()

	e.ProcessLine(testutils.MockPositionLine("AAAAAA", 51.6, 0.0, 35000), now)
	e.ProcessLine(testutils.MockNonPositionLine("BBBBBB"), now)
	e.ProcessLine("garbage line", now)

	if len(mirror.lines) != 2 {
		t.Errorf("mirror received %d lines, want 2 (MSG lines only)", len(mirror.lines))
	}
}

func TestMirrorFailureCountedAndNonFatal(t *testing.T) {
	e := mustEngine(t, testConfig(t))
	e.SetMirror(&fakeMirror{fail: true})
	now := time.Now()

	e.ProcessLine(testutils.MockPositionLine("AAAAAA", 51.6, 0.0, 35000), now)
	e.ProcessLine(testutils.MockNonPositionLine("BBBBBB"), now)

	g := e.Stats.Snapshot().Global
	if g.MirrorErrors != 2 {
		t.Errorf("MirrorErrors = %d, want 2", g.MirrorErrors)
	}
	// The broken mirror must not disturb the analysis path.
	if g.MessagesTotal != 2 || g.PositionValid != 1 || e.Registry.Count() != 1 {
		t.Errorf("line processing disturbed by mirror failure: %+v", g)
	}
}
