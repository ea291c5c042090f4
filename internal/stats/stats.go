package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/types"
)

const snapshotVersion = 1

// Extreme is the best-yet sample of one dimension, tagged with the owning
// aircraft address.
type Extreme struct {
	ICAO string               `json:"icao"`
	Pos  types.PositionSample `json:"pos"`
}

// Global is the cumulative counter block, also the on-disk form inside the
// stats snapshot.
type Global struct {
	MessagesTotal    uint64  `json:"messages_total"`
	MessagesPosition uint64  `json:"messages_position"`
	PositionValid    uint64  `json:"position_valid"`
	PositionInvalid  uint64  `json:"position_invalid"`
	PublishedMQTT    uint64  `json:"published_mqtt"`
	AircraftSeen     uint64  `json:"aircraft_seen"`
	MirrorErrors     uint64  `json:"mirror_errors"`
	DistanceMax      Extreme `json:"distance_max"`
	AltitudeMax      Extreme `json:"altitude_max"`
}

// Snapshot is the stats snapshot file layout.
type Snapshot struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Global  Global    `json:"global"`
}

// Stats tracks message processing statistics. Counters are atomic; the
// extremes are guarded by a small mutex off the hot path.
type Stats struct {
	messagesTotal    uint64
	messagesPosition uint64
	positionValid    uint64
	positionInvalid  uint64
	publishedMQTT    uint64
	aircraftSeen     uint64
	mirrorErrors     uint64

	mu                sync.Mutex
	distanceMax       Extreme
	altitudeMax       Extreme
	windowDistanceMax Extreme
	windowAltitudeMax Extreme
}

// New creates an empty Stats instance.
func New() *Stats {
	return &Stats{}
}

// IncMessagesTotal counts one raw MSG line from the feed.
func (s *Stats) IncMessagesTotal() {
	atomic.AddUint64(&s.messagesTotal, 1)
}

// IncMessagesPosition counts one parsed airborne position message.
func (s *Stats) IncMessagesPosition() {
	atomic.AddUint64(&s.messagesPosition, 1)
}

// IncPositionValid counts one position accepted by the geofence.
func (s *Stats) IncPositionValid() {
	atomic.AddUint64(&s.positionValid, 1)
}

// IncPositionInvalid counts one position rejected by the geofence.
func (s *Stats) IncPositionInvalid() {
	atomic.AddUint64(&s.positionInvalid, 1)
}

// IncAircraftSeen counts one newly created aircraft record.
func (s *Stats) IncAircraftSeen() {
	atomic.AddUint64(&s.aircraftSeen, 1)
}

// AddPublished counts aircraft acknowledged by the bus in one batch.
func (s *Stats) AddPublished(n uint64) {
	atomic.AddUint64(&s.publishedMQTT, n)
}

// IncMirrorErrors counts one failed raw-line mirror publish.
func (s *Stats) IncMirrorErrors() {
	atomic.AddUint64(&s.mirrorErrors, 1)
}

// ObservePosition folds an accepted sample into the cumulative and
// window-scoped farthest-distance and highest-altitude extremes.
func (s *Stats) ObservePosition(icao string, sample types.PositionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.distanceMax.ICAO == "" || sample.DistanceNM > s.distanceMax.Pos.DistanceNM {
		s.distanceMax = Extreme{ICAO: icao, Pos: sample}
	}
	if s.altitudeMax.ICAO == "" || sample.AltitudeFt > s.altitudeMax.Pos.AltitudeFt {
		s.altitudeMax = Extreme{ICAO: icao, Pos: sample}
	}
	if s.windowDistanceMax.ICAO == "" || sample.DistanceNM > s.windowDistanceMax.Pos.DistanceNM {
		s.windowDistanceMax = Extreme{ICAO: icao, Pos: sample}
	}
	if s.windowAltitudeMax.ICAO == "" || sample.AltitudeFt > s.windowAltitudeMax.Pos.AltitudeFt {
		s.windowAltitudeMax = Extreme{ICAO: icao, Pos: sample}
	}
}

// Window returns the extremes observed since the last reset.
func (s *Stats) Window() (distanceMax, altitudeMax Extreme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowDistanceMax, s.windowAltitudeMax
}

// ResetWindow clears the window-scoped extremes, typically after each status
// emission.
func (s *Stats) ResetWindow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowDistanceMax = Extreme{}
	s.windowAltitudeMax = Extreme{}
}

// Snapshot returns the current cumulative counters in snapshot form.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	distanceMax := s.distanceMax
	altitudeMax := s.altitudeMax
	s.mu.Unlock()

	return Snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Global: Global{
			MessagesTotal:    atomic.LoadUint64(&s.messagesTotal),
			MessagesPosition: atomic.LoadUint64(&s.messagesPosition),
			PositionValid:    atomic.LoadUint64(&s.positionValid),
			PositionInvalid:  atomic.LoadUint64(&s.positionInvalid),
			PublishedMQTT:    atomic.LoadUint64(&s.publishedMQTT),
			AircraftSeen:     atomic.LoadUint64(&s.aircraftSeen),
			MirrorErrors:     atomic.LoadUint64(&s.mirrorErrors),
			DistanceMax:      distanceMax,
			AltitudeMax:      altitudeMax,
		},
	}
}

// Merge folds a loaded snapshot into the cumulative counters. Counters add,
// extremes keep whichever sample is larger. Window extremes are untouched.
func (s *Stats) Merge(snap Snapshot) {
	atomic.AddUint64(&s.messagesTotal, snap.Global.MessagesTotal)
	atomic.AddUint64(&s.messagesPosition, snap.Global.MessagesPosition)
	atomic.AddUint64(&s.positionValid, snap.Global.PositionValid)
	atomic.AddUint64(&s.positionInvalid, snap.Global.PositionInvalid)
	atomic.AddUint64(&s.publishedMQTT, snap.Global.PublishedMQTT)
	atomic.AddUint64(&s.aircraftSeen, snap.Global.AircraftSeen)
	atomic.AddUint64(&s.mirrorErrors, snap.Global.MirrorErrors)

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := snap.Global.DistanceMax
	if loaded.ICAO != "" && (s.distanceMax.ICAO == "" || loaded.Pos.DistanceNM > s.distanceMax.Pos.DistanceNM) {
		s.distanceMax = loaded
	}
	loaded = snap.Global.AltitudeMax
	if loaded.ICAO != "" && (s.altitudeMax.ICAO == "" || loaded.Pos.AltitudeFt > s.altitudeMax.Pos.AltitudeFt) {
		s.altitudeMax = loaded
	}
}

// StatusLine renders the periodic one-line summary.
func (s *Stats) StatusLine(aircraft int, occupancy float64) string {
	g := s.Snapshot().Global
	return fmt.Sprintf(
		"status: messages=%d, positions=%d (valid=%d, invalid=%d), aircraft=%d, distance-max=%.1fnm (%s), altitude-max=%.0fft (%s), published-mqtt=%d, occupancy=%.2f%%",
		g.MessagesTotal, g.MessagesPosition, g.PositionValid, g.PositionInvalid,
		aircraft,
		g.DistanceMax.Pos.DistanceNM, g.DistanceMax.ICAO,
		float64(g.AltitudeMax.Pos.AltitudeFt), g.AltitudeMax.ICAO,
		g.PublishedMQTT, occupancy*100,
	)
}

// WindowLine renders the since-last-status extremes, or "" when the window is
// empty.
func (s *Stats) WindowLine() string {
	distanceMax, altitudeMax := s.Window()
	if distanceMax.ICAO == "" && altitudeMax.ICAO == "" {
		return ""
	}
	return fmt.Sprintf("window: distance-max=%.1fnm (%s), altitude-max=%dft (%s)",
		distanceMax.Pos.DistanceNM, distanceMax.ICAO,
		altitudeMax.Pos.AltitudeFt, altitudeMax.ICAO)
}
