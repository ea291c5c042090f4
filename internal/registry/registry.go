package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/geo"
	"github.com/saviobatista/adsb-analyser/internal/types"
)

const (
	pruneThreshold = 0.95
	pruneRatio     = 0.05
	maxAddressLen  = 6
)

var (
	// ErrPositionInvalid reports a position outside the configured geofence.
	ErrPositionInvalid = errors.New("position outside configured limits")
	// ErrTableFull reports a registry with no free slot for a new address.
	ErrTableFull = errors.New("aircraft table full")
)

// Limits is the geofence applied to incoming positions, anchored at the
// reference point.
type Limits struct {
	ReferenceLat  float64
	ReferenceLon  float64
	MaxDistanceNM float64
	MaxAltitudeFt float64
	MinAltitudeFt float64
}

// Bounds holds the extremum samples observed for one aircraft since it was
// first seen. Maxima only grow and minima only shrink; ties never replace the
// earlier sample.
type Bounds struct {
	MinLat  types.PositionSample
	MaxLat  types.PositionSample
	MinLon  types.PositionSample
	MaxLon  types.PositionSample
	MinAlt  types.PositionSample
	MaxAlt  types.PositionSample
	MinDist types.PositionSample
	MaxDist types.PositionSample
}

// Record is one tracked aircraft. Records are owned by the registry; callers
// always receive copies.
type Record struct {
	Address   string
	Current   types.PositionSample
	FirstSeen types.PositionSample
	Bounds    Bounds
	HasBounds bool
	Published time.Time
}

// Update is an aircraft whose state changed since its last acknowledged
// publish.
type Update struct {
	Address   string
	Current   types.PositionSample
	FirstSeen types.PositionSample
	Bounds    Bounds
}

// Registry is a fixed-capacity open-addressing hash table of aircraft keyed
// by address. One mutex serializes the single writer and the occasional
// persistence/publish readers.
type Registry struct {
	mu      sync.Mutex
	entries []Record
	count   int
	mask    uint32
	limits  Limits
}

// New creates a registry with the given capacity, which must be a power of
// two.
func New(capacity int, limits Limits) (*Registry, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("registry capacity must be a power of two, got %d", capacity)
	}
	return &Registry{
		entries: make([]Record, capacity),
		mask:    uint32(capacity - 1),
		limits:  limits,
	}, nil
}

// Capacity returns the fixed table size.
func (r *Registry) Capacity() int {
	return len(r.entries)
}

// Count returns the number of live entries.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// hash is a polynomial rolling hash over at most six address bytes, masked to
// the table size.
func (r *Registry) hash(address string) uint32 {
	var h uint32
	for i := 0; i < len(address) && i < maxAddressLen; i++ {
		h = h*31 + uint32(address[i])
	}
	return h & r.mask
}

// Update validates one position report against the geofence and, if accepted,
// applies it to the aircraft's record. It returns the accepted sample and
// whether a brand-new record was created. Rejected positions return
// ErrPositionInvalid without touching any record.
func (r *Registry) Update(address string, lat, lon float64, altFt int, ts time.Time) (types.PositionSample, bool, error) {
	if len(address) > maxAddressLen {
		address = address[:maxAddressLen]
	}

	distance := geo.DistanceNM(r.limits.ReferenceLat, r.limits.ReferenceLon, lat, lon)
	if !r.positionValid(lat, lon, altFt, distance) {
		return types.PositionSample{}, false, ErrPositionInvalid
	}

	sample := types.PositionSample{
		Latitude:   lat,
		Longitude:  lon,
		AltitudeFt: altFt,
		DistanceNM: distance,
		Timestamp:  ts,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, created, err := r.findOrCreate(address)
	if err != nil {
		return types.PositionSample{}, false, err
	}

	rec.Current = sample
	if !rec.HasBounds {
		rec.FirstSeen = sample
		rec.Bounds = Bounds{
			MinLat: sample, MaxLat: sample,
			MinLon: sample, MaxLon: sample,
			MinAlt: sample, MaxAlt: sample,
			MinDist: sample, MaxDist: sample,
		}
		rec.HasBounds = true
	} else {
		b := &rec.Bounds
		if sample.Latitude < b.MinLat.Latitude {
			b.MinLat = sample
		}
		if sample.Latitude > b.MaxLat.Latitude {
			b.MaxLat = sample
		}
		if sample.Longitude < b.MinLon.Longitude {
			b.MinLon = sample
		}
		if sample.Longitude > b.MaxLon.Longitude {
			b.MaxLon = sample
		}
		if sample.AltitudeFt < b.MinAlt.AltitudeFt {
			b.MinAlt = sample
		}
		if sample.AltitudeFt > b.MaxAlt.AltitudeFt {
			b.MaxAlt = sample
		}
		if sample.DistanceNM < b.MinDist.DistanceNM {
			b.MinDist = sample
		}
		if sample.DistanceNM > b.MaxDist.DistanceNM {
			b.MaxDist = sample
		}
	}

	return sample, created, nil
}

func (r *Registry) positionValid(lat, lon float64, altFt int, distance float64) bool {
	return lat >= -90.0 && lat <= 90.0 &&
		lon >= -180.0 && lon <= 180.0 &&
		float64(altFt) >= r.limits.MinAltitudeFt && float64(altFt) <= r.limits.MaxAltitudeFt &&
		distance <= r.limits.MaxDistanceNM
}

// findOrCreate probes for an existing record or claims the first empty slot,
// evicting the oldest entries first when the table is near capacity. Caller
// holds the lock.
func (r *Registry) findOrCreate(address string) (*Record, bool, error) {
	index := r.hash(address)
	start := index
	for r.entries[index].Address != "" {
		if r.entries[index].Address == address {
			return &r.entries[index], false, nil
		}
		index = (index + 1) & r.mask
		if index == start {
			return nil, false, ErrTableFull
		}
	}

	if r.count >= int(float64(len(r.entries))*pruneThreshold) {
		r.evictOldest()
	}

	r.entries[index] = Record{Address: address}
	r.count++
	return &r.entries[index], true, nil
}

// evictOldest clears the oldest entries by current-sample timestamp, one full
// scan per eviction, until 5% of capacity is removed or the table is empty.
// O(capacity) per entry, fires rarely.
func (r *Registry) evictOldest() {
	quota := int(float64(len(r.entries)) * pruneRatio)
	for quota > 0 {
		oldest := -1
		var oldestTime time.Time
		for i := range r.entries {
			if r.entries[i].Address == "" {
				continue
			}
			if oldest < 0 || r.entries[i].Current.Timestamp.Before(oldestTime) {
				oldest = i
				oldestTime = r.entries[i].Current.Timestamp
			}
		}
		if oldest < 0 {
			return
		}
		r.entries[oldest] = Record{}
		r.count--
		quota--
	}
}

// Pending returns copies of every aircraft whose current sample is newer than
// its last acknowledged publish and whose bounds are initialized.
func (r *Registry) Pending() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Update
	for i := range r.entries {
		e := &r.entries[i]
		if e.Address == "" || !e.HasBounds {
			continue
		}
		if !e.Current.Timestamp.After(e.Published) {
			continue
		}
		out = append(out, Update{
			Address:   e.Address,
			Current:   e.Current,
			FirstSeen: e.FirstSeen,
			Bounds:    e.Bounds,
		})
	}
	return out
}

// MarkPublished stamps the last-published time of the given aircraft. Called
// after a successful batch handoff; a failed handoff leaves them pending.
func (r *Registry) MarkPublished(addresses []string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, address := range addresses {
		if rec := r.lookup(address); rec != nil {
			rec.Published = now
		}
	}
}

// lookup probes for an existing record without creating one. Caller holds the
// lock.
func (r *Registry) lookup(address string) *Record {
	index := r.hash(address)
	start := index
	for r.entries[index].Address != "" {
		if r.entries[index].Address == address {
			return &r.entries[index]
		}
		index = (index + 1) & r.mask
		if index == start {
			break
		}
	}
	return nil
}
