package types

import (
	"time"
)

// PositionReport is a single airborne position decoded from the feed. It is
// consumed immediately by the registry and grid updates.
type PositionReport struct {
	Address    string
	Latitude   float64
	Longitude  float64
	AltitudeFt int
	Timestamp  time.Time
}

// PositionSample is a remembered position together with its great-circle
// distance from the reference point.
type PositionSample struct {
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
	AltitudeFt int       `json:"altitude_ft"`
	DistanceNM float64   `json:"distance_nm"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bus converts the sample to its outbound wire form.
func (s PositionSample) Bus() BusSample {
	return BusSample{
		Lat:  s.Latitude,
		Lon:  s.Longitude,
		Alt:  s.AltitudeFt,
		Dist: s.DistanceNM,
		Time: s.Timestamp.Unix(),
	}
}

// BusSample is one position record inside the outbound bus message.
type BusSample struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  int     `json:"alt"`
	Dist float64 `json:"dist"`
	Time int64   `json:"time"`
}

// BusBounds carries the eight extremum samples of one aircraft.
type BusBounds struct {
	MinLat  BusSample `json:"min_lat"`
	MaxLat  BusSample `json:"max_lat"`
	MinLon  BusSample `json:"min_lon"`
	MaxLon  BusSample `json:"max_lon"`
	MinAlt  BusSample `json:"min_alt"`
	MaxAlt  BusSample `json:"max_alt"`
	MinDist BusSample `json:"min_dist"`
	MaxDist BusSample `json:"max_dist"`
}

// BusAircraft is one aircraft entry inside the outbound bus message.
type BusAircraft struct {
	ICAO    string    `json:"icao"`
	Current BusSample `json:"current"`
	First   BusSample `json:"first"`
	Bounds  BusBounds `json:"bounds"`
}

// BusMessage is the batch published on each publish tick.
type BusMessage struct {
	Timestamp   int64         `json:"timestamp"`
	PositionLat float64       `json:"position_lat"`
	PositionLon float64       `json:"position_lon"`
	Aircraft    []BusAircraft `json:"aircraft"`
}
