package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/saviobatista/adsb-analyser/internal/types"
)

const (
	// Field positions in the SBS line, counted from the leading "MSG".
	fieldKind      = 0
	fieldSubtype   = 1
	fieldAddress   = 4
	fieldAltitude  = 11
	fieldLatitude  = 14
	fieldLongitude = 15

	maxFields      = 18
	minFields      = 16
	maxAddressLen  = 6
	airbornePosMsg = "3"
)

// Parse decodes one SBS line into a position report. Only airborne position
// messages (MSG subtype 3) with both coordinates present are accepted; the
// second return value is false for everything else. Numeric fields are
// converted permissively, so malformed numbers become 0 instead of rejecting
// the line.
func Parse(line string, now time.Time) (*types.PositionReport, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) > maxFields {
		fields = fields[:maxFields]
	}
	if len(fields) < minFields {
		return nil, false
	}

	if fields[fieldKind] != "MSG" || fields[fieldSubtype] != airbornePosMsg {
		return nil, false
	}
	if fields[fieldLatitude] == "" || fields[fieldLongitude] == "" {
		return nil, false
	}

	address := fields[fieldAddress]
	if len(address) > maxAddressLen {
		address = address[:maxAddressLen]
	}

	altitude := 0
	if fields[fieldAltitude] != "" {
		altitude = atoiPermissive(fields[fieldAltitude])
	}

	return &types.PositionReport{
		Address:    address,
		Latitude:   atofPermissive(fields[fieldLatitude]),
		Longitude:  atofPermissive(fields[fieldLongitude]),
		AltitudeFt: altitude,
		Timestamp:  now,
	}, true
}

func atofPermissive(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func atoiPermissive(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
