package testutils

import (
	"context"
	"fmt"
	"time"
)

// MockPositionLine builds a well-formed SBS airborne position line (MSG
// subtype 3) for the given aircraft.
func MockPositionLine(icao string, lat, lon float64, altFt int) string {
	return fmt.Sprintf(
		"MSG,3,1,1,%s,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,%d,,,%.4f,%.4f,,,,,,,0",
		icao, altFt, lat, lon)
}

// MockNonPositionLine builds an SBS line of another subtype that the parser
// must ignore.
func MockNonPositionLine(icao string) string {
	return fmt.Sprintf(
		"MSG,4,1,1,%s,1,2024/01/01,00:00:00.000,2024/01/01,00:00:00.000,,,450.0,180.0,,,,,,,,,0",
		icao)
}

// WaitForCondition waits for a condition to become true with timeout.
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
