package smarthub

import (
	"fmt"
	"math"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// NormalizeSamples converts raw samples into hourly readings in UTC.
//
// The wall clock of each sample's epoch is read as if it were in loc. Every
// sample is added to the reading of its own hour, which the first sample of
// that hour starts. Hours that add up to 0 are dropped.
func NormalizeSamples(samples []types.UsageSample, loc *time.Location) ([]types.UsageReading, error) {
	if loc == nil {
		loc = time.UTC
	}
	var readings []types.UsageReading
	for i, s := range samples {
		if !finite(s.X) || !finite(s.Y) || s.X < 0 {
			return nil, &DataError{Msg: fmt.Sprintf("invalid usage sample %d: x=%v y=%v", i, s.X, s.Y)}
		}
		raw := int64(s.X)
		hour := providerTime(raw, loc).UTC().Truncate(time.Hour)

		if n := len(readings); n > 0 && readings[n-1].ReadingTime.Equal(hour) {
			readings[n-1].Consumption += s.Y
			continue
		}
		readings = append(readings, types.UsageReading{
			ReadingTime:  hour,
			Consumption:  s.Y,
			RawTimestamp: raw,
		})
	}

	kept := readings[:0]
	for _, r := range readings {
		if r.Consumption != 0 {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// providerTime re-reads the UTC wall clock of ms as a time in loc.
func providerTime(ms int64, loc *time.Location) time.Time {
	w := time.UnixMilli(ms).UTC()
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
