package types

import (
	"fmt"
	"time"
)

const (
	StatisticSource = "smarthub"
	StatisticUnit   = "kWh"
)

// StatisticPoint is one hour of a cumulative series. Sum is the running total
// since the series began and State is the increment for this hour.
type StatisticPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// StatisticMetadata describes a cumulative series.
type StatisticMetadata struct {
	StatisticID string `json:"statisticID"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	HasSum      bool   `json:"hasSum"`
}

// StatisticID returns the series id for an account's location.
func StatisticID(accountID, locationID string) string {
	return fmt.Sprintf("%s:smarthub_energy_sensor_%s_%s", StatisticSource, accountID, locationID)
}

// NewStatisticMetadata builds the metadata of a location's hourly usage series.
func NewStatisticMetadata(accountID string, loc ServiceLocation) StatisticMetadata {
	return StatisticMetadata{
		StatisticID: StatisticID(accountID, loc.ID),
		Name:        fmt.Sprintf("SmartHub Energy Hourly Usage - %s - %s", accountID, loc.Description),
		Source:      StatisticSource,
		Unit:        StatisticUnit,
		HasSum:      true,
	}
}

// ValidateStatistics checks that points are hour aligned, strictly increasing
// in Start, and that no State is negative and no Sum regresses. prev, if not
// nil, is the point the batch continues from.
func ValidateStatistics(prev *StatisticPoint, points []StatisticPoint) error {
	for i, p := range points {
		if p.Start.IsZero() {
			return fmt.Errorf("point %d missing start", i)
		}
		if !p.Start.Equal(p.Start.Truncate(time.Hour)) {
			return fmt.Errorf("point %d start %s is not hour aligned", i, p.Start.UTC().Format(time.RFC3339))
		}
		if p.State < 0 {
			return fmt.Errorf("point %d has negative state %f", i, p.State)
		}
		if prev != nil {
			if !p.Start.After(prev.Start) {
				return fmt.Errorf("point %d start %s is not after %s", i, p.Start.UTC().Format(time.RFC3339), prev.Start.UTC().Format(time.RFC3339))
			}
			if p.Sum < prev.Sum {
				return fmt.Errorf("point %d sum %f regresses from %f", i, p.Sum, prev.Sum)
			}
		}
		prev = &points[i]
	}
	return nil
}
