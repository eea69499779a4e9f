package types

import "time"

// Snapshot is the current month-to-date value of a location. It is rebuilt
// each update cycle and never persisted.
type Snapshot struct {
	AccountID       string          `json:"accountID"`
	Location        ServiceLocation `json:"location"`
	CurrentValue    *float64        `json:"currentValue"`
	LastReadingTime time.Time       `json:"lastReadingTime"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// SensorState is what the presentation layer sees for a location.
type SensorState struct {
	Snapshot
	StatisticID string `json:"statisticID"`
	Available   bool   `json:"available"`
}
