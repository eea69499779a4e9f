package types

import (
	"fmt"
	"time"
)

// ServiceType is the industry a service location is billed for.
type ServiceType string

const (
	ServiceElectric ServiceType = "ELECTRIC"
)

// SupportedServices lists the service types that are resolved into locations.
var SupportedServices = []ServiceType{ServiceElectric}

// IsSupported returns true if the service type can be tracked.
func (s ServiceType) IsSupported() bool {
	for _, st := range SupportedServices {
		if s == st {
			return true
		}
	}
	return false
}

// Aggregation is the granularity requested from the usage endpoint.
type Aggregation string

const (
	AggregationHourly  Aggregation = "HOURLY"
	AggregationMonthly Aggregation = "MONTHLY"
)

// Credential is the bearer token obtained from the identity endpoint along
// with the account identifier it resolved to.
type Credential struct {
	Token           string `json:"-"`
	PrimaryUsername string `json:"primaryUsername"`
}

// Valid returns true if a token is present.
func (c Credential) Valid() bool {
	return c.Token != ""
}

// ServiceLocation is a billable premise on the account.
type ServiceLocation struct {
	ID          string      `json:"id"`
	Service     ServiceType `json:"service"`
	Description string      `json:"description"`
}

// String implements fmt.Stringer.
func (l ServiceLocation) String() string {
	return fmt.Sprintf("%s (%s)", l.ID, l.Description)
}

// UsageSample is a raw point returned by the usage endpoint. X is an epoch in
// milliseconds whose wall clock is in the provider's time zone.
type UsageSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UsageReading is a normalized hourly consumption record. ReadingTime is
// always in UTC and aligned to the start of an hour.
type UsageReading struct {
	ReadingTime  time.Time `json:"readingTime"`
	Consumption  float64   `json:"consumption"`
	RawTimestamp int64     `json:"rawTimestamp"`
}

// UsageData is the result of a usage fetch. Found is false when the provider
// had nothing to return, which is not an error.
type UsageData struct {
	Usage []UsageReading `json:"usage"`
	Found bool           `json:"found"`
}

// Last returns the most recent reading, if any.
func (u UsageData) Last() (UsageReading, bool) {
	if len(u.Usage) == 0 {
		return UsageReading{}, false
	}
	return u.Usage[len(u.Usage)-1], true
}
