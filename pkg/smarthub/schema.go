package smarthub

import (
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// user-data response: one entry per account the user can see.
type userDataEntry struct {
	Account                  string                              `json:"account"`
	ServiceLocationSummaries map[string][]serviceLocationSummary `json:"serviceLocationToUserDataServiceLocationSummaries"`
}

type serviceLocationSummary struct {
	Description *string  `json:"description"`
	Services    []string `json:"services"`
}

const (
	pollScreen         = "USAGE_EXPLORER"
	pollStatusPending  = "PENDING"
	pollStatusComplete = "COMPLETE"
	usageEntryType     = "USAGE"
)

type pollRequest struct {
	TimeFrame             types.Aggregation   `json:"timeFrame"`
	UserID                string              `json:"userId"`
	Screen                string              `json:"screen"`
	IncludeDemand         bool                `json:"includeDemand"`
	ServiceLocationNumber string              `json:"serviceLocationNumber"`
	AccountNumber         string              `json:"accountNumber"`
	Industries            []types.ServiceType `json:"industries"`
	StartDateTime         string              `json:"startDateTime"`
	EndDateTime           string              `json:"endDateTime"`
}

type pollResponse struct {
	Status string          `json:"status"`
	Data   pollResponseSet `json:"data"`
}

type pollResponseSet struct {
	Electric []usageEntry `json:"ELECTRIC"`
}

type usageEntry struct {
	Type   string        `json:"type"`
	Series []usageSeries `json:"series"`
}

type usageSeries struct {
	Name string              `json:"name"`
	Data []types.UsageSample `json:"data"`
}
