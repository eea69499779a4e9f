package smarthub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// ServiceLocations returns every location on the account that has a
// supported service. An account without any is not an error.
func (c *Client) ServiceLocations(ctx context.Context) ([]types.ServiceLocation, error) {
	var entries []userDataEntry
	_, err := c.doWithRetry(ctx, "user data",
		func(ctx context.Context, cred types.Credential) (*http.Request, error) {
			params := url.Values{}
			params.Set("userId", cred.PrimaryUsername)
			req, err := c.newGetRequest(ctx, userDataPath, params)
			if err != nil {
				return nil, err
			}
			c.setAuthHeaders(req, cred)
			return req, nil
		},
		func(body []byte) (PollStatus, error) {
			entries = nil
			if err := json.Unmarshal(body, &entries); err != nil {
				return PollNoData, &DataError{Msg: "invalid user data response", Err: err}
			}
			return PollComplete, nil
		},
	)
	if err != nil {
		return nil, err
	}

	locations := extractLocations(entries)
	log.Ctx(ctx).DebugContext(ctx, "resolved smarthub service locations", slog.Int("count", len(locations)))
	return locations, nil
}

// extractLocations keeps the summaries with a supported service. The first
// summary seen for a location id wins and the result is sorted by id.
func extractLocations(entries []userDataEntry) []types.ServiceLocation {
	seen := make(map[string]bool)
	var locations []types.ServiceLocation
	for _, entry := range entries {
		for id, summaries := range entry.ServiceLocationSummaries {
			if id == "" || seen[id] {
				continue
			}
			for _, summary := range summaries {
				service, ok := supportedService(summary.Services)
				if !ok {
					continue
				}
				description := "unknown"
				if summary.Description != nil {
					description = *summary.Description
				}
				locations = append(locations, types.ServiceLocation{
					ID:          id,
					Service:     service,
					Description: description,
				})
				seen[id] = true
				break
			}
		}
	}
	sort.Slice(locations, func(i, j int) bool {
		return locations[i].ID < locations[j].ID
	})
	return locations
}

func supportedService(services []string) (types.ServiceType, bool) {
	for _, s := range services {
		if st := types.ServiceType(s); st.IsSupported() {
			return st, true
		}
	}
	return "", false
}
