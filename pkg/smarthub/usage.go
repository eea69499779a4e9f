package smarthub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// DefaultUsageWindow is how far back EnergyData reaches when no start is
// given.
const DefaultUsageWindow = 30 * 24 * time.Hour

// EnergyData fetches the usage of a location from start until the current
// hour at the given aggregation and normalizes it into hourly readings. A nil
// start means the last 30 days.
func (c *Client) EnergyData(ctx context.Context, loc types.ServiceLocation, start *time.Time, aggregation types.Aggregation) (types.UsageData, error) {
	end := c.now().Truncate(time.Hour)
	from := end.Add(-DefaultUsageWindow)
	if start != nil {
		from = *start
	}

	body := pollRequest{
		TimeFrame:             aggregation,
		UserID:                c.cfg.Email,
		Screen:                pollScreen,
		IncludeDemand:         false,
		ServiceLocationNumber: loc.ID,
		AccountNumber:         c.cfg.AccountID,
		Industries:            []types.ServiceType{types.ServiceElectric},
		StartDateTime:         strconv.FormatInt(from.Unix()*1000, 10),
		EndDateTime:           strconv.FormatInt(end.Unix()*1000, 10),
	}

	log.Ctx(ctx).DebugContext(ctx, "requesting smarthub usage",
		slog.String("locationID", loc.ID),
		slog.String("aggregation", string(aggregation)),
		slog.Time("start", from),
		slog.Time("end", end),
	)

	var res pollResponse
	status, err := c.doWithRetry(ctx, "usage poll",
		func(ctx context.Context, cred types.Credential) (*http.Request, error) {
			req, err := c.newPostJSONRequest(ctx, pollPath, body)
			if err != nil {
				return nil, err
			}
			c.setAuthHeaders(req, cred)
			return req, nil
		},
		func(b []byte) (PollStatus, error) {
			res = pollResponse{}
			if err := json.Unmarshal(b, &res); err != nil {
				return PollNoData, &DataError{Msg: "invalid usage poll response", Err: err}
			}
			switch res.Status {
			case pollStatusPending:
				return PollPending, nil
			case pollStatusComplete:
				return PollComplete, nil
			default:
				log.Ctx(ctx).WarnContext(ctx, "unexpected smarthub poll status", slog.String("status", res.Status))
				return PollNoData, nil
			}
		},
	)
	if err != nil {
		return types.UsageData{}, err
	}
	if status != PollComplete {
		return types.UsageData{}, nil
	}
	return c.normalizeResponse(ctx, &res)
}

// normalizeResponse picks the USAGE entry out of a complete poll response.
func (c *Client) normalizeResponse(ctx context.Context, res *pollResponse) (types.UsageData, error) {
	if len(res.Data.Electric) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "no ELECTRIC data found in smarthub response")
		return types.UsageData{}, nil
	}
	for _, entry := range res.Data.Electric {
		if entry.Type != usageEntryType {
			continue
		}
		var samples []types.UsageSample
		for _, s := range entry.Series {
			samples = append(samples, s.Data...)
		}
		readings, err := NormalizeSamples(samples, c.loc)
		if err != nil {
			return types.UsageData{}, err
		}
		log.Ctx(ctx).DebugContext(ctx, "parsed smarthub usage", slog.Int("samples", len(samples)), slog.Int("readings", len(readings)))
		return types.UsageData{Usage: readings, Found: true}, nil
	}
	return types.UsageData{}, nil
}
