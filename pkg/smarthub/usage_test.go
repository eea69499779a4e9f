package smarthub

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLocation = types.ServiceLocation{ID: "456", Service: types.ServiceElectric, Description: "Home"}

func TestEnergyData(t *testing.T) {
	ctx := context.Background()
	hour := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Complete", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, completeStep(
			[2]float64{1640995200000, 100.5},
			[2]float64{1640996100000, 10.0},
		))
		c := newTestClient(t, ts)
		now := time.Date(2022, 1, 2, 15, 42, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		start := hour
		data, err := c.EnergyData(ctx, testLocation, &start, types.AggregationHourly)
		require.NoError(t, err)
		require.True(t, data.Found)
		require.Len(t, data.Usage, 1)
		assert.Equal(t, hour, data.Usage[0].ReadingTime)
		assert.InDelta(t, 110.5, data.Usage[0].Consumption, 1e-9)
		assert.Equal(t, int64(1640995200000), data.Usage[0].RawTimestamp)

		require.Len(t, f.pollBodies, 1)
		body := f.pollBodies[0]
		assert.Equal(t, "HOURLY", body["timeFrame"])
		assert.Equal(t, "user@example.com", body["userId"])
		assert.Equal(t, "USAGE_EXPLORER", body["screen"])
		assert.Equal(t, false, body["includeDemand"])
		assert.Equal(t, "456", body["serviceLocationNumber"])
		assert.Equal(t, "123", body["accountNumber"])
		assert.Equal(t, []interface{}{"ELECTRIC"}, body["industries"])
		assert.Equal(t, "1640995200000", body["startDateTime"])
		assert.Equal(t, strconv.FormatInt(time.Date(2022, 1, 2, 15, 0, 0, 0, time.UTC).UnixMilli(), 10), body["endDateTime"])
		assert.Equal(t, "Bearer token-1", f.pollTokens[0])
	})

	t.Run("DefaultWindow", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, completeStep())
		c := newTestClient(t, ts)
		now := time.Date(2022, 3, 10, 8, 5, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationMonthly)
		require.NoError(t, err)
		end := time.Date(2022, 3, 10, 8, 0, 0, 0, time.UTC)
		assert.Equal(t, "MONTHLY", f.pollBodies[0]["timeFrame"])
		assert.Equal(t, strconv.FormatInt(end.Add(-30*24*time.Hour).UnixMilli(), 10), f.pollBodies[0]["startDateTime"])
		assert.Equal(t, strconv.FormatInt(end.UnixMilli(), 10), f.pollBodies[0]["endDateTime"])
	})

	t.Run("PendingThenComplete", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, pendingStep(), completeStep([2]float64{1640995200000, 2}))
		c := newTestClient(t, ts)

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err)
		require.True(t, data.Found)
		require.Len(t, data.Usage, 1)
		assert.Equal(t, 2.0, data.Usage[0].Consumption)
		_, polls := f.counts()
		assert.Equal(t, 2, polls)
	})

	t.Run("PendingExhausted", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, pendingStep())
		c := newTestClient(t, ts)

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err, "pending after every attempt is no data, not an error")
		assert.False(t, data.Found)
		assert.Empty(t, data.Usage)
		_, polls := f.counts()
		assert.Equal(t, DefaultMaxRetries, polls)
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, jsonStep(map[string]interface{}{"status": "ERROR"}))
		c := newTestClient(t, ts)

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err)
		assert.False(t, data.Found)
		_, polls := f.counts()
		assert.Equal(t, 1, polls)
	})

	t.Run("ExpiredTokenRefreshedOnce", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, statusStep(http.StatusUnauthorized), completeStep([2]float64{1640995200000, 3}))
		c := newTestClient(t, ts)
		c.cred = types.Credential{Token: "cached", PrimaryUsername: "primary@example.com"}

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err)
		require.Len(t, data.Usage, 1)
		assert.Equal(t, 3.0, data.Usage[0].Consumption)

		logins, polls := f.counts()
		assert.Equal(t, 1, logins, "exactly one refresh")
		assert.Equal(t, 2, polls)
		assert.Equal(t, []string{"Bearer cached", "Bearer token-1"}, f.pollTokens)
	})

	t.Run("UnauthorizedAfterRefresh", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, statusStep(http.StatusUnauthorized))
		c := newTestClient(t, ts)
		c.cred = types.Credential{Token: "cached"}

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.Error(t, err)
		assert.True(t, IsAuthError(err))
		logins, polls := f.counts()
		assert.Equal(t, 1, logins)
		assert.Equal(t, 2, polls)
	})

	t.Run("FreshTokenCountsAsRefresh", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, statusStep(http.StatusUnauthorized))
		c := newTestClient(t, ts)

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.Error(t, err)
		assert.True(t, IsAuthError(err))
		logins, polls := f.counts()
		assert.Equal(t, 1, logins)
		assert.Equal(t, 1, polls)
	})

	t.Run("ErrorStatusNotRetried", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, statusStep(http.StatusInternalServerError))
		c := newTestClient(t, ts)

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		var ce *ConnectionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, http.StatusInternalServerError, ce.StatusCode)
		_, polls := f.counts()
		assert.Equal(t, 1, polls)
	})

	t.Run("TransportFailureRetried", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, hangupStep())
		c := newTestClient(t, ts)

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		var ce *ConnectionError
		require.ErrorAs(t, err, &ce)
		assert.Contains(t, err.Error(), "failed after retries")
		_, polls := f.counts()
		assert.GreaterOrEqual(t, polls, DefaultMaxRetries)
	})

	t.Run("TransportFailureThenComplete", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, hangupStep(), completeStep([2]float64{1640995200000, 4}))
		c := newTestClient(t, ts)

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err)
		require.Len(t, data.Usage, 1)
		assert.Equal(t, 4.0, data.Usage[0].Consumption)
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, jsonStep(map[string]interface{}{
			"status": "COMPLETE",
			"data":   map[string]interface{}{"ELECTRIC": "nope"},
		}))
		c := newTestClient(t, ts)

		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		var de *DataError
		require.ErrorAs(t, err, &de)
	})

	t.Run("NoElectricData", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, jsonStep(map[string]interface{}{"status": "COMPLETE", "data": map[string]interface{}{}}))
		c := newTestClient(t, ts)

		data, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.NoError(t, err)
		assert.False(t, data.Found)
	})

	t.Run("CancelledWhileWaiting", func(t *testing.T) {
		f, ts := newFakeSmartHub(t)
		f.pollSteps = append(f.pollSteps, pendingStep())
		c := newTestClient(t, ts)
		c.cfg.RetryDelay = time.Hour

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := c.EnergyData(ctx, testLocation, nil, types.AggregationHourly)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Less(t, time.Since(start), 10*time.Second)
		_, polls := f.counts()
		assert.Equal(t, 1, polls)
	})
}

func TestPollStatusString(t *testing.T) {
	assert.Equal(t, "pending", PollPending.String())
	assert.Equal(t, "complete", PollComplete.String())
	assert.Equal(t, "no data", PollNoData.String())
	assert.Equal(t, "unknown", PollStatus(42).String())
}
