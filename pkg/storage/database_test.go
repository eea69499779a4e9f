package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyPoints(start time.Time, sum float64, states ...float64) []types.StatisticPoint {
	points := make([]types.StatisticPoint, len(states))
	for i, s := range states {
		sum += s
		points[i] = types.StatisticPoint{
			Start: start.Add(time.Duration(i) * time.Hour),
			State: s,
			Sum:   sum,
		}
	}
	return points
}

// testDatabase runs the behavior every Database implementation shares.
func testDatabase(t *testing.T, db Database) {
	ctx := context.Background()
	h0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	meta := types.NewStatisticMetadata("acct", types.ServiceLocation{ID: fmt.Sprintf("loc-%d", time.Now().UnixNano()), Description: "Home"})

	t.Run("EmptySeries", func(t *testing.T) {
		last, err := db.GetLastStatistic(ctx, meta.StatisticID)
		require.NoError(t, err)
		assert.Nil(t, last)

		points, err := db.GetStatistics(ctx, meta.StatisticID, h0, nil)
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("InvalidStatisticID", func(t *testing.T) {
		_, err := db.GetLastStatistic(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidStatisticID)
		_, err = db.GetStatistics(ctx, "a/b", h0, nil)
		assert.ErrorIs(t, err, ErrInvalidStatisticID)
		err = db.AppendStatistics(ctx, types.StatisticMetadata{}, nil)
		assert.ErrorIs(t, err, ErrInvalidStatisticID)
	})

	t.Run("Append", func(t *testing.T) {
		require.NoError(t, db.AppendStatistics(ctx, meta, hourlyPoints(h0, 0, 1, 2, 3)))

		last, err := db.GetLastStatistic(ctx, meta.StatisticID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.True(t, h0.Add(2*time.Hour).Equal(last.Start))
		assert.Equal(t, 3.0, last.State)
		assert.Equal(t, 6.0, last.Sum)
	})

	t.Run("RangeStartInclusiveEndExclusive", func(t *testing.T) {
		end := h0.Add(2 * time.Hour)
		points, err := db.GetStatistics(ctx, meta.StatisticID, h0.Add(time.Hour), &end)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.True(t, h0.Add(time.Hour).Equal(points[0].Start))
		assert.Equal(t, 3.0, points[0].Sum)

		// a one second window only matches a point starting exactly there
		end = h0.Add(time.Second)
		points, err = db.GetStatistics(ctx, meta.StatisticID, h0, &end)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, 1.0, points[0].Sum)

		points, err = db.GetStatistics(ctx, meta.StatisticID, h0, nil)
		require.NoError(t, err)
		require.Len(t, points, 3)
		for i := 1; i < len(points); i++ {
			assert.True(t, points[i].Start.After(points[i-1].Start))
		}
	})

	t.Run("OverlapIgnored", func(t *testing.T) {
		// the first two hours overlap and carry different sums which must not
		// replace what is stored
		batch := append(hourlyPoints(h0.Add(time.Hour), 100, 5, 5), hourlyPoints(h0.Add(3*time.Hour), 6, 4)...)
		require.NoError(t, db.AppendStatistics(ctx, meta, batch))

		points, err := db.GetStatistics(ctx, meta.StatisticID, h0, nil)
		require.NoError(t, err)
		require.Len(t, points, 4)
		assert.Equal(t, []float64{1, 3, 6, 10}, []float64{points[0].Sum, points[1].Sum, points[2].Sum, points[3].Sum})
	})

	t.Run("RegressionRejected", func(t *testing.T) {
		err := db.AppendStatistics(ctx, meta, hourlyPoints(h0.Add(4*time.Hour), 5, 1))
		require.Error(t, err)

		last, err := db.GetLastStatistic(ctx, meta.StatisticID)
		require.NoError(t, err)
		assert.Equal(t, 10.0, last.Sum)
	})

	t.Run("UnorderedRejected", func(t *testing.T) {
		batch := []types.StatisticPoint{
			{Start: h0.Add(6 * time.Hour), State: 1, Sum: 11},
			{Start: h0.Add(5 * time.Hour), State: 1, Sum: 12},
		}
		require.Error(t, db.AppendStatistics(ctx, meta, batch))

		points, err := db.GetStatistics(ctx, meta.StatisticID, h0.Add(4*time.Hour), nil)
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("Metadata", func(t *testing.T) {
		metas, err := db.ListStatisticMetadata(ctx)
		require.NoError(t, err)
		assert.Contains(t, metas, meta)
	})
}
