package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// BootstrapDays is how far back an empty series is backfilled.
const BootstrapDays = 90

// anchorWindow is the width of the exact anchor lookup.
const anchorWindow = time.Second

// UsageFetcher returns normalized usage for a location from start until now.
type UsageFetcher interface {
	EnergyData(ctx context.Context, loc types.ServiceLocation, start *time.Time, aggregation types.Aggregation) (types.UsageData, error)
}

// Store is the part of the statistics database the engine needs.
type Store interface {
	GetLastStatistic(ctx context.Context, statisticID string) (*types.StatisticPoint, error)
	GetStatistics(ctx context.Context, statisticID string, start time.Time, end *time.Time) ([]types.StatisticPoint, error)
	AppendStatistics(ctx context.Context, meta types.StatisticMetadata, points []types.StatisticPoint) error
}

// Result summarizes one reconciliation of a location.
type Result struct {
	StatisticID string
	Bootstrap   bool
	Appended    int
	// LastSum is the sum of the newest point after the run, or 0 if the series
	// is still empty.
	LastSum float64
}

// Engine keeps each location's cumulative hourly series in the store in step
// with what the provider reports.
type Engine struct {
	fetcher   UsageFetcher
	store     Store
	accountID string
	tz        *time.Location
	now       func() time.Time
}

// New returns an Engine. tz is the provider's time zone and decides where
// local midnight falls for the bootstrap window.
func New(fetcher UsageFetcher, store Store, accountID string, tz *time.Location) *Engine {
	if tz == nil {
		tz = time.UTC
	}
	return &Engine{
		fetcher:   fetcher,
		store:     store,
		accountID: accountID,
		tz:        tz,
		now:       time.Now,
	}
}

// BootstrapStart returns local midnight BootstrapDays ago.
func (e *Engine) BootstrapStart() time.Time {
	now := e.now().In(e.tz)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.tz)
	return midnight.AddDate(0, 0, -BootstrapDays)
}

// Reconcile fetches the hourly usage of loc that is not yet durable and
// appends it to the location's series.
func (e *Engine) Reconcile(ctx context.Context, loc types.ServiceLocation) (Result, error) {
	meta := types.NewStatisticMetadata(e.accountID, loc)
	res := Result{StatisticID: meta.StatisticID}
	ctx = log.WithAttrs(ctx, slog.String("statisticID", meta.StatisticID), slog.String("locationID", loc.ID))

	last, err := e.store.GetLastStatistic(ctx, meta.StatisticID)
	if err != nil {
		return res, fmt.Errorf("failed to get last statistic: %w", err)
	}

	var start time.Time
	if last == nil {
		res.Bootstrap = true
		start = e.BootstrapStart()
		log.Ctx(ctx).InfoContext(ctx, "bootstrapping statistics", slog.Time("start", start))
	} else {
		res.LastSum = last.Sum
		start = last.Start
		log.Ctx(ctx).DebugContext(ctx, "reconciling statistics", slog.Time("start", start), slog.Float64("sum", last.Sum))
	}

	data, err := e.fetcher.EnergyData(ctx, loc, &start, types.AggregationHourly)
	if err != nil {
		return res, fmt.Errorf("failed to fetch hourly usage: %w", err)
	}
	readings := sortedReadings(data.Usage)
	if !data.Found || len(readings) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no hourly usage returned")
		return res, nil
	}

	var anchor *types.StatisticPoint
	if last != nil {
		anchor, err = e.anchor(ctx, meta.StatisticID, readings[0].ReadingTime, last)
		if err != nil {
			return res, err
		}
	}

	points := accumulate(anchor, readings)
	if len(points) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "no new hourly usage after anchor")
		return res, nil
	}
	if err := e.store.AppendStatistics(ctx, meta, points); err != nil {
		return res, fmt.Errorf("failed to append statistics: %w", err)
	}
	res.Appended = len(points)
	res.LastSum = points[len(points)-1].Sum

	log.Ctx(ctx).InfoContext(
		ctx,
		"appended statistics",
		slog.Int("count", len(points)),
		slog.Time("first", points[0].Start),
		slog.Time("last", points[len(points)-1].Start),
		slog.Float64("sum", res.LastSum),
	)
	return res, nil
}

// anchor finds the durable point the fetched readings continue from. It first
// looks for a point at exactly first, then for the oldest point at or after
// first, and falls back to last. A point older than last is never used since
// the sum would be rebuilt from revised readings and could regress.
func (e *Engine) anchor(ctx context.Context, statisticID string, first time.Time, last *types.StatisticPoint) (*types.StatisticPoint, error) {
	end := first.Add(anchorWindow)
	found, err := e.store.GetStatistics(ctx, statisticID, first, &end)
	if err != nil {
		return nil, fmt.Errorf("failed to look up anchor statistic: %w", err)
	}
	if len(found) == 0 {
		found, err = e.store.GetStatistics(ctx, statisticID, first, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to look up anchor statistic: %w", err)
		}
	}

	anchor := last
	if len(found) > 0 && found[0].Start.After(last.Start) {
		// the last point query lagged behind the range query
		log.Ctx(ctx).WarnContext(
			ctx,
			"anchor statistic newer than last statistic",
			slog.Time("anchor", found[0].Start),
			slog.Time("last", last.Start),
		)
		anchor = &found[0]
	}
	return anchor, nil
}

// sortedReadings orders readings by time and merges readings sharing an hour.
func sortedReadings(usage []types.UsageReading) []types.UsageReading {
	readings := make([]types.UsageReading, len(usage))
	copy(readings, usage)
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].ReadingTime.Before(readings[j].ReadingTime)
	})

	merged := readings[:0]
	for _, r := range readings {
		if n := len(merged); n > 0 && merged[n-1].ReadingTime.Equal(r.ReadingTime) {
			merged[n-1].Consumption += r.Consumption
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// accumulate builds the points for the readings after anchor, continuing its
// sum. A nil anchor starts the series at zero.
func accumulate(anchor *types.StatisticPoint, readings []types.UsageReading) []types.StatisticPoint {
	var sum float64
	if anchor != nil {
		sum = anchor.Sum
	}
	var points []types.StatisticPoint
	for _, r := range readings {
		if anchor != nil && !r.ReadingTime.After(anchor.Start) {
			continue
		}
		state := math.Max(0, r.Consumption)
		sum += state
		points = append(points, types.StatisticPoint{
			Start: r.ReadingTime.UTC(),
			State: state,
			Sum:   sum,
		})
	}
	return points
}
