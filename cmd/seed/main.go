package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/storage"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	accountID := lflag.String("seed-account-id", "1234567", "Account the seeded series belongs to")
	locationID := lflag.String("seed-location-id", "100", "Service location the seeded series belongs to")
	days := 7
	lflag.JSON(&days, "seed-days", days, "Number of days of hourly usage to seed")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	loc := types.ServiceLocation{ID: *locationID, Service: types.ServiceElectric, Description: "Seeded Home"}
	meta := types.NewStatisticMetadata(*accountID, loc)
	ctx = log.WithAttrs(ctx, slog.String("statisticID", meta.StatisticID))

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var sum float64
	var start time.Time
	last, err := s.GetLastStatistic(ctx, meta.StatisticID)
	if err != nil {
		panic(fmt.Errorf("failed to get last statistic: %w", err))
	}
	if last != nil {
		// continue the existing series
		sum = last.Sum
		start = last.Start.Add(time.Hour)
	} else {
		start = time.Now().UTC().Truncate(time.Hour).AddDate(0, 0, -days)
	}
	end := time.Now().UTC().Truncate(time.Hour)

	var points []types.StatisticPoint
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		hour := t.Hour()

		// Baseline with an evening peak
		kwh := 0.6 + (rng.Float64() * 0.3)
		dist := math.Abs(float64(hour) - 19.0)
		kwh += 1.8 * math.Exp(-(dist*dist)/8.0)
		kwh = math.Round(kwh*1000) / 1000

		sum += kwh
		points = append(points, types.StatisticPoint{
			Start: t,
			State: kwh,
			Sum:   math.Round(sum*1000) / 1000,
		})
	}

	if err := s.AppendStatistics(ctx, meta, points); err != nil {
		panic(fmt.Errorf("failed to append statistics: %w", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "seeded mock data", slog.Int("points", len(points)), slog.Float64("sum", sum))
}
