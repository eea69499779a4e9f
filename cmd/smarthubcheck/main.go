// smarthubcheck verifies SmartHub credentials by logging in and listing the
// account's service locations along with their month-to-date usage.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/smarthub"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

type locationReport struct {
	types.ServiceLocation
	MonthToDate     *float64  `json:"monthToDate,omitempty"`
	LastReadingTime time.Time `json:"lastReadingTime,omitzero"`
	Error           string    `json:"error,omitempty"`
}

func main() {
	client := smarthub.Configured()
	withUsage := lflag.Bool("with-usage", true, "Also fetch month-to-date usage for each location")
	lflag.Configure()

	os.Exit(run(client, *withUsage))
}

// run prints the report and returns the process exit code.
func run(client *smarthub.Client, withUsage bool) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer client.Close()

	cred, err := client.Authenticate(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to authenticate with smarthub", slog.Any("error", err))
		return 1
	}
	log.Ctx(ctx).InfoContext(ctx, "authenticated", slog.String("accountID", client.AccountID()), slog.String("username", cred.PrimaryUsername))

	locations, err := client.ServiceLocations(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list service locations", slog.Any("error", err))
		return 1
	}
	if len(locations) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "account has no supported service locations")
	}

	now := time.Now().In(client.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, client.Location())

	reports := make([]locationReport, 0, len(locations))
	for _, loc := range locations {
		report := locationReport{ServiceLocation: loc}
		if withUsage {
			data, err := client.EnergyData(ctx, loc, &monthStart, types.AggregationMonthly)
			if err != nil {
				report.Error = err.Error()
			} else if last, ok := data.Last(); ok {
				report.MonthToDate = &last.Consumption
				report.LastReadingTime = last.ReadingTime
			}
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write report", slog.Any("error", err))
		return 1
	}
	return 0
}
