package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/types"
)

var (
	ErrInvalidStatisticID = errors.New("invalid statistic id")
)

// Database persists cumulative hourly statistics. Series are append-only:
// points at or before the last stored start are ignored and a batch that is
// not strictly increasing or whose sums regress is rejected as a whole.
type Database interface {
	// GetLastStatistic returns the most recent point of the series or nil if
	// the series is empty.
	GetLastStatistic(ctx context.Context, statisticID string) (*types.StatisticPoint, error)
	// GetStatistics returns the points with start >= start and, if end is not
	// nil, start < end in ascending order.
	GetStatistics(ctx context.Context, statisticID string, start time.Time, end *time.Time) ([]types.StatisticPoint, error)
	// AppendStatistics stores the metadata and appends the new tail of points.
	AppendStatistics(ctx context.Context, meta types.StatisticMetadata, points []types.StatisticPoint) error
	// ListStatisticMetadata returns the metadata of every stored series.
	ListStatisticMetadata(ctx context.Context) ([]types.StatisticMetadata, error)

	// Lifecycle
	Close() error
}

func validateStatisticID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStatisticID)
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidStatisticID, id)
	}
	return nil
}

// appendableTail drops the points at or before last and validates the rest
// as a continuation of last. It returns the number of dropped points.
func appendableTail(last *types.StatisticPoint, points []types.StatisticPoint) ([]types.StatisticPoint, int, error) {
	tail := make([]types.StatisticPoint, 0, len(points))
	for _, p := range points {
		p.Start = p.Start.UTC()
		if last != nil && !p.Start.After(last.Start) {
			continue
		}
		tail = append(tail, p)
	}
	if err := types.ValidateStatistics(last, tail); err != nil {
		return nil, 0, fmt.Errorf("invalid statistics batch: %w", err)
	}
	return tail, len(points) - len(tail), nil
}
