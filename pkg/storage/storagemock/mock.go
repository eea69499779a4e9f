package storagemock

import (
	"context"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/storage"
	"github.com/smarthubsync/smarthubsync/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetLastStatistic(ctx context.Context, statisticID string) (*types.StatisticPoint, error) {
	args := m.Called(ctx, statisticID)
	if p := args.Get(0); p != nil {
		return p.(*types.StatisticPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetStatistics(ctx context.Context, statisticID string, start time.Time, end *time.Time) ([]types.StatisticPoint, error) {
	args := m.Called(ctx, statisticID, start, end)
	if p := args.Get(0); p != nil {
		return p.([]types.StatisticPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) AppendStatistics(ctx context.Context, meta types.StatisticMetadata, points []types.StatisticPoint) error {
	args := m.Called(ctx, meta, points)
	return args.Error(0)
}

func (m *MockDatabase) ListStatisticMetadata(ctx context.Context) ([]types.StatisticMetadata, error) {
	args := m.Called(ctx)
	if md := args.Get(0); md != nil {
		return md.([]types.StatisticMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	if len(args) > 0 {
		return args.Error(0)
	}
	return nil
}
