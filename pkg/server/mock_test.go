package server

import (
	"context"
	"time"

	"github.com/smarthubsync/smarthubsync/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockUpdater struct {
	mock.Mock
}

var _ Updater = (*mockUpdater)(nil)

func (m *mockUpdater) Update(ctx context.Context) ([]types.SensorState, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.([]types.SensorState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockUpdater) Sensors() []types.SensorState {
	args := m.Called()
	if s := args.Get(0); s != nil {
		return s.([]types.SensorState)
	}
	return nil
}

func (m *mockUpdater) RefreshAuthentication(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockUpdater) PollInterval() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}
