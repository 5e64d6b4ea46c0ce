package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jameshartig/mygas/pkg/storage"
	"github.com/jameshartig/mygas/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.ConfigEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(types.ConfigEntry), args.Error(1)
}

func (m *MockDatabase) GetEntryByUsername(ctx context.Context, username string) (types.ConfigEntry, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(types.ConfigEntry), args.Error(1)
}

func (m *MockDatabase) CreateEntry(ctx context.Context, entry types.ConfigEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) UpdateEntry(ctx context.Context, entry types.ConfigEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDatabase) DeleteEntry(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *MockDatabase) ListDevices(ctx context.Context, entryID string) ([]types.Device, error) {
	args := m.Called(ctx, entryID)
	if v := args.Get(0); v != nil {
		return v.([]types.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(types.Device), args.Error(1)
}

func (m *MockDatabase) UpsertDevice(ctx context.Context, device types.Device) (types.Device, error) {
	args := m.Called(ctx, device)
	return args.Get(0).(types.Device), args.Error(1)
}

func (m *MockDatabase) RemoveDevices(ctx context.Context, entryID string, identifiers []string) error {
	args := m.Called(ctx, entryID, identifiers)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
