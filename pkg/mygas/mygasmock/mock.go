package mygasmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/types"
)

type MockAPI struct {
	mock.Mock
}

var _ mygas.API = (*MockAPI)(nil)

// Factory returns a factory that always hands out m.
func (m *MockAPI) Factory() mygas.Factory {
	return mygas.FactoryFunc(func(types.Credentials) mygas.API { return m })
}

func (m *MockAPI) Login(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockAPI) GetAccounts(ctx context.Context) (*types.AccountsInfo, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*types.AccountsInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) GetELSInfo(ctx context.Context, elsID int) (*types.ELSInfo, error) {
	args := m.Called(ctx, elsID)
	if v := args.Get(0); v != nil {
		return v.(*types.ELSInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) GetLSPUInfo(ctx context.Context, lspuID int) (types.LSPUInfo, error) {
	args := m.Called(ctx, lspuID)
	if v := args.Get(0); v != nil {
		return v.(types.LSPUInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) SendReadings(ctx context.Context, lspuID int, counterUUID string, value float64, elsID *int) ([]types.SubmitResult, error) {
	args := m.Called(ctx, lspuID, counterUUID, value, elsID)
	if v := args.Get(0); v != nil {
		return v.([]types.SubmitResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAPI) GetReceipt(ctx context.Context, req types.ReceiptRequest) (*types.Receipt, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*types.Receipt), args.Error(1)
	}
	return nil, args.Error(1)
}
