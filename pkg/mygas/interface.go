// Package mygas talks to the MyGas personal account service.
package mygas

import (
	"context"
	"errors"
	"fmt"

	"github.com/jameshartig/mygas/pkg/types"
)

// ErrAuth is returned when MyGas rejects the credentials.
var ErrAuth = errors.New("mygas: authentication failed")

// APIError is an explicit error reported by MyGas.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mygas api error (status %d)", e.Status)
	}
	return fmt.Sprintf("mygas api error (status %d): %s", e.Status, e.Message)
}

// IsAuth reports whether err means the credentials were rejected.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// API is the set of MyGas operations the coordinator uses. Every method may
// return ErrAuth or an *APIError.
type API interface {
	// Login validates the credentials.
	Login(ctx context.Context) error
	// GetAccounts returns the top-level accounts list.
	GetAccounts(ctx context.Context) (*types.AccountsInfo, error)
	// GetELSInfo returns the detail of a unified account group.
	GetELSInfo(ctx context.Context, elsID int) (*types.ELSInfo, error)
	// GetLSPUInfo returns the detail of an independent account.
	GetLSPUInfo(ctx context.Context, lspuID int) (types.LSPUInfo, error)
	// SendReadings submits a meter reading. elsID is set for unified accounts.
	SendReadings(ctx context.Context, lspuID int, counterUUID string, value float64, elsID *int) ([]types.SubmitResult, error)
	// GetReceipt returns the bill for a month, or emails it.
	GetReceipt(ctx context.Context, req types.ReceiptRequest) (*types.Receipt, error)
}

// Factory builds an API for a set of credentials.
type Factory interface {
	New(creds types.Credentials) API
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(creds types.Credentials) API

// New implements Factory.
func (f FactoryFunc) New(creds types.Credentials) API {
	return f(creds)
}
