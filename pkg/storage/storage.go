package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jameshartig/mygas/pkg/types"
)

var (
	ErrEntryNotFound  = errors.New("entry not found")
	ErrEntryExists    = errors.New("entry already configured")
	ErrDeviceNotFound = errors.New("device not found")
)

// Database persists config entries and the device registry. Snapshot data is
// never stored.
type Database interface {
	// Entries
	ListEntries(ctx context.Context) ([]types.ConfigEntry, error)
	GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error)
	GetEntryByUsername(ctx context.Context, username string) (types.ConfigEntry, error)
	// CreateEntry fails with ErrEntryExists if the id or username is taken.
	CreateEntry(ctx context.Context, entry types.ConfigEntry) error
	UpdateEntry(ctx context.Context, entry types.ConfigEntry) error
	// DeleteEntry removes the entry and all of its devices.
	DeleteEntry(ctx context.Context, entryID string) error

	// Devices are keyed by (EntryID, Identifier).
	ListDevices(ctx context.Context, entryID string) ([]types.Device, error)
	GetDevice(ctx context.Context, deviceID string) (types.Device, error)
	// UpsertDevice creates or updates a device. ID and CreatedAt are kept from
	// the existing record and assigned for new ones.
	UpsertDevice(ctx context.Context, device types.Device) (types.Device, error)
	RemoveDevices(ctx context.Context, entryID string, identifiers []string) error

	// Lifecycle
	Close() error
}

// mergeDevice returns next with the registry-owned fields of prev.
func mergeDevice(prev *types.Device, next types.Device, now time.Time) types.Device {
	if prev != nil {
		next.ID = prev.ID
		next.CreatedAt = prev.CreatedAt
	}
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	return next
}
