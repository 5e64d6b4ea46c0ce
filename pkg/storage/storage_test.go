package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshartig/mygas/pkg/types"
)

// testDatabase runs the same checks against every provider. prefix keeps ids
// unique on backends that keep state between runs.
func testDatabase(t *testing.T, db Database, prefix string) {
	ctx := context.Background()
	entry := types.ConfigEntry{
		ID:                   prefix + "entry-1",
		Title:                "user@example.com",
		Username:             prefix + "user@example.com",
		Options:              types.DefaultEntryOptions(),
		EncryptedCredentials: []byte("secret"),
		CreatedAt:            time.Now().UTC().Truncate(time.Second),
	}

	t.Run("Entries", func(t *testing.T) {
		require.NoError(t, db.CreateEntry(ctx, entry))

		got, err := db.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, entry.Username, got.Username)
		assert.Equal(t, []byte("secret"), got.EncryptedCredentials)
		assert.True(t, got.Options.AutoUpdate)

		got, err = db.GetEntryByUsername(ctx, entry.Username)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, got.ID)

		entries, err := db.ListEntries(ctx)
		require.NoError(t, err)
		var found bool
		for _, e := range entries {
			found = found || e.ID == entry.ID
		}
		assert.True(t, found)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		dup := entry
		dup.ID = prefix + "entry-2"
		err := db.CreateEntry(ctx, dup)
		assert.ErrorIs(t, err, ErrEntryExists)
	})

	t.Run("UpdateEntry", func(t *testing.T) {
		updated := entry
		updated.Options = types.EntryOptions{AutoUpdate: false, ScanIntervalHours: 4}
		require.NoError(t, db.UpdateEntry(ctx, updated))

		got, err := db.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Options.ScanIntervalHours)
		assert.False(t, got.Options.AutoUpdate)

		missing := entry
		missing.ID = prefix + "missing"
		missing.Username = prefix + "missing"
		assert.ErrorIs(t, db.UpdateEntry(ctx, missing), ErrEntryNotFound)
	})

	t.Run("MissingEntry", func(t *testing.T) {
		_, err := db.GetEntry(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrEntryNotFound)
		_, err = db.GetEntryByUsername(ctx, prefix+"nobody")
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("Devices", func(t *testing.T) {
		first, err := db.UpsertDevice(ctx, types.Device{
			EntryID:    entry.ID,
			Identifier: "1234567890_account",
			Kind:       types.DeviceKindAccount,
			Name:       "ЛС 1234567890",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.False(t, first.CreatedAt.IsZero())

		second, err := db.UpsertDevice(ctx, types.Device{
			EntryID:    entry.ID,
			Identifier: "1234567890_account",
			Kind:       types.DeviceKindAccount,
			Name:       "ЛС 1234567890 (home)",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "id is stable across upserts")
		assert.Equal(t, "ЛС 1234567890 (home)", second.Name)

		_, err = db.UpsertDevice(ctx, types.Device{
			EntryID:       entry.ID,
			Identifier:    "1234567890_counter_c_1",
			Kind:          types.DeviceKindCounter,
			ViaIdentifier: "1234567890_account",
		})
		require.NoError(t, err)

		devices, err := db.ListDevices(ctx, entry.ID)
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "1234567890_account", devices[0].Identifier)
		assert.Equal(t, "1234567890_counter_c_1", devices[1].Identifier)

		got, err := db.GetDevice(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "1234567890_account", got.Identifier)

		_, err = db.GetDevice(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		require.NoError(t, db.RemoveDevices(ctx, entry.ID, []string{"1234567890_counter_c_1", "unknown"}))
		devices, err = db.ListDevices(ctx, entry.ID)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		require.NoError(t, db.RemoveDevices(ctx, entry.ID, nil))
	})

	t.Run("DeleteEntry", func(t *testing.T) {
		require.NoError(t, db.DeleteEntry(ctx, entry.ID))
		_, err := db.GetEntry(ctx, entry.ID)
		assert.ErrorIs(t, err, ErrEntryNotFound)

		devices, err := db.ListDevices(ctx, entry.ID)
		require.NoError(t, err)
		assert.Empty(t, devices)

		// the username is free again
		require.NoError(t, db.CreateEntry(ctx, entry))
		require.NoError(t, db.DeleteEntry(ctx, entry.ID))
	})
}

func testPrefix() string {
	return fmt.Sprintf("t%d-", time.Now().UnixNano())
}
