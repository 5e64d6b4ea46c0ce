package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/ident"
	"github.com/jameshartig/mygas/pkg/mygas/mygasmock"
	"github.com/jameshartig/mygas/pkg/storage"
	"github.com/jameshartig/mygas/pkg/types"
)

func submitResult(sent bool, msg string) []types.SubmitResult {
	return []types.SubmitResult{{Counters: []types.SubmitCounterResult{{Sent: &sent, Message: msg}}}}
}

func deviceID(t *testing.T, db storage.Database, entryID, identifier string) string {
	devices, err := db.ListDevices(context.Background(), entryID)
	require.NoError(t, err)
	for _, d := range devices {
		if d.Identifier == identifier {
			return d.ID
		}
	}
	t.Fatalf("device %s not registered", identifier)
	return ""
}

func TestCallService(t *testing.T) {
	ctx := context.Background()
	api := &mygasmock.MockAPI{}
	api.On("GetAccounts", mock.Anything).Return(testAccounts(), nil)
	api.On("GetLSPUInfo", mock.Anything, testLSPUID).Return(testDetail("c-1"), nil)

	i, db := newTestIntegration(api)
	defer i.Close()

	entry, err := i.AddEntry(ctx, testCreds, nil)
	require.NoError(t, err)
	counterID := deviceID(t, db, entry.ID, ident.Counter(testNumber, "c-1"))
	accountID := deviceID(t, db, entry.ID, ident.Account(testNumber))

	var fired []Event
	unsubscribe := i.Events().Subscribe(func(e Event) { fired = append(fired, e) })
	defer unsubscribe()
	last := func(t *testing.T) Event {
		require.NotEmpty(t, fired)
		return fired[len(fired)-1]
	}
	value := func(v float64) *float64 { return &v }

	t.Run("SendReadings", func(t *testing.T) {
		api.On("SendReadings", mock.Anything, testLSPUID, "c-1", 1043.0, (*int)(nil)).Return(submitResult(true, "ok"), nil).Once()

		out, err := i.CallService(ctx, ServiceSendReadings, ServiceCall{DeviceID: counterID, Value: value(1042.3)})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"readings": 1043.0, "sent": true, "message": "ok"}, out)

		e := last(t)
		assert.Equal(t, "mygas_send_readings_completed", e.Type)
		assert.Equal(t, counterID, e.Data["deviceID"])
		assert.Equal(t, 1043.0, e.Data["readings"])
	})

	t.Run("SendReadingsRejected", func(t *testing.T) {
		api.On("SendReadings", mock.Anything, testLSPUID, "c-1", 5.0, (*int)(nil)).Return(submitResult(false, "too low"), nil).Once()

		_, err := i.CallService(ctx, ServiceSendReadings, ServiceCall{DeviceID: counterID, Value: value(5)})
		assert.ErrorIs(t, err, coordinator.ErrReadingRejected)

		e := last(t)
		assert.Equal(t, "mygas_send_readings_failed", e.Type)
		assert.Contains(t, e.Data["error"], "too low")
	})

	t.Run("SendReadingsInvalidValue", func(t *testing.T) {
		for _, v := range []*float64{nil, value(-1)} {
			_, err := i.CallService(ctx, ServiceSendReadings, ServiceCall{DeviceID: counterID, Value: v})
			assert.ErrorIs(t, err, ErrInvalidRequest)
		}
	})

	t.Run("SendReadingsToAccount", func(t *testing.T) {
		_, err := i.CallService(ctx, ServiceSendReadings, ServiceCall{DeviceID: accountID, Value: value(1)})
		assert.ErrorIs(t, err, coordinator.ErrNotFound)
	})

	t.Run("GetBill", func(t *testing.T) {
		api.On("GetReceipt", mock.Anything, types.ReceiptRequest{
			Date:          "2026-02-01",
			AccountNumber: testNumber,
			AccountID:     testLSPUID,
		}).Return(&types.Receipt{URL: "https://example.com/bill%20feb.pdf"}, nil).Once()

		out, err := i.CallService(ctx, ServiceGetBill, ServiceCall{DeviceID: counterID, Date: "2026-02-01"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"date":  "2026-02-01",
			"url":   "https://example.com/bill feb.pdf",
			"email": nil,
		}, out)
		assert.Equal(t, "mygas_get_bill_completed", last(t).Type)

		_, err = i.CallService(ctx, ServiceGetBill, ServiceCall{DeviceID: counterID, Date: "02/2026"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("Refresh", func(t *testing.T) {
		calls := len(api.Calls)
		out, err := i.CallService(ctx, ServiceRefresh, ServiceCall{DeviceID: accountID})
		require.NoError(t, err)
		assert.Empty(t, out)
		// a forced refresh lists the accounts again
		var names []string
		for _, c := range api.Calls[calls:] {
			names = append(names, c.Method)
		}
		assert.Equal(t, []string{"GetAccounts", "GetLSPUInfo"}, names)
	})

	t.Run("PressButton", func(t *testing.T) {
		out, err := i.PressButton(ctx, accountID, "refresh")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"requested": true}, out)
		assert.Equal(t, "mygas_refresh_requested", last(t).Type)

		_, err = i.PressButton(ctx, accountID, "self_destruct")
		assert.ErrorIs(t, err, ErrInvalidRequest)

		_, err = i.PressButton(ctx, "missing", "refresh")
		assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
	})

	t.Run("UnknownDevice", func(t *testing.T) {
		_, err := i.CallService(ctx, ServiceRefresh, ServiceCall{DeviceID: "missing"})
		assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
		assert.Equal(t, "mygas_refresh_failed", last(t).Type)

		_, err = i.CallService(ctx, ServiceRefresh, ServiceCall{})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("UnknownService", func(t *testing.T) {
		n := len(fired)
		_, err := i.CallService(ctx, "explode", ServiceCall{DeviceID: accountID})
		assert.ErrorIs(t, err, ErrUnknownService)
		assert.Len(t, fired, n)
	})

	t.Run("EntryUnloaded", func(t *testing.T) {
		i.UnloadEntry(entry.ID)
		_, err := i.CallService(ctx, ServiceRefresh, ServiceCall{DeviceID: accountID})
		assert.ErrorIs(t, err, ErrNotLoaded)
	})
}

func TestRefreshCoalescing(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Integration, *atomic.Int32, string) {
		var listed atomic.Int32
		api := &mygasmock.MockAPI{}
		api.On("GetAccounts", mock.Anything).
			Run(func(mock.Arguments) { listed.Add(1) }).
			After(20*time.Millisecond).
			Return(testAccounts(), nil)
		api.On("GetLSPUInfo", mock.Anything, testLSPUID).Return(testDetail("c-1"), nil)

		i, db := newTestIntegration(api)
		t.Cleanup(func() { _ = i.Close() })
		entry, err := i.AddEntry(ctx, testCreds, nil)
		require.NoError(t, err)
		require.Equal(t, int32(1), listed.Load())
		return i, &listed, deviceID(t, db, entry.ID, ident.Account(testNumber))
	}

	t.Run("ConcurrentServiceCalls", func(t *testing.T) {
		i, listed, accountID := setup(t)

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for n := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[n] = i.CallService(ctx, ServiceRefresh, ServiceCall{DeviceID: accountID})
			}()
		}
		wg.Wait()

		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(2), listed.Load())
	})

	t.Run("ButtonPresses", func(t *testing.T) {
		i, listed, accountID := setup(t)

		for range 3 {
			_, err := i.PressButton(ctx, accountID, "refresh")
			require.NoError(t, err)
		}
		// nothing runs before the cooldown
		assert.Equal(t, int32(1), listed.Load())
		assert.Eventually(t, func() bool { return listed.Load() == 2 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(2), listed.Load())
	})
}
