package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/ident"
	"github.com/jameshartig/mygas/pkg/integration"
	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/mygas/mygasmock"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/storage"
	"github.com/jameshartig/mygas/pkg/types"
)

const (
	testKey    = "01234567890123456789012345678901"
	testNumber = "1234567890"
	testLSPUID = 12345
)

func testDetail() types.LSPUInfo {
	return types.LSPUInfo{{
		Account:   testNumber,
		AccountID: testLSPUID,
		Balance:   types.NewAmount(12.5),
		Counters: []types.Counter{{
			UUID:   "c-1",
			Name:   "Счетчик",
			Values: []types.Reading{{Date: "2026-03-01T00:00:00", ValueDay: types.NewAmount(1000)}},
		}},
	}}
}

func newTestServer(t *testing.T, api *mygasmock.MockAPI) (*Server, *storage.MemoryProvider) {
	t.Helper()
	db := storage.NewMemoryProvider()
	i := integration.New(integration.Config{
		DB:            db,
		Factory:       api.Factory(),
		EncryptionKey: testKey,
		Policy:        retry.Policy{Timeout: time.Second, MaxTries: retry.DefaultMaxTries},
	})
	t.Cleanup(func() { _ = i.Close() })
	return &Server{integration: i, bypassAuth: true, serverName: "mygas/test"}, db
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &mygasmock.MockAPI{})
	w := do(t, srv.setupHandler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "mygas/test", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &mygasmock.MockAPI{})
	w := do(t, srv.setupHandler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestEntriesAPI(t *testing.T) {
	api := &mygasmock.MockAPI{}
	api.On("GetAccounts", mock.Anything).Return(&types.AccountsInfo{LSPU: []types.LSPURef{{ID: testLSPUID}}}, nil)
	api.On("GetLSPUInfo", mock.Anything, testLSPUID).Return(testDetail(), nil)

	srv, _ := newTestServer(t, api)
	h := srv.setupHandler()

	w := do(t, h, http.MethodPost, "/api/entries", createEntryRequest{Username: "user@example.com", Password: "secret"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	created := decode[integration.EntryStatus](t, w)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Loaded)
	assert.Nil(t, created.EncryptedCredentials)
	assert.NotContains(t, w.Body.String(), "secret")

	t.Run("Duplicate", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/entries", createEntryRequest{Username: "USER@example.com", Password: "x"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("UnknownField", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/entries", map[string]string{"login": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("List", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/entries", nil)
		require.Equal(t, http.StatusOK, w.Code)
		entries := decode[[]integration.EntryStatus](t, w)
		require.Len(t, entries, 1)
		assert.Equal(t, created.ID, entries[0].ID)
	})

	t.Run("Devices", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/entries/"+created.ID+"/devices", nil)
		require.Equal(t, http.StatusOK, w.Code)
		devices := decode[[]map[string]any](t, w)
		require.Len(t, devices, 2)
		assert.Equal(t, ident.Account(testNumber), devices[0]["identifier"])
		assert.NotEmpty(t, devices[0]["entities"])

		w = do(t, h, http.MethodGet, "/api/entries/missing/devices", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Options", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/entries/"+created.ID+"/options", types.EntryOptions{AutoUpdate: true, ScanIntervalHours: 6})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		status := decode[integration.EntryStatus](t, w)
		assert.Equal(t, 6, status.Options.ScanIntervalHours)

		w = do(t, h, http.MethodPost, "/api/entries/"+created.ID+"/options", types.EntryOptions{ScanIntervalHours: -1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Diagnostics", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/entries/"+created.ID+"/diagnostics", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "user@example.com")
		assert.Contains(t, w.Body.String(), integration.Redacted)
	})

	t.Run("Reauth", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/entries/"+created.ID+"/reauth", map[string]string{"password": "new"})
		assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

		w = do(t, h, http.MethodPost, "/api/entries/"+created.ID+"/reauth", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := do(t, h, http.MethodDelete, "/api/entries/"+created.ID, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = do(t, h, http.MethodDelete, "/api/entries/"+created.ID, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCreateEntryErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{"InvalidAuth", mygas.ErrAuth, http.StatusBadRequest},
		{"CannotConnect", errors.New("connection refused"), http.StatusBadGateway},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := &mygasmock.MockAPI{}
			api.On("GetAccounts", mock.Anything).Return(nil, tc.err)
			srv, _ := newTestServer(t, api)

			w := do(t, srv.setupHandler(), http.MethodPost, "/api/entries", createEntryRequest{Username: "u", Password: "p"})
			assert.Equal(t, tc.code, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestServicesAPI(t *testing.T) {
	api := &mygasmock.MockAPI{}
	api.On("GetAccounts", mock.Anything).Return(&types.AccountsInfo{LSPU: []types.LSPURef{{ID: testLSPUID}}}, nil)
	api.On("GetLSPUInfo", mock.Anything, testLSPUID).Return(testDetail(), nil)

	srv, db := newTestServer(t, api)
	h := srv.setupHandler()

	entry, err := srv.integration.AddEntry(t.Context(), types.Credentials{Username: "u", Password: "p"}, nil)
	require.NoError(t, err)
	devices, err := db.ListDevices(t.Context(), entry.ID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	accountID, counterID := devices[0].ID, devices[1].ID

	t.Run("SendReadings", func(t *testing.T) {
		sent := true
		api.On("SendReadings", mock.Anything, testLSPUID, "c-1", 1001.0, (*int)(nil)).
			Return([]types.SubmitResult{{Counters: []types.SubmitCounterResult{{Sent: &sent}}}}, nil).Once()

		w := do(t, h, http.MethodPost, "/api/services/send_readings", map[string]any{"deviceID": counterID, "value": 1000.2})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[serviceResponse](t, w)
		assert.Equal(t, "send_readings", resp.Service)
		assert.Equal(t, 1001.0, resp.Result["readings"])
		assert.Equal(t, true, resp.Result["sent"])
	})

	t.Run("SendReadingsRejected", func(t *testing.T) {
		sent := false
		api.On("SendReadings", mock.Anything, testLSPUID, "c-1", 3.0, (*int)(nil)).
			Return([]types.SubmitResult{{Counters: []types.SubmitCounterResult{{Sent: &sent, Message: "less than previous"}}}}, nil).Once()

		w := do(t, h, http.MethodPost, "/api/services/send_readings", map[string]any{"deviceID": counterID, "value": 3})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, decode[map[string]string](t, w)["error"], "less than previous")
	})

	t.Run("NotACounter", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/services/send_readings", map[string]any{"deviceID": accountID, "value": 3})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("UnknownService", func(t *testing.T) {
		w := do(t, h, http.MethodPost, "/api/services/explode", map[string]any{"deviceID": accountID})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Button", func(t *testing.T) {
		api.On("GetReceipt", mock.Anything, mock.AnythingOfType("types.ReceiptRequest")).
			Return(&types.Receipt{URL: "https://example.com/bill.pdf"}, nil).Once()

		w := do(t, h, http.MethodPost, fmt.Sprintf("/api/devices/%s/buttons/get_bill", accountID), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[serviceResponse](t, w)
		assert.Equal(t, "https://example.com/bill.pdf", resp.Result["url"])
		assert.Equal(t, coordinator.BillDate(time.Now()).Format(types.DateLayout), resp.Result["date"])

		w = do(t, h, http.MethodPost, fmt.Sprintf("/api/devices/%s/buttons/nope", accountID), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Events", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/api/events?limit=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		events := decode[[]integration.Event](t, w)
		require.Len(t, events, 2)
		assert.Equal(t, "mygas_send_readings_failed", events[0].Type)
		assert.Equal(t, "mygas_get_bill_completed", events[1].Type)

		w = do(t, h, http.MethodGet, "/api/events?limit=abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestErrorStatus(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{fmt.Errorf("x: %w", storage.ErrEntryNotFound), http.StatusNotFound},
		{integration.ErrNotLoaded, http.StatusNotFound},
		{fmt.Errorf("%w: %w", integration.ErrInvalidAuth, retry.ErrAuthFailed), http.StatusBadRequest},
		{integration.ErrAlreadyConfigured, http.StatusConflict},
		{retry.ErrUpdateFailed, http.StatusBadGateway},
		{fmt.Errorf("%w: get_accounts abandoned: %w", retry.ErrUpdateFailed, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{coordinator.ErrReadingRejected, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		assert.Equal(t, tc.code, errorStatus(tc.err), tc.err.Error())
	}
}
