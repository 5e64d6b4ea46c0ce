package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeVerifier(tokens map[string]string) tokenVerifier {
	return func(ctx context.Context, raw string) (identity, error) {
		email, ok := tokens[raw]
		if !ok {
			return identity{}, assert.AnError
		}
		return identity{Email: email, Subject: "sub-" + email, Expiry: time.Now().Add(time.Hour)}, nil
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv := &Server{
		adminEmails:   []string{"admin@example.com"},
		oidcAudiences: map[string]string{"google": "aud"},
		oidcVerifiers: map[string]tokenVerifier{
			"google": fakeVerifier(map[string]string{
				"admin-token": "admin@example.com",
				"other-token": "other@example.com",
			}),
		},
	}

	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, _ := r.Context().Value(emailContextKey).(string)
		w.Header().Set("X-Email", email)
		w.WriteHeader(http.StatusOK)
	})

	request := func(path string, mod func(r *http.Request)) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if mod != nil {
			mod(req)
		}
		w := httptest.NewRecorder()
		srv.authMiddleware(testHandler).ServeHTTP(w, req)
		return w
	}

	t.Run("NoToken", func(t *testing.T) {
		w := request("/api/entries", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("StatusWithoutToken", func(t *testing.T) {
		w := request("/api/auth/status", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-Email"))
	})

	t.Run("Cookie", func(t *testing.T) {
		w := request("/api/entries", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: authTokenCookie, Value: "admin-token"})
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "admin@example.com", w.Header().Get("X-Email"))
	})

	t.Run("Bearer", func(t *testing.T) {
		w := request("/api/entries", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer admin-token")
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "admin@example.com", w.Header().Get("X-Email"))
	})

	t.Run("MalformedHeader", func(t *testing.T) {
		w := request("/api/entries", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic abc")
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		w := request("/api/entries", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: authTokenCookie, Value: "forged"})
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("Set-Cookie"), authTokenCookie+"=;")
	})

	t.Run("NotAdmin", func(t *testing.T) {
		w := request("/api/entries", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer other-token")
		})
		assert.Equal(t, http.StatusForbidden, w.Code)

		// status still reports who is logged in
		w = request("/api/auth/status", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer other-token")
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "other@example.com", w.Header().Get("X-Email"))
	})

	t.Run("Bypass", func(t *testing.T) {
		bypass := &Server{bypassAuth: true}
		w := httptest.NewRecorder()
		bypass.authMiddleware(testHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/entries", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestIsAdmin(t *testing.T) {
	open := &Server{}
	assert.True(t, open.isAdmin("anyone@example.com"))
	assert.False(t, open.isAdmin(""))

	restricted := &Server{adminEmails: []string{"a@example.com"}}
	assert.True(t, restricted.isAdmin("a@example.com"))
	assert.False(t, restricted.isAdmin("b@example.com"))
}

func TestLogin(t *testing.T) {
	srv := &Server{
		adminEmails:   []string{"admin@example.com"},
		oidcAudiences: map[string]string{"google": "aud"},
		oidcVerifiers: map[string]tokenVerifier{
			"google": fakeVerifier(map[string]string{
				"admin-token": "admin@example.com",
				"other-token": "other@example.com",
			}),
		},
	}
	h := srv.setupHandler()

	login := func(token string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"token": token})
		require.NoError(t, err)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
		return w
	}

	t.Run("Success", func(t *testing.T) {
		w := login("admin-token")
		require.Equal(t, http.StatusOK, w.Code)
		cookie := w.Header().Get("Set-Cookie")
		assert.True(t, strings.HasPrefix(cookie, authTokenCookie+"=admin-token"))
		assert.Contains(t, cookie, "HttpOnly")
	})

	t.Run("Forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, login("other-token").Code)
	})

	t.Run("Invalid", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, login("forged").Code)
	})

	t.Run("Status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
		req.AddCookie(&http.Cookie{Name: authTokenCookie, Value: "admin-token"})
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp authStatusResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.LoggedIn)
		assert.True(t, resp.AuthRequired)
		assert.Equal(t, "admin@example.com", resp.Email)
		assert.Equal(t, map[string]string{"google": "aud"}, resp.ClientIDs)
	})

	t.Run("Logout", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
	})
}
