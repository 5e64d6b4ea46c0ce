package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/jameshartig/mygas/pkg/log"
)

var oidcIssuers = map[string]string{
	"google": "https://accounts.google.com",
	"apple":  "https://appleid.apple.com",
}

// identity is what a verified ID token tells us about the caller.
type identity struct {
	Email   string
	Subject string
	Expiry  time.Time
}

// tokenVerifier validates a raw ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (identity, error)

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, raw string) (identity, error) {
		idToken, err := v.Verify(ctx, raw)
		if err != nil {
			return identity{}, err
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return identity{}, fmt.Errorf("failed to decode claims: %w", err)
		}
		return identity{Email: claims.Email, Subject: idToken.Subject, Expiry: idToken.Expiry}, nil
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))

		allowNoLogin := r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/status" || r.URL.Path == "/api/auth/logout"
		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// a bearer token wins over the cookie so schedulers can call the API
		var token string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie(authTokenCookie); err == nil {
			token = cookie.Value
		}

		if token == "" {
			if allowNoLogin {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			s.clearCookie(w)
			if allowNoLogin {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !allowNoLogin && !s.isAdmin(id.Email) {
			log.Ctx(ctx).WarnContext(ctx, "email not allowed", slog.String("email", id.Email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.WithAttrs(ctx, slog.String("authEmail", id.Email))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		ctx = context.WithValue(ctx, emailContextKey, id.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAdmin reports whether email may use the API. Without admin-emails every
// verified token is allowed.
func (s *Server) isAdmin(email string) bool {
	if len(s.adminEmails) == 0 {
		return email != ""
	}
	return slices.Contains(s.adminEmails, email)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	id, err := s.authenticateToken(r.Context(), req.Token)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}
	if !s.isAdmin(id.Email) {
		log.Ctx(r.Context()).WarnContext(r.Context(), "login email not allowed", slog.String("email", id.Email))
		writeJSONError(w, "forbidden", http.StatusForbidden)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated", slog.String("email", id.Email), slog.String("subject", id.Subject))
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  id.Expiry,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool              `json:"loggedIn"`
	Email        string            `json:"email"`
	AuthRequired bool              `json:"authRequired"`
	ClientIDs    map[string]string `json:"clientIDs"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	email, _ := r.Context().Value(emailContextKey).(string)
	writeJSON(w, authStatusResponse{
		LoggedIn:     email != "" || s.bypassAuth,
		Email:        email,
		AuthRequired: !s.bypassAuth,
		ClientIDs:    s.oidcAudiences,
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (identity, error) {
	var errs []error
	for providerName, verifier := range s.oidcVerifiers {
		id, err := verifier(ctx, token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %w", providerName, err))
	}
	if len(errs) > 0 {
		return identity{}, errors.Join(errs...)
	}
	return identity{}, errors.New("no valid audiences configured or token invalid")
}
