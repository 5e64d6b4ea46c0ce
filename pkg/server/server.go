package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jameshartig/mygas/pkg/common"
	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/integration"
	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/storage"
)

const (
	authTokenCookie = "auth_token"
	// maxBodyBytes limits request bodies to 1MB.
	maxBodyBytes = 1 << 20
)

type contextKey string

const emailContextKey contextKey = "email"

// Server exposes the integration over HTTP.
type Server struct {
	integration *integration.Integration

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string
}

// Configured registers the server flags. The OIDC providers are resolved
// inside lflag.Do.
func Configured(i *integration.Integration) *Server {
	srv := &Server{
		integration: i,
		serverName:  "mygas/" + common.Version(),
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the API")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable API authentication (local development only)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			for _, email := range strings.Split(*adminEmails, ",") {
				if email = strings.TrimSpace(email); email != "" {
					srv.adminEmails = append(srv.adminEmails, email)
				}
			}
		}
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				issuer, ok := oidcIssuers[n]
				if !ok {
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = oidcVerifier(provider.Verifier(&oidc.Config{ClientID: a}))
				srv.oidcAudiences[n] = a
			}
		}
		srv.bypassAuth = *bypassAuth
		if !srv.bypassAuth && len(srv.oidcVerifiers) == 0 {
			log.Ctx(context.Background()).Error("oidc-audiences is required unless bypass-auth is set")
			os.Exit(1)
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	apiMux.HandleFunc("GET /api/entries", s.handleListEntries)
	apiMux.HandleFunc("POST /api/entries", s.handleCreateEntry)
	apiMux.HandleFunc("DELETE /api/entries/{entryID}", s.handleDeleteEntry)
	apiMux.HandleFunc("POST /api/entries/{entryID}/options", s.handleUpdateOptions)
	apiMux.HandleFunc("POST /api/entries/{entryID}/reauth", s.handleReauth)
	apiMux.HandleFunc("GET /api/entries/{entryID}/devices", s.handleListDevices)
	apiMux.HandleFunc("GET /api/entries/{entryID}/diagnostics", s.handleDiagnostics)

	apiMux.HandleFunc("POST /api/services/{service}", s.handleCallService)
	apiMux.HandleFunc("POST /api/devices/{deviceID}/buttons/{key}", s.handlePressButton)
	apiMux.HandleFunc("GET /api/events", s.handleListEvents)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

// errorStatus maps an integration error to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrEntryNotFound),
		errors.Is(err, storage.ErrDeviceNotFound),
		errors.Is(err, integration.ErrNotLoaded),
		errors.Is(err, integration.ErrUnknownService),
		errors.Is(err, coordinator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, integration.ErrAlreadyConfigured):
		return http.StatusConflict
	case errors.Is(err, integration.ErrInvalidRequest),
		errors.Is(err, integration.ErrInvalidAuth):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrReadingRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, integration.ErrCannotConnect),
		errors.Is(err, retry.ErrAuthFailed),
		errors.Is(err, retry.ErrUpdateFailed),
		errors.Is(err, coordinator.ErrMalformedResponse):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError logs err and writes it with the status errorStatus picks.
// Internal errors are not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := errorStatus(err)
	ctx := r.Context()
	if code >= http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Int("status", code), slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Int("status", code), slog.Any("error", err))
	}
	if code == http.StatusInternalServerError {
		writeJSONError(w, msg, code)
		return
	}
	writeJSONError(w, err.Error(), code)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to decode request body", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
