package server

import (
	"log/slog"
	"net/http"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.integration.Entries(r.Context())
	if err != nil {
		writeError(w, r, "failed to list entries", err)
		return
	}
	writeJSON(w, entries)
}

type createEntryRequest struct {
	Username string              `json:"username"`
	Password string              `json:"password"`
	Options  *types.EntryOptions `json:"options,omitempty"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	entry, err := s.integration.AddEntry(ctx, types.Credentials{Username: req.Username, Password: req.Password}, req.Options)
	if err != nil && entry.ID == "" {
		writeError(w, r, "failed to create entry", err)
		return
	}
	if err != nil {
		// stored but not loaded, the caller can still see and remove it
		log.Ctx(ctx).ErrorContext(ctx, "entry created but failed to load", slog.String("entryID", entry.ID), slog.Any("error", err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, s.integration.Status(entry))
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := s.integration.RemoveEntry(r.Context(), r.PathValue("entryID")); err != nil {
		writeError(w, r, "failed to remove entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateOptions(w http.ResponseWriter, r *http.Request) {
	var opts types.EntryOptions
	if !decodeJSON(w, r, &opts) {
		return
	}
	if opts.ScanIntervalHours < 0 {
		writeJSONError(w, "scanIntervalHours cannot be negative", http.StatusBadRequest)
		return
	}
	entry, err := s.integration.UpdateOptions(r.Context(), r.PathValue("entryID"), opts)
	if err != nil {
		writeError(w, r, "failed to update options", err)
		return
	}
	writeJSON(w, s.integration.Status(entry))
}

func (s *Server) handleReauth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	entryID := r.PathValue("entryID")
	if err := s.integration.Reauth(r.Context(), entryID, req.Password); err != nil {
		writeError(w, r, "failed to reauthenticate entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.integration.Devices(r.Context(), r.PathValue("entryID"))
	if err != nil {
		writeError(w, r, "failed to list devices", err)
		return
	}
	writeJSON(w, devices)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := s.integration.Diagnostics(r.Context(), r.PathValue("entryID"))
	if err != nil {
		writeError(w, r, "failed to build diagnostics", err)
		return
	}
	writeJSON(w, d)
}
