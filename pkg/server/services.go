package server

import (
	"net/http"
	"strconv"

	"github.com/jameshartig/mygas/pkg/integration"
)

type serviceResponse struct {
	Service string         `json:"service"`
	Result  map[string]any `json:"result"`
}

func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	var call integration.ServiceCall
	if !decodeJSON(w, r, &call) {
		return
	}
	name := r.PathValue("service")
	result, err := s.integration.CallService(r.Context(), name, call)
	if err != nil {
		writeError(w, r, "service call failed", err)
		return
	}
	writeJSON(w, serviceResponse{Service: name, Result: result})
}

func (s *Server) handlePressButton(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	result, err := s.integration.PressButton(r.Context(), r.PathValue("deviceID"), key)
	if err != nil {
		writeError(w, r, "button press failed", err)
		return
	}
	writeJSON(w, serviceResponse{Service: key, Result: result})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	events := s.integration.Events().Recent(limit)
	if events == nil {
		events = []integration.Event{}
	}
	writeJSON(w, events)
}
