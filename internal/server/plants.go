package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/local/smartgarden/internal/store"
)

func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.deps.Plants.LoadPlants(r.Context(), userFrom(r.Context()))
	if err != nil {
		writePlantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plants)
}

func (s *Server) handleAddPlant(w http.ResponseWriter, r *http.Request) {
	var p store.Plant
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	added, err := s.deps.Plants.AddPlant(r.Context(), userFrom(r.Context()), p)
	if err != nil {
		writePlantError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// handleSavePlants replaces the whole list, as the app does after local edits.
func (s *Server) handleSavePlants(w http.ResponseWriter, r *http.Request) {
	var plants []store.Plant
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &plants); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, p := range plants {
		if p.Name == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("plant %d: name is required", i))
			return
		}
	}
	saved, err := s.deps.Plants.SavePlants(r.Context(), userFrom(r.Context()), plants)
	if err != nil {
		writePlantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleUpdatePlant(w http.ResponseWriter, r *http.Request) {
	var p store.Plant
	if err := decodeJSON(w, r, s.deps.MaxBodyBytes, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = r.PathValue("id")
	if err := s.deps.Plants.UpdatePlant(r.Context(), userFrom(r.Context()), p); err != nil {
		writePlantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Plants.DeletePlant(r.Context(), userFrom(r.Context()), r.PathValue("id")); err != nil {
		writePlantError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearPlants(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Plants.ClearPlants(r.Context(), userFrom(r.Context())); err != nil {
		writePlantError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writePlantError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Error().Err(err).Msg("plant store request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
