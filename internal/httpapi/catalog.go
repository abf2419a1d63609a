package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"agent-router/internal/domain"
	"agent-router/internal/integrations/catalog"
	"agent-router/internal/usecase"
)

func (a *api) listCatalog(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if !catalog.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_kind")
		return
	}
	items, err := a.Catalog.List(r.Context(), kind)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	if items == nil {
		items = []domain.Entity{}
	}
	writeJSON(w, http.StatusOK, items)
}

// toggleCatalog flips the reserved flag. Concurrent toggles are last write
// wins.
func (a *api) toggleCatalog(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if !catalog.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_kind")
		return
	}
	e, err := a.Catalog.Toggle(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func writeCatalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, usecase.ErrorNotFound, "entity_not_found")
		return
	}
	log.Error().Err(err).Msg("catalog request failed")
	writeError(w, http.StatusBadGateway, usecase.ErrorUpstream, "catalog_error")
}
