package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/briefvault/briefvault-api/internal/data"
)

// HandleListFrameworks lists the compliance frameworks the platform knows
// about. Frameworks are reference data, not tenant-scoped.
func (api *API) HandleListFrameworks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	frameworks, err := api.frameworks.List(ctx)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"frameworks": frameworks})
}

// HandleGetFramework returns one framework by code.
func (api *API) HandleGetFramework(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := chi.URLParam(r, "code")
	if code == "" {
		api.badRequest(ctx, w, "framework code is required")
		return
	}

	framework, err := api.frameworks.GetByCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, framework)
}
