package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/briefvault/briefvault-api/internal/data"
)

// HandleCreateOrganization creates an organization. The caller becomes its
// owner inside the same transaction.
func (api *API) HandleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	var input struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		api.badRequest(ctx, w, err.Error())
		return
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Slug = strings.TrimSpace(strings.ToLower(input.Slug))
	if input.Name == "" || input.Slug == "" {
		api.badRequest(ctx, w, "name and slug are required")
		return
	}

	org := &data.Organization{
		Name: input.Name,
		Slug: input.Slug,
	}
	if err := api.orgs.Insert(ctx, org, user.ID); err != nil {
		switch {
		case errors.Is(err, data.ErrDuplicateSlug):
			api.errorResponse(ctx, w, http.StatusConflict, "an organization with this slug already exists")
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	api.recordAudit(ctx, org.ID, user.ID, "organization.create", "organization", org.ID.String())
	api.writeJSON(ctx, w, http.StatusCreated, org)
}

// HandleListOrganizations lists the organizations the caller belongs to.
func (api *API) HandleListOrganizations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	orgs, err := api.orgs.ListForUser(ctx, user.ID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"organizations": orgs})
}

// HandleGetOrganization returns one organization the caller belongs to.
func (api *API) HandleGetOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}

	org, err := api.orgs.Get(ctx, mem.OrganizationID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, org)
}
