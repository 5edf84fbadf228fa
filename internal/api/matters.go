package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/briefvault/briefvault-api/internal/data"
)

// HandleCreateMatter opens a new matter in the organization.
func (api *API) HandleCreateMatter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanWrite)
	if !ok {
		return
	}

	var input struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		api.badRequest(ctx, w, err.Error())
		return
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		api.badRequest(ctx, w, "title is required")
		return
	}

	matter := &data.Matter{
		OrganizationID: mem.OrganizationID,
		Title:          input.Title,
		Description:    input.Description,
	}
	if err := api.matters.Insert(ctx, matter); err != nil {
		api.serverError(ctx, w, r, err)
		return
	}

	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "matter.create", "matter", matter.ID.String())
	api.writeJSON(ctx, w, http.StatusCreated, matter)
}

// HandleListMatters lists the organization's matters.
func (api *API) HandleListMatters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}

	matters, err := api.matters.List(ctx, mem.OrganizationID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"matters": matters})
}

// HandleGetMatter returns one matter.
func (api *API) HandleGetMatter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}
	matterID, err := readUUIDParam(r, "matterID")
	if err != nil {
		api.badRequest(ctx, w, "invalid matter ID")
		return
	}

	matter, err := api.matters.Get(ctx, mem.OrganizationID, matterID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, matter)
}

// HandleUpdateMatter applies a partial update. Absent fields keep their
// current values; optimistic locking turns lost updates into a 409.
func (api *API) HandleUpdateMatter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanWrite)
	if !ok {
		return
	}
	matterID, err := readUUIDParam(r, "matterID")
	if err != nil {
		api.badRequest(ctx, w, "invalid matter ID")
		return
	}

	matter, err := api.matters.Get(ctx, mem.OrganizationID, matterID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	var input struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		api.badRequest(ctx, w, err.Error())
		return
	}

	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			api.badRequest(ctx, w, "title must not be empty")
			return
		}
		matter.Title = title
	}
	if input.Description != nil {
		matter.Description = *input.Description
	}
	if input.Status != nil {
		if !data.ValidMatterStatus(*input.Status) {
			api.badRequest(ctx, w, "status must be one of OPEN, CLOSED, ARCHIVED")
			return
		}
		matter.Status = *input.Status
	}

	if err := api.matters.Update(ctx, matter); err != nil {
		switch {
		case errors.Is(err, data.ErrEditConflict):
			api.editConflict(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "matter.update", "matter", matter.ID.String())
	api.writeJSON(ctx, w, http.StatusOK, matter)
}

// HandleDeleteMatter removes a matter.
func (api *API) HandleDeleteMatter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanWrite)
	if !ok {
		return
	}
	matterID, err := readUUIDParam(r, "matterID")
	if err != nil {
		api.badRequest(ctx, w, "invalid matter ID")
		return
	}

	if err := api.matters.Delete(ctx, mem.OrganizationID, matterID); err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "matter.delete", "matter", matterID.String())
	api.writeJSON(ctx, w, http.StatusOK, map[string]string{"message": "matter deleted"})
}
