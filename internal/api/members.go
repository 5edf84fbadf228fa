package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/data"
)

// HandleListMembers lists the organization's members. Any member may look.
func (api *API) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}

	members, err := api.orgs.ListMembers(ctx, mem.OrganizationID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"members": members})
}

// HandleAddMember adds a user to the organization. Owners and admins only,
// and nobody can hand out the owner role over the API.
func (api *API) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanManageMembers)
	if !ok {
		return
	}

	var input struct {
		UserID uuid.UUID `json:"user_id"`
		Role   data.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &input); err != nil {
		api.badRequest(ctx, w, err.Error())
		return
	}
	if input.UserID == uuid.Nil {
		api.badRequest(ctx, w, "user_id is required")
		return
	}
	if !input.Role.Valid() || input.Role == data.RoleOwner {
		api.badRequest(ctx, w, "role must be one of admin, member, viewer")
		return
	}

	newMem := &data.Membership{
		OrganizationID: mem.OrganizationID,
		UserID:         input.UserID,
		Role:           input.Role,
	}
	if err := api.orgs.AddMember(ctx, newMem); err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.badRequest(ctx, w, "no such user")
		case errors.Is(err, data.ErrEditConflict):
			api.errorResponse(ctx, w, http.StatusConflict, "user is already a member of this organization")
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "member.add", "user", input.UserID.String())
	api.writeJSON(ctx, w, http.StatusCreated, newMem)
}
