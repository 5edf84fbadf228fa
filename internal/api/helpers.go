package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/data"
)

// maxJSONBody caps JSON request bodies. Document content goes through the
// multipart upload route, not JSON.
const maxJSONBody = 1 << 20

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (api *API) errorResponse(ctx context.Context, w http.ResponseWriter, status int, message string) {
	api.writeJSON(ctx, w, status, map[string]string{"error": message})
}

func (api *API) badRequest(ctx context.Context, w http.ResponseWriter, message string) {
	api.errorResponse(ctx, w, http.StatusBadRequest, message)
}

func (api *API) notFound(ctx context.Context, w http.ResponseWriter) {
	api.errorResponse(ctx, w, http.StatusNotFound, "the requested resource could not be found")
}

func (api *API) editConflict(ctx context.Context, w http.ResponseWriter) {
	api.errorResponse(ctx, w, http.StatusConflict, "unable to update the record due to an edit conflict, please try again")
}

func (api *API) serverError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	api.logger.Error(ctx, err, "handler failure",
		"method", r.Method,
		"path", r.URL.Path,
	)
	api.errorResponse(ctx, w, http.StatusInternalServerError, "the server encountered a problem and could not process your request")
}

// readUUIDParam extracts a UUID route parameter by name.
func readUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields,
// trailing content, and bodies over maxJSONBody.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			return errors.New("request body too large")
		case errors.Is(err, io.EOF):
			return errors.New("request body must not be empty")
		default:
			return errors.New("request body contains invalid JSON")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// membership loads the calling user's membership in the organization named
// by the {orgID} route parameter. It writes the error response itself; a
// false return means the handler should stop. Non-members get a 404 so the
// API does not confirm which organizations exist.
func (api *API) membership(w http.ResponseWriter, r *http.Request) (*data.Membership, bool) {
	ctx := r.Context()

	orgID, err := readUUIDParam(r, "orgID")
	if err != nil {
		api.badRequest(ctx, w, "invalid organization ID")
		return nil, false
	}

	user := UserFromContext(ctx)
	if user == nil {
		api.errorResponse(ctx, w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	mem, err := api.orgs.GetMembership(ctx, orgID, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrNotMember):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return nil, false
	}
	return mem, true
}

// requireRole is membership plus a role check. Members who lack the
// permission get a 403.
func (api *API) requireRole(w http.ResponseWriter, r *http.Request, allowed func(data.Role) bool) (*data.Membership, bool) {
	mem, ok := api.membership(w, r)
	if !ok {
		return nil, false
	}
	if !allowed(mem.Role) {
		api.errorResponse(r.Context(), w, http.StatusForbidden, "your role does not permit this action")
		return nil, false
	}
	return mem, true
}
