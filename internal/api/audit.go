package api

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"time"

	"github.com/briefvault/briefvault-api/internal/cryptoutil"
	"github.com/briefvault/briefvault-api/internal/data"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// HandleListAuditEvents lists the organization's audit log in insertion
// order. Admins and owners only.
func (api *API) HandleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanManageMembers)
	if !ok {
		return
	}

	events, err := api.audit.List(ctx, mem.OrganizationID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"events": events})
}

// AuditExportResponse is a verifiable audit log export. The signature's
// digest is the SHA-256 of the events array exactly as serialized here, so
// a verifier can re-hash the bytes it received.
type AuditExportResponse struct {
	OrganizationID string                `json:"organization_id"`
	ExportedAt     time.Time             `json:"exported_at"`
	EventCount     int                   `json:"event_count"`
	Events         json.RawMessage       `json:"events"`
	Signature      *cryptoutil.Signature `json:"signature"`
}

// HandleAuditExport verifies the organization's hash chain, serializes the
// events, and signs their digest with KMS.
func (api *API) HandleAuditExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanManageMembers)
	if !ok {
		return
	}

	events, err := api.audit.List(ctx, mem.OrganizationID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}

	// A broken chain means the log has been tampered with or corrupted.
	// Refuse to sign it.
	if idx := data.VerifyChain(events); idx != -1 {
		api.logger.Error(ctx, xerrors.Newf("audit chain broken at index %d", idx),
			"audit export refused",
			"org_id", mem.OrganizationID.String(),
		)
		api.errorResponse(ctx, w, http.StatusInternalServerError, "audit log failed integrity verification")
		return
	}

	raw, err := json.Marshal(events)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}

	digest := sha256.Sum256(raw)
	sig, err := api.signer.SignDigest(ctx, digest[:])
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}

	if api.metrics != nil {
		api.metrics.IncAuditExport()
	}
	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "audit.export", "organization", mem.OrganizationID.String())

	api.writeJSON(ctx, w, http.StatusOK, AuditExportResponse{
		OrganizationID: mem.OrganizationID.String(),
		ExportedAt:     time.Now().UTC().Truncate(time.Second),
		EventCount:     len(events),
		Events:         raw,
		Signature:      sig,
	})
}
