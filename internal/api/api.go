// Package api implements the tenant-facing JSON API: organizations,
// memberships, matters, documents, frameworks, and the audit log.
//
// Handlers are thin. Persistence lives in internal/data, blobs in
// internal/docstore, and background work is handed off through
// internal/queue. Dependencies are accepted as narrow interfaces so
// handlers can be tested without Postgres, Redis, S3, or KMS.
package api

import (
	"context"
	"io"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/cryptoutil"
	"github.com/briefvault/briefvault-api/internal/data"
	"github.com/briefvault/briefvault-api/internal/log"
	"github.com/briefvault/briefvault-api/internal/metrics"
	"github.com/briefvault/briefvault-api/internal/queue"
	"github.com/briefvault/briefvault-api/internal/ratelimit"
	"github.com/briefvault/briefvault-api/internal/xerrors"
)

// DefaultMaxUploadBytes caps document uploads when no limit is configured.
const DefaultMaxUploadBytes = 50 << 20 // 50 MiB

// OrganizationStore is the subset of the organization model the API uses.
type OrganizationStore interface {
	Insert(ctx context.Context, org *data.Organization, ownerID uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*data.Organization, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*data.Organization, error)
	GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*data.Membership, error)
	AddMember(ctx context.Context, mem *data.Membership) error
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]*data.Membership, error)
}

// UserStore resolves bearer tokens to users.
type UserStore interface {
	GetForToken(ctx context.Context, tokenPlaintext string) (*data.User, error)
}

// MatterStore is the subset of the matter model the API uses.
type MatterStore interface {
	Insert(ctx context.Context, matter *data.Matter) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*data.Matter, error)
	List(ctx context.Context, orgID uuid.UUID) ([]*data.Matter, error)
	Update(ctx context.Context, matter *data.Matter) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// DocumentStore is the subset of the document model the API uses.
type DocumentStore interface {
	Insert(ctx context.Context, doc *data.Document) error
	Get(ctx context.Context, orgID, id uuid.UUID) (*data.Document, error)
	ListForMatter(ctx context.Context, orgID, matterID uuid.UUID) ([]*data.Document, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}

// FrameworkStore is the subset of the framework model the API uses.
type FrameworkStore interface {
	List(ctx context.Context) ([]*data.Framework, error)
	GetByCode(ctx context.Context, code string) (*data.Framework, error)
}

// AuditStore records and lists audit events.
type AuditStore interface {
	Insert(ctx context.Context, event *data.AuditEvent) error
	List(ctx context.Context, orgID uuid.UUID) ([]*data.AuditEvent, error)
}

// BlobStore holds document content.
type BlobStore interface {
	Put(ctx context.Context, orgID, docID uuid.UUID, contentType string, body io.Reader) (string, error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

// JobQueue hands documents to the processing workers.
type JobQueue interface {
	EnqueueProcessDocument(ctx context.Context, payload queue.ProcessDocumentPayload) (int64, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// ExportSigner signs audit export digests.
type ExportSigner interface {
	SignDigest(ctx context.Context, digest []byte) (*cryptoutil.Signature, error)
}

// Options configures an API.
type Options struct {
	Organizations OrganizationStore
	Users         UserStore
	Matters       MatterStore
	Documents     DocumentStore
	Frameworks    FrameworkStore
	Audit         AuditStore
	Blobs         BlobStore
	Jobs          JobQueue
	Signer        ExportSigner

	Gate    *ratelimit.Gate
	Metrics *metrics.ServerMetrics
	Logger  log.Logger

	// MaxUploadBytes caps the request body on the upload route.
	// Zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// API implements the JSON API endpoints.
type API struct {
	orgs       OrganizationStore
	users      UserStore
	matters    MatterStore
	documents  DocumentStore
	frameworks FrameworkStore
	audit      AuditStore
	blobs      BlobStore
	jobs       JobQueue
	signer     ExportSigner

	gate           *ratelimit.Gate
	metrics        *metrics.ServerMetrics
	logger         log.Logger
	maxUploadBytes int64
}

// New creates an API handler set. All stores and the gate are required.
func New(opts Options) (*API, error) {
	switch {
	case opts.Organizations == nil:
		return nil, xerrors.New("api: organization store is required")
	case opts.Users == nil:
		return nil, xerrors.New("api: user store is required")
	case opts.Matters == nil:
		return nil, xerrors.New("api: matter store is required")
	case opts.Documents == nil:
		return nil, xerrors.New("api: document store is required")
	case opts.Frameworks == nil:
		return nil, xerrors.New("api: framework store is required")
	case opts.Audit == nil:
		return nil, xerrors.New("api: audit store is required")
	case opts.Blobs == nil:
		return nil, xerrors.New("api: blob store is required")
	case opts.Jobs == nil:
		return nil, xerrors.New("api: job queue is required")
	case opts.Signer == nil:
		return nil, xerrors.New("api: export signer is required")
	case opts.Gate == nil:
		return nil, xerrors.New("api: rate limit gate is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	return &API{
		orgs:           opts.Organizations,
		users:          opts.Users,
		matters:        opts.Matters,
		documents:      opts.Documents,
		frameworks:     opts.Frameworks,
		audit:          opts.Audit,
		blobs:          opts.Blobs,
		jobs:           opts.Jobs,
		signer:         opts.Signer,
		gate:           opts.Gate,
		metrics:        opts.Metrics,
		logger:         logger,
		maxUploadBytes: maxUpload,
	}, nil
}

// RegisterRoutes attaches all API endpoints under /api/v1. Routes are
// grouped by rate-limit policy so each group shares one budget class.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(api.gate.Limit("read"))

			r.Get("/organizations", api.HandleListOrganizations)
			r.Get("/organizations/{orgID}", api.HandleGetOrganization)
			r.Get("/organizations/{orgID}/members", api.HandleListMembers)
			r.Get("/organizations/{orgID}/matters", api.HandleListMatters)
			r.Get("/organizations/{orgID}/matters/{matterID}", api.HandleGetMatter)
			r.Get("/organizations/{orgID}/matters/{matterID}/documents", api.HandleListDocuments)
			r.Get("/organizations/{orgID}/documents/{docID}", api.HandleGetDocument)
			r.Get("/organizations/{orgID}/documents/{docID}/download", api.HandleDownloadDocument)
			r.Get("/organizations/{orgID}/audit", api.HandleListAuditEvents)
			r.Get("/frameworks", api.HandleListFrameworks)
			r.Get("/frameworks/{code}", api.HandleGetFramework)
			r.Get("/admin/queue/stats", api.HandleQueueStats)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.gate.Limit("write"))

			r.Post("/organizations", api.HandleCreateOrganization)
			r.Post("/organizations/{orgID}/members", api.HandleAddMember)
			r.Post("/organizations/{orgID}/matters", api.HandleCreateMatter)
			r.Patch("/organizations/{orgID}/matters/{matterID}", api.HandleUpdateMatter)
			r.Delete("/organizations/{orgID}/matters/{matterID}", api.HandleDeleteMatter)
			r.Delete("/organizations/{orgID}/documents/{docID}", api.HandleDeleteDocument)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.gate.Limit("upload"))

			r.Post("/organizations/{orgID}/matters/{matterID}/documents", api.HandleUploadDocument)
		})

		r.Group(func(r chi.Router) {
			r.Use(api.gate.Limit("export"))

			r.Get("/organizations/{orgID}/audit/export", api.HandleAuditExport)
		})
	})
}

// recordAudit appends an event to the organization's audit chain. The
// mutation it describes has already committed, so a failed append is
// logged rather than surfaced; failing the response would not undo it.
func (api *API) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action, entityType, entityID string) {
	event := &data.AuditEvent{
		OrganizationID: orgID,
		ActorID:        actorID,
		Action:         action,
		EntityType:     entityType,
		EntityID:       entityID,
	}
	if err := api.audit.Insert(ctx, event); err != nil {
		api.logger.Error(ctx, err, "failed to record audit event",
			"org_id", orgID.String(),
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
		)
		return
	}
	if api.metrics != nil {
		api.metrics.IncAuditEvent(action)
	}
}
