package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/briefvault/briefvault-api/internal/data"
	"github.com/briefvault/briefvault-api/internal/queue"
)

// HandleUploadDocument accepts a multipart upload, stores the content in
// the blob store, records the document row, and enqueues a processing job.
func (api *API) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
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

	// The matter must exist before we accept content for it.
	if _, err := api.matters.Get(ctx, mem.OrganizationID, matterID); err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			api.errorResponse(ctx, w, http.StatusRequestEntityTooLarge,
				"upload exceeds the "+strconv.FormatInt(api.maxUploadBytes, 10)+" byte limit")
		default:
			api.badRequest(ctx, w, `multipart form must include a "file" part`)
		}
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.New()
	storageKey, err := api.blobs.Put(ctx, mem.OrganizationID, docID, contentType, file)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}

	doc := &data.Document{
		ID:             docID,
		OrganizationID: mem.OrganizationID,
		MatterID:       matterID,
		Name:           name,
		FileName:       header.Filename,
		ContentType:    contentType,
		SizeBytes:      header.Size,
		StorageKey:     storageKey,
		Status:         data.DocumentUploaded,
	}
	if err := api.documents.Insert(ctx, doc); err != nil {
		// The row is the source of truth. Without it the blob is orphaned,
		// so clean it up before reporting the failure.
		if delErr := api.blobs.Delete(ctx, storageKey); delErr != nil {
			api.logger.Warn(ctx, "failed to delete orphaned blob",
				"storage_key", storageKey, "error", delErr)
		}
		api.serverError(ctx, w, r, err)
		return
	}

	if api.metrics != nil {
		api.metrics.IncDocumentUploaded(header.Size)
	}

	actor := UserFromContext(ctx)
	jobID, err := api.jobs.EnqueueProcessDocument(ctx, queue.ProcessDocumentPayload{
		DocumentID:     doc.ID,
		StorageKey:     doc.StorageKey,
		FileName:       doc.FileName,
		OrganizationID: doc.OrganizationID,
		UserID:         actor.ID.String(),
	})
	if err != nil {
		// The upload has already persisted; the job can be re-enqueued.
		api.logger.Error(ctx, err, "failed to enqueue document processing job",
			"document_id", doc.ID.String())
	} else {
		if api.metrics != nil {
			api.metrics.IncJobEnqueued()
		}
		api.logger.Info(ctx, "document queued for processing",
			"document_id", doc.ID.String(), "job_id", jobID)
	}

	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "document.upload", "document", doc.ID.String())
	api.writeJSON(ctx, w, http.StatusCreated, doc)
}

// HandleListDocuments lists a matter's documents.
func (api *API) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
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

	docs, err := api.documents.ListForMatter(ctx, mem.OrganizationID, matterID)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"documents": docs})
}

// HandleGetDocument returns document metadata.
func (api *API) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}
	docID, err := readUUIDParam(r, "docID")
	if err != nil {
		api.badRequest(ctx, w, "invalid document ID")
		return
	}

	doc, err := api.documents.Get(ctx, mem.OrganizationID, docID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, doc)
}

// HandleDownloadDocument streams document content from the blob store.
func (api *API) HandleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.membership(w, r)
	if !ok {
		return
	}
	docID, err := readUUIDParam(r, "docID")
	if err != nil {
		api.badRequest(ctx, w, "invalid document ID")
		return
	}

	doc, err := api.documents.Get(ctx, mem.OrganizationID, docID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	body, contentType, err := api.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		api.serverError(ctx, w, r, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = doc.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	if _, err := io.Copy(w, body); err != nil {
		api.logger.Warn(ctx, "document download interrupted",
			"document_id", doc.ID.String(), "error", err)
	}
}

// HandleDeleteDocument removes a document row and its blob.
func (api *API) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mem, ok := api.requireRole(w, r, data.Role.CanWrite)
	if !ok {
		return
	}
	docID, err := readUUIDParam(r, "docID")
	if err != nil {
		api.badRequest(ctx, w, "invalid document ID")
		return
	}

	doc, err := api.documents.Get(ctx, mem.OrganizationID, docID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	if err := api.documents.Delete(ctx, mem.OrganizationID, docID); err != nil {
		switch {
		case errors.Is(err, data.ErrRecordNotFound):
			api.notFound(ctx, w)
		default:
			api.serverError(ctx, w, r, err)
		}
		return
	}

	// Blob deletion after the row: a stray blob is recoverable garbage, a
	// dangling row is a broken document.
	if err := api.blobs.Delete(ctx, doc.StorageKey); err != nil {
		api.logger.Warn(ctx, "failed to delete document blob",
			"storage_key", doc.StorageKey, "error", err)
	}

	actor := UserFromContext(ctx)
	api.recordAudit(ctx, mem.OrganizationID, actor.ID, "document.delete", "document", docID.String())
	api.writeJSON(ctx, w, http.StatusOK, map[string]string{"message": "document deleted"})
}
