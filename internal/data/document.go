package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Document statuses follow the processing pipeline: uploads land as
// UPLOADED, the worker moves them to PROCESSING, then ANALYZED or ERROR.
const (
	DocumentUploaded   = "UPLOADED"
	DocumentProcessing = "PROCESSING"
	DocumentAnalyzed   = "ANALYZED"
	DocumentError      = "ERROR"
)

// ValidDocumentStatus reports whether s is a defined document status.
func ValidDocumentStatus(s string) bool {
	switch s {
	case DocumentUploaded, DocumentProcessing, DocumentAnalyzed, DocumentError:
		return true
	}
	return false
}

// Document is an uploaded file. Content lives in the blob store under
// StorageKey; this row tracks identity, ownership, and pipeline status.
type Document struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	MatterID       uuid.UUID `json:"matter_id"`
	CreatedAt      time.Time `json:"created_at"`
	Name           string    `json:"name"`
	FileName       string    `json:"file_name"`
	ContentType    string    `json:"content_type"`
	SizeBytes      int64     `json:"size_bytes"`
	StorageKey     string    `json:"storage_key"`
	Status         string    `json:"status"`
	Version        int       `json:"version"`
}

// DocumentModel struct wraps a database connection pool wrapper.
type DocumentModel struct {
	DB *PoolWrapper
}

// Insert records an uploaded document in UPLOADED status.
func (m DocumentModel) Insert(ctx context.Context, doc *Document) error {
	query := `INSERT INTO documents
              (id, organization_id, matter_id, name, file_name, content_type, size_bytes, storage_key, status)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
              RETURNING created_at, version`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if doc.Status == "" {
		doc.Status = DocumentUploaded
	}
	return m.DB.Pool.QueryRow(ctx, query,
		doc.ID, doc.OrganizationID, doc.MatterID,
		doc.Name, doc.FileName, doc.ContentType, doc.SizeBytes, doc.StorageKey, doc.Status,
	).Scan(&doc.CreatedAt, &doc.Version)
}

// Get retrieves a document scoped to its organization.
func (m DocumentModel) Get(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	query := `SELECT id, organization_id, matter_id, created_at, name, file_name,
                     content_type, size_bytes, storage_key, status, version
                FROM documents
               WHERE id = $1 AND organization_id = $2`

	var doc Document

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, id, orgID).Scan(
		&doc.ID,
		&doc.OrganizationID,
		&doc.MatterID,
		&doc.CreatedAt,
		&doc.Name,
		&doc.FileName,
		&doc.ContentType,
		&doc.SizeBytes,
		&doc.StorageKey,
		&doc.Status,
		&doc.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &doc, nil
}

// ListForMatter returns a matter's documents, newest first.
func (m DocumentModel) ListForMatter(ctx context.Context, orgID, matterID uuid.UUID) ([]*Document, error) {
	query := `SELECT id, organization_id, matter_id, created_at, name, file_name,
                     content_type, size_bytes, storage_key, status, version
                FROM documents
               WHERE organization_id = $1 AND matter_id = $2
               ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query, orgID, matterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		err := rows.Scan(
			&doc.ID,
			&doc.OrganizationID,
			&doc.MatterID,
			&doc.CreatedAt,
			&doc.Name,
			&doc.FileName,
			&doc.ContentType,
			&doc.SizeBytes,
			&doc.StorageKey,
			&doc.Status,
			&doc.Version,
		)
		if err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// UpdateStatus moves a document through the pipeline.
func (m DocumentModel) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status string) error {
	query := `UPDATE documents
              SET status = $1, version = version + 1
              WHERE id = $2 AND organization_id = $3`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := m.DB.Pool.Exec(ctx, query, status, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Delete removes a document row. The caller is responsible for the blob.
func (m DocumentModel) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	query := `DELETE FROM documents WHERE id = $1 AND organization_id = $2`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := m.DB.Pool.Exec(ctx, query, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}
