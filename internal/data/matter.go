package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Matter is a legal matter within an organization; documents attach to it.
type Matter struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Status         string    `json:"status"`
	Version        int       `json:"version"`
}

// Matter statuses.
const (
	MatterOpen     = "OPEN"
	MatterClosed   = "CLOSED"
	MatterArchived = "ARCHIVED"
)

// ValidMatterStatus reports whether s is a defined matter status.
func ValidMatterStatus(s string) bool {
	switch s {
	case MatterOpen, MatterClosed, MatterArchived:
		return true
	}
	return false
}

// MatterModel struct wraps a database connection pool wrapper.
type MatterModel struct {
	DB *PoolWrapper
}

// Insert creates a matter in OPEN status.
func (m MatterModel) Insert(ctx context.Context, matter *Matter) error {
	query := `INSERT INTO matters (id, organization_id, title, description, status)
              VALUES ($1, $2, $3, $4, $5)
              RETURNING created_at, version`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	matter.ID = uuid.New()
	if matter.Status == "" {
		matter.Status = MatterOpen
	}
	return m.DB.Pool.QueryRow(ctx, query,
		matter.ID, matter.OrganizationID, matter.Title, matter.Description, matter.Status,
	).Scan(&matter.CreatedAt, &matter.Version)
}

// Get retrieves a matter scoped to its organization: a matter ID from
// another tenant reads as not found.
func (m MatterModel) Get(ctx context.Context, orgID, id uuid.UUID) (*Matter, error) {
	query := `SELECT id, organization_id, created_at, title, description, status, version
                FROM matters
               WHERE id = $1 AND organization_id = $2`

	var matter Matter

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, id, orgID).Scan(
		&matter.ID,
		&matter.OrganizationID,
		&matter.CreatedAt,
		&matter.Title,
		&matter.Description,
		&matter.Status,
		&matter.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &matter, nil
}

// List returns the organization's matters, newest first.
func (m MatterModel) List(ctx context.Context, orgID uuid.UUID) ([]*Matter, error) {
	query := `SELECT id, organization_id, created_at, title, description, status, version
                FROM matters
               WHERE organization_id = $1
               ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matters []*Matter
	for rows.Next() {
		var matter Matter
		err := rows.Scan(
			&matter.ID,
			&matter.OrganizationID,
			&matter.CreatedAt,
			&matter.Title,
			&matter.Description,
			&matter.Status,
			&matter.Version,
		)
		if err != nil {
			return nil, err
		}
		matters = append(matters, &matter)
	}
	return matters, rows.Err()
}

// Update updates title/description/status with optimistic locking on version.
func (m MatterModel) Update(ctx context.Context, matter *Matter) error {
	query := `UPDATE matters
              SET title = $1, description = $2, status = $3, version = version + 1
              WHERE id = $4 AND organization_id = $5 AND version = $6
              RETURNING version`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query,
		matter.Title, matter.Description, matter.Status,
		matter.ID, matter.OrganizationID, matter.Version,
	).Scan(&matter.Version)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return ErrEditConflict
		default:
			return err
		}
	}
	return nil
}

// Delete removes a matter, scoped to its organization.
func (m MatterModel) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	query := `DELETE FROM matters WHERE id = $1 AND organization_id = $2`

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
