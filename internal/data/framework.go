package data

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Framework is a compliance framework (GDPR, HIPAA, SOC2, ...) that matters
// are assessed against. Read-only reference data seeded out of band.
type Framework struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Jurisdiction string    `json:"jurisdiction"`
	CreatedAt    time.Time `json:"created_at"`
}

// FrameworkModel struct wraps a database connection pool wrapper.
type FrameworkModel struct {
	DB *PoolWrapper
}

// List returns all frameworks ordered by code.
func (m FrameworkModel) List(ctx context.Context) ([]*Framework, error) {
	query := `SELECT code, name, description, jurisdiction, created_at
                FROM frameworks
               ORDER BY code`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frameworks []*Framework
	for rows.Next() {
		var f Framework
		if err := rows.Scan(&f.Code, &f.Name, &f.Description, &f.Jurisdiction, &f.CreatedAt); err != nil {
			return nil, err
		}
		frameworks = append(frameworks, &f)
	}
	return frameworks, rows.Err()
}

// GetByCode retrieves one framework by its code.
func (m FrameworkModel) GetByCode(ctx context.Context, code string) (*Framework, error) {
	query := `SELECT code, name, description, jurisdiction, created_at
                FROM frameworks
               WHERE code = $1`

	var f Framework

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, code).Scan(
		&f.Code, &f.Name, &f.Description, &f.Jurisdiction, &f.CreatedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &f, nil
}
