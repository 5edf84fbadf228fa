package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrDuplicateSlug = errors.New("duplicate organization slug")

// Organization is a tenant. All matters, documents, and audit events hang
// off an organization.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Version   int       `json:"version"`
}

// Role is a member's permission level within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may create or modify records.
func (r Role) CanWrite() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManageMembers reports whether the role may add or remove members.
func (r Role) CanManageMembers() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Membership ties a user to an organization with a role.
type Membership struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrganizationModel struct wraps a database connection pool wrapper.
type OrganizationModel struct {
	DB *PoolWrapper
}

// Insert creates the organization and makes ownerID its owner in one
// transaction, so an organization can never exist without an owner.
func (m OrganizationModel) Insert(ctx context.Context, org *Organization, ownerID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.DB.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO organizations (id, name, slug)
              VALUES ($1, $2, $3)
              RETURNING created_at, version`

	org.ID = uuid.New()
	err = tx.QueryRow(ctx, query, org.ID, org.Name, org.Slug).Scan(&org.CreatedAt, &org.Version)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), ErrMsgViolateUniqueConstraint) && strings.Contains(err.Error(), "slug"):
			return ErrDuplicateSlug
		default:
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO org_memberships (organization_id, user_id, role) VALUES ($1, $2, $3)`,
		org.ID, ownerID, RoleOwner)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Get retrieves an organization by ID.
func (m OrganizationModel) Get(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `SELECT id, created_at, name, slug, version
                FROM organizations
               WHERE id = $1`

	var org Organization

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, id).Scan(
		&org.ID,
		&org.CreatedAt,
		&org.Name,
		&org.Slug,
		&org.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &org, nil
}

// ListForUser returns the organizations the user belongs to.
func (m OrganizationModel) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Organization, error) {
	query := `SELECT o.id, o.created_at, o.name, o.slug, o.version
                FROM organizations o
                JOIN org_memberships mem ON mem.organization_id = o.id
               WHERE mem.user_id = $1
               ORDER BY o.created_at`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []*Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.CreatedAt, &org.Name, &org.Slug, &org.Version); err != nil {
			return nil, err
		}
		orgs = append(orgs, &org)
	}
	return orgs, rows.Err()
}

// GetMembership returns the user's membership in the organization, or
// ErrNotMember. Every org-scoped handler runs this check first.
func (m OrganizationModel) GetMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	query := `SELECT organization_id, user_id, role, created_at
                FROM org_memberships
               WHERE organization_id = $1 AND user_id = $2`

	var mem Membership

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, orgID, userID).Scan(
		&mem.OrganizationID,
		&mem.UserID,
		&mem.Role,
		&mem.CreatedAt,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrNotMember
		default:
			return nil, err
		}
	}

	return &mem, nil
}

// AddMember inserts a membership. Duplicate memberships conflict; a user
// that does not exist trips the FK and surfaces as ErrRecordNotFound.
func (m OrganizationModel) AddMember(ctx context.Context, mem *Membership) error {
	query := `INSERT INTO org_memberships (organization_id, user_id, role)
              VALUES ($1, $2, $3)
              RETURNING created_at`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, mem.OrganizationID, mem.UserID, mem.Role).Scan(&mem.CreatedAt)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), ErrMsgViolateUniqueConstraint):
			return ErrEditConflict
		case strings.Contains(err.Error(), ErrMsgViolateForeignKey):
			return ErrRecordNotFound
		default:
			return err
		}
	}
	return nil
}

// ListMembers returns all memberships for the organization.
func (m OrganizationModel) ListMembers(ctx context.Context, orgID uuid.UUID) ([]*Membership, error) {
	query := `SELECT organization_id, user_id, role, created_at
                FROM org_memberships
               WHERE organization_id = $1
               ORDER BY created_at`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		var mem Membership
		if err := rows.Scan(&mem.OrganizationID, &mem.UserID, &mem.Role, &mem.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, &mem)
	}
	return members, rows.Err()
}
