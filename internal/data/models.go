package data

import (
	"errors"
)

var (
	ErrMsgViolateUniqueConstraint = "duplicate key value violates unique constraint"
	ErrMsgViolateForeignKey       = "violates foreign key constraint"

	ErrRecordNotFound = errors.New("record not found")
	ErrEditConflict   = errors.New("edit conflict")
	ErrNotMember      = errors.New("not an organization member")
)

// Models puts models together in one struct.
type Models struct {
	Organization OrganizationModel
	User         UserModel
	Matter       MatterModel
	Document     DocumentModel
	Framework    FrameworkModel
	Audit        AuditModel
}

// NewModels returns a Models struct containing the initialized models.
func NewModels(pw *PoolWrapper) Models {
	return Models{
		Organization: OrganizationModel{DB: pw},
		User:         UserModel{DB: pw},
		Matter:       MatterModel{DB: pw},
		Document:     DocumentModel{DB: pw},
		Framework:    FrameworkModel{DB: pw},
		Audit:        AuditModel{DB: pw},
	}
}
