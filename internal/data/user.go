package data

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrDuplicateEmail = errors.New("duplicate email")

// User represents an individual user. Credentials and session issuance live
// with the external auth provider; this table only stores identity and the
// hashes of issued API tokens.
type User struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Version   int       `json:"version"`
}

// TokenHash is the stored form of an API token: only the SHA-256 of the
// plaintext ever touches the database.
func TokenHash(plaintext string) []byte {
	hash := sha256.Sum256([]byte(plaintext))
	return hash[:]
}

// UserModel struct wraps a database connection pool wrapper.
type UserModel struct {
	DB *PoolWrapper
}

// Insert inserts a new record in the users table.
func (m UserModel) Insert(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, name, email)
              VALUES ($1, $2, $3)
              RETURNING created_at, version`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	user.ID = uuid.New()
	err := m.DB.Pool.QueryRow(ctx, query, user.ID, user.Name, user.Email).Scan(&user.CreatedAt, &user.Version)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), ErrMsgViolateUniqueConstraint) && strings.Contains(err.Error(), "email"):
			return ErrDuplicateEmail
		default:
			return err
		}
	}
	return nil
}

// Get retrieves a user by ID.
func (m UserModel) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT id, created_at, name, email, version
                FROM users
               WHERE id = $1`

	var user User

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.CreatedAt,
		&user.Name,
		&user.Email,
		&user.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &user, nil
}

// GetForToken retrieves the user owning the given plaintext API token,
// provided the token has not expired.
func (m UserModel) GetForToken(ctx context.Context, tokenPlaintext string) (*User, error) {
	query := `SELECT u.id, u.created_at, u.name, u.email, u.version
                FROM users u
                JOIN api_tokens t ON t.user_id = u.id
               WHERE t.hash = $1 AND t.expires_at > $2`

	var user User

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := m.DB.Pool.QueryRow(ctx, query, TokenHash(tokenPlaintext), time.Now()).Scan(
		&user.ID,
		&user.CreatedAt,
		&user.Name,
		&user.Email,
		&user.Version,
	)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &user, nil
}
