package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one entry in an organization's tamper-evident audit log.
// Each event's hash covers its content plus the previous event's hash, so
// removing or editing any entry breaks the chain from that point on.
type AuditEvent struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ActorID        uuid.UUID `json:"actor_id"`
	Action         string    `json:"action"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	CreatedAt      time.Time `json:"created_at"`
	PrevHash       string    `json:"prev_hash"`
	Hash           string    `json:"hash"`
}

// ChainHash computes the event's hash over its identifying fields and the
// previous hash. Hex-encoded SHA-256.
func ChainHash(e *AuditEvent) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.OrganizationID.String()))
	h.Write([]byte(e.ActorID.String()))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.EntityType))
	h.Write([]byte(e.EntityID))
	h.Write([]byte(e.CreatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain walks events in insertion order and reports the index of the
// first broken link, or -1 when the chain is intact. The first event must
// have an empty PrevHash.
func VerifyChain(events []*AuditEvent) int {
	prev := ""
	for i, e := range events {
		if e.PrevHash != prev {
			return i
		}
		if ChainHash(e) != e.Hash {
			return i
		}
		prev = e.Hash
	}
	return -1
}

// AuditModel struct wraps a database connection pool wrapper.
type AuditModel struct {
	DB *PoolWrapper
}

// Insert appends an event to the organization's chain. A per-organization
// advisory lock serializes concurrent appends, otherwise two writers could
// both chain off the same predecessor and fork the log.
func (m AuditModel) Insert(ctx context.Context, event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := m.DB.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.OrganizationID.String())
	if err != nil {
		return err
	}

	var prevHash string
	err = tx.QueryRow(ctx,
		`SELECT COALESCE((SELECT hash FROM audit_events
		                   WHERE organization_id = $1
		                   ORDER BY seq DESC LIMIT 1), '')`,
		event.OrganizationID,
	).Scan(&prevHash)
	if err != nil {
		return err
	}

	event.ID = uuid.New()
	// Postgres stores timestamptz at microsecond precision. Hash what the
	// database will give back, or every re-read breaks the chain.
	event.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	event.PrevHash = prevHash
	event.Hash = ChainHash(event)

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events
		 (id, organization_id, actor_id, action, entity_type, entity_id, created_at, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.OrganizationID, event.ActorID,
		event.Action, event.EntityType, event.EntityID,
		event.CreatedAt, event.PrevHash, event.Hash,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// List returns the organization's events in chain order.
func (m AuditModel) List(ctx context.Context, orgID uuid.UUID) ([]*AuditEvent, error) {
	query := `SELECT id, organization_id, actor_id, action, entity_type, entity_id,
                     created_at, prev_hash, hash
                FROM audit_events
               WHERE organization_id = $1
               ORDER BY seq`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := m.DB.Pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		err := rows.Scan(
			&e.ID,
			&e.OrganizationID,
			&e.ActorID,
			&e.Action,
			&e.EntityType,
			&e.EntityID,
			&e.CreatedAt,
			&e.PrevHash,
			&e.Hash,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
