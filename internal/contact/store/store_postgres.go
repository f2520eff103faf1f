package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"identify/internal/contact/models"
	"identify/pkg/platform/tx"
)

const contactColumns = `id, email, phone_number, link_precedence, linked_id, created_at, deleted_at`

// PostgresStore persists contacts in PostgreSQL. Calls run on the
// transaction carried by the context when there is one.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed contact store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindMatching(ctx context.Context, email, phone string) ([]*models.Contact, error) {
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (($1::text <> '' AND email = $1::text) OR ($2::text <> '' AND phone_number = $2::text))
		ORDER BY created_at ASC, id ASC
	`
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, email, phone)
	if err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}
	contacts, err := scanContacts(rows)
	if err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}
	return contacts, nil
}

func (s *PostgresStore) FindCluster(ctx context.Context, primaryID int64, candidates []int64) ([]*models.Contact, error) {
	if candidates == nil {
		candidates = []int64{}
	}
	query := `
		SELECT ` + contactColumns + `
		FROM contacts
		WHERE deleted_at IS NULL
		  AND (id = $1 OR linked_id = $1 OR id = ANY($2::bigint[]))
		ORDER BY created_at ASC, id ASC
	`
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, primaryID, pq.Array(candidates))
	if err != nil {
		return nil, fmt.Errorf("find contact cluster: %w", err)
	}
	contacts, err := scanContacts(rows)
	if err != nil {
		return nil, fmt.Errorf("find contact cluster: %w", err)
	}
	return contacts, nil
}

func (s *PostgresStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	if err := nc.Validate(); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO contacts (email, phone_number, link_precedence, linked_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	c := &models.Contact{
		Email:          models.OptionalString(nc.Email),
		PhoneNumber:    models.OptionalString(nc.PhoneNumber),
		LinkPrecedence: nc.LinkPrecedence,
		LinkedID:       nc.LinkedID,
	}
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, query,
		nullString(nc.Email),
		nullString(nc.PhoneNumber),
		string(nc.LinkPrecedence),
		nullInt64(nc.LinkedID),
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", classifyWriteError(err))
	}
	return c, nil
}

func scanContacts(rows *sql.Rows) ([]*models.Contact, error) {
	defer rows.Close()
	var contacts []*models.Contact
	for rows.Next() {
		var (
			c          models.Contact
			email      sql.NullString
			phone      sql.NullString
			precedence string
			linkedID   sql.NullInt64
			deletedAt  sql.NullTime
		)
		if err := rows.Scan(&c.ID, &email, &phone, &precedence, &linkedID, &c.CreatedAt, &deletedAt); err != nil {
			return nil, err
		}
		c.LinkPrecedence = models.LinkPrecedence(precedence)
		if email.Valid {
			c.Email = &email.String
		}
		if phone.Valid {
			c.PhoneNumber = &phone.String
		}
		if linkedID.Valid {
			c.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

// SQLSTATE codes the contact schema can raise on insert.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// classifyWriteError maps constraint violations onto store sentinels.
func classifyWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// SoftDelete marks a contact deleted as of at. No request path calls it; it
// seeds deleted rows for store and resolver tests.
func (s *PostgresStore) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE contacts SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete contact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("soft delete contact %d: %w", id, ErrNotFound)
	}
	return nil
}
