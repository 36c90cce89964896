package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/sentinel"
)

// UserPostgresStore persists signed-in users' consent in PostgreSQL.
type UserPostgresStore struct {
	db *sql.DB
	tx *sql.Tx
}

// NewUserPostgres constructs a PostgreSQL-backed user consent store.
func NewUserPostgres(db *sql.DB) *UserPostgresStore {
	return &UserPostgresStore{db: db}
}

// NewUserPostgresTx constructs a store bound to a transaction.
func NewUserPostgresTx(tx *sql.Tx) *UserPostgresStore {
	return &UserPostgresStore{tx: tx}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *UserPostgresStore) execer() dbExecutor {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Upsert replaces the user's record. The row is keyed by user id; the last
// write wins.
func (s *UserPostgresStore) Upsert(ctx context.Context, consent *models.UserConsent) error {
	if consent == nil {
		return fmt.Errorf("user consent is required")
	}
	categories, err := json.Marshal(consent.Record.Categories)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	query := `
		INSERT INTO user_consents (user_id, email, categories, consented_at, version, origin, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email,
			categories = EXCLUDED.categories,
			consented_at = EXCLUDED.consented_at,
			version = EXCLUDED.version,
			origin = EXCLUDED.origin,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.execer().ExecContext(ctx, query,
		consent.UserID,
		consent.Email,
		categories,
		consent.Record.Timestamp,
		string(consent.Record.Version),
		string(consent.Record.Origin),
		consent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert user consent: %w", err)
	}
	return nil
}

func (s *UserPostgresStore) Get(ctx context.Context, userID string) (*models.UserConsent, error) {
	query := `
		SELECT user_id, email, categories, consented_at, version, origin, updated_at
		FROM user_consents
		WHERE user_id = $1
	`
	consent, err := scanUserConsent(s.execer().QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user consent: %w", err)
	}
	return consent, nil
}

func (s *UserPostgresStore) Delete(ctx context.Context, userID string) error {
	res, err := s.execer().ExecContext(ctx, `DELETE FROM user_consents WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user consent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user consent rows: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// DeleteStale removes rows consented at or before cutoff, or written under a
// version other than current. It returns the number of rows removed.
func (s *UserPostgresStore) DeleteStale(ctx context.Context, cutoff time.Time, current models.Version) (int, error) {
	res, err := s.execer().ExecContext(ctx,
		`DELETE FROM user_consents WHERE consented_at <= $1 OR version <> $2`,
		cutoff, string(current),
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale user consents: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale user consents rows: %w", err)
	}
	return int(rows), nil
}

type userConsentRow interface {
	Scan(dest ...any) error
}

func scanUserConsent(row userConsentRow) (*models.UserConsent, error) {
	var consent models.UserConsent
	var categories []byte
	var version, origin string
	if err := row.Scan(
		&consent.UserID,
		&consent.Email,
		&categories,
		&consent.Record.Timestamp,
		&version,
		&origin,
		&consent.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(categories, &consent.Record.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	consent.Record.Timestamp = consent.Record.Timestamp.UTC()
	consent.Record.Version = models.Version(version)
	consent.Record.Origin = models.Origin(origin)
	consent.UpdatedAt = consent.UpdatedAt.UTC()
	return &consent, nil
}
