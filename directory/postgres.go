package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikey73/onecareer/apierr"
)

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository opens a pool and pings the database.
func NewPostgresRepository(ctx context.Context, dbURL string) (*PostgresRepository, error) {
	const op = "directory.postgres.New"

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w: %w", op, apierr.ErrStoreUnavailable, err)
	}

	return &PostgresRepository{db: db}, nil
}

// Close closes the pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

const accountColumns = `id, client_id, email, fullname, password_hash, role, is_active, is_verified, created_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var acc Account
	var role string
	err := row.Scan(
		&acc.ID,
		&acc.ClientID,
		&acc.Email,
		&acc.FullName,
		&acc.PasswordHash,
		&role,
		&acc.Active,
		&acc.Verified,
		&acc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Role = Role(role)
	return &acc, nil
}

func (r *PostgresRepository) AccountByEmail(ctx context.Context, email, clientID string) (*Account, error) {
	const op = "directory.postgres.AccountByEmail"

	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE client_id = $1 AND email = $2`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, clientID, email))
	if err != nil {
		return nil, wrapQueryErr(op, err)
	}
	return acc, nil
}

func (r *PostgresRepository) AccountByID(ctx context.Context, id int64) (*Account, error) {
	const op = "directory.postgres.AccountByID"

	query := `SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`

	acc, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrapQueryErr(op, err)
	}
	return acc, nil
}

// CreateAccount inserts acc and fills in its generated id and creation time.
func (r *PostgresRepository) CreateAccount(ctx context.Context, acc *Account) error {
	const op = "directory.postgres.CreateAccount"

	query := `
		INSERT INTO accounts(client_id, email, fullname, password_hash, role, is_active, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		acc.ClientID,
		acc.Email,
		acc.FullName,
		acc.PasswordHash,
		string(acc.Role),
		acc.Active,
		acc.Verified,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, apierr.ErrEmailExists)
		}
		return wrapQueryErr(op, err)
	}
	return nil
}

func (r *PostgresRepository) SetVerified(ctx context.Context, id int64, verified bool) error {
	const op = "directory.postgres.SetVerified"

	tag, err := r.db.Exec(ctx, `UPDATE accounts SET is_verified = $2 WHERE id = $1`, id, verified)
	if err != nil {
		return wrapQueryErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	const op = "directory.postgres.SetPassword"

	query := `
		UPDATE accounts
		SET password_hash = $2, is_verified = TRUE
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, hash)
	if err != nil {
		return wrapQueryErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// wrapQueryErr maps missing rows to ErrNotFound. Context errors pass through;
// everything else is reported as a store failure.
func wrapQueryErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, apierr.ErrStoreUnavailable, err)
	}
}
