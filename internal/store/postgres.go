package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn against a store bound to one transaction. Nested calls reuse
// the outer transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Queries) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const userColumns = `id, email, password_hash, first_name, last_name, role, department,
	email_verified, verification_code_hash, verification_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var expires sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.Department,
		&user.EmailVerified,
		&user.VerificationCodeHash,
		&expires,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if expires.Valid {
		user.VerificationExpiresAt = expires.Time
	}
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING `+userColumns, email, passwordHash))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, notFound("get user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
	if err != nil {
		return User{}, notFound("get user by email", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID string, profile Profile) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users
		SET first_name=$2, last_name=$3, role=$4, department=$5, updated_at=clock_timestamp()
		WHERE id=$1
		RETURNING `+userColumns,
		userID, profile.FirstName, profile.LastName, profile.Role, profile.Department,
	))
	if err != nil {
		return User{}, notFound("update profile", err)
	}
	return user, nil
}

func (s *PostgresStore) SetVerificationCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET verification_code_hash=$2, verification_expires_at=$3, updated_at=clock_timestamp()
		WHERE id=$1
	`, userID, codeHash, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification code: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("set verification code: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users
		SET email_verified=TRUE, verification_code_hash='', verification_expires_at=NULL, updated_at=clock_timestamp()
		WHERE id=$1
		RETURNING `+userColumns, userID))
	if err != nil {
		return User{}, notFound("mark email verified", err)
	}
	return user, nil
}

func (s *PostgresStore) SearchAdvisers(ctx context.Context, query, department string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = 'adviser'
		  AND (first_name ILIKE $1 OR last_name ILIKE $1)
		  AND ($2 = '' OR LOWER(department) = LOWER($2))
		ORDER BY last_name ASC, first_name ASC
		LIMIT $3
	`, pattern, strings.TrimSpace(department), limit)
	if err != nil {
		return nil, fmt.Errorf("search advisers: %w", err)
	}
	return collectUsers(rows)
}

func (s *PostgresStore) ListAdvisers(ctx context.Context) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE role = 'adviser' ORDER BY last_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list advisers: %w", err)
	}
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()
	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	return items, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role, u.department, u.created_at, u.updated_at
		FROM refresh_sessions r
		JOIN users u ON u.id = r.user_id
		WHERE r.token_hash=$1 AND r.revoked_at IS NULL AND r.expires_at > NOW()
	`, tokenHash))
	if err != nil {
		return User{}, notFound("lookup refresh session", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1 AND revoked_at IS NULL`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func notFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

var _ Store = (*PostgresStore)(nil)
