package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Store persists accounts together with their refresh token chains. Lookups
// return ErrAccountNotFound when nothing matches. Every mutation is applied
// in a single transaction. Save writes the account row only and
// SaveRefreshTokens writes the chain only, so a token operation never
// overwrites profile or credential changes made since the account was loaded.
type Store interface {
	List(ctx context.Context) ([]*Account, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByVerificationToken(ctx context.Context, token string) (*Account, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*Account, error)
	FindByRefreshToken(ctx context.Context, token string) (*Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, account *Account) error
	Save(ctx context.Context, account *Account) error
	SaveRefreshTokens(ctx context.Context, accountID int64, tokens []*RefreshToken) error
	Delete(ctx context.Context, id int64) error
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const accountColumns = `id, email, password_hash, title, first_name, last_name, role, created_at, updated_at,
		verified_at, verification_token, reset_token, reset_token_expires_at, password_reset_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		a                 Account
		role              string
		updatedAt         sql.NullTime
		verifiedAt        sql.NullTime
		verificationToken sql.NullString
		resetToken        sql.NullString
		resetExpires      sql.NullTime
		passwordResetAt   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Title, &a.FirstName, &a.LastName, &role, &a.CreatedAt,
		&updatedAt, &verifiedAt, &verificationToken, &resetToken, &resetExpires, &passwordResetAt)
	if err != nil {
		return nil, err
	}

	a.Role = Role(role)
	a.UpdatedAt = timePtr(updatedAt)
	a.VerifiedAt = timePtr(verifiedAt)
	a.VerificationToken = verificationToken.String
	a.ResetToken = resetToken.String
	a.ResetTokenExpires = timePtr(resetExpires)
	a.PasswordResetAt = timePtr(passwordResetAt)
	return &a, nil
}

func (r *Repository) List(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*Account, error) {
	return r.findOne(ctx, "by id", `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOne(ctx, "by email", `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *Repository) FindByVerificationToken(ctx context.Context, token string) (*Account, error) {
	return r.findOne(ctx, "by verification token",
		`SELECT `+accountColumns+` FROM accounts WHERE verification_token = $1`, token)
}

func (r *Repository) FindByResetToken(ctx context.Context, token string, now time.Time) (*Account, error) {
	return r.findOne(ctx, "by reset token",
		`SELECT `+accountColumns+` FROM accounts WHERE reset_token = $1 AND reset_token_expires_at > $2`,
		token, now.UTC())
}

func (r *Repository) FindByRefreshToken(ctx context.Context, token string) (*Account, error) {
	return r.findOne(ctx, "by refresh token", `SELECT `+accountColumns+` FROM accounts
		WHERE id = (SELECT account_id FROM refresh_tokens WHERE token_hash = $1)`, HashToken(token))
}

func (r *Repository) findOne(ctx context.Context, what, query string, args ...any) (*Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("query account %s: %w", what, err)
	}

	tokens, err := r.refreshTokens(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.RefreshTokens = tokens
	return a, nil
}

func (r *Repository) refreshTokens(ctx context.Context, accountID int64) ([]*RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token_hash, created_at, expires_at, revoked_at, replaced_by_token
		FROM refresh_tokens
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*RefreshToken, 0)
	for rows.Next() {
		var (
			t          RefreshToken
			revokedAt  sql.NullTime
			replacedBy sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &revokedAt, &replacedBy); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		t.RevokedAt = timePtr(revokedAt)
		t.ReplacedByToken = replacedBy.String
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}

	return tokens, nil
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

func (r *Repository) Create(ctx context.Context, a *Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create account tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash, title, first_name, last_name, role, created_at, updated_at,
			verified_at, verification_token, reset_token, reset_token_expires_at, password_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, a.Email, a.PasswordHash, a.Title, a.FirstName, a.LastName, string(a.Role), a.CreatedAt.UTC(),
		nullTime(a.UpdatedAt), nullTime(a.VerifiedAt), nullString(a.VerificationToken), nullString(a.ResetToken),
		nullTime(a.ResetTokenExpires), nullTime(a.PasswordResetAt)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}

	ids, err := insertRefreshTokens(ctx, tx, id, a.RefreshTokens)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create account tx: %w", err)
	}

	a.ID = id
	assignTokenIDs(a.RefreshTokens, ids)
	return nil
}

// Save writes the account row. The refresh token chain is left alone.
func (r *Repository) Save(ctx context.Context, a *Account) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET email = $2, password_hash = $3, title = $4, first_name = $5, last_name = $6, role = $7,
			updated_at = $8, verified_at = $9, verification_token = $10, reset_token = $11,
			reset_token_expires_at = $12, password_reset_at = $13
		WHERE id = $1
	`, a.ID, a.Email, a.PasswordHash, a.Title, a.FirstName, a.LastName, string(a.Role),
		nullTime(a.UpdatedAt), nullTime(a.VerifiedAt), nullString(a.VerificationToken), nullString(a.ResetToken),
		nullTime(a.ResetTokenExpires), nullTime(a.PasswordResetAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// SaveRefreshTokens revokes the given tokens changed since load and inserts
// the ones without an id, without touching the account row. A token revoked
// by another writer in the meantime aborts the whole write with
// ErrConcurrentUpdate.
func (r *Repository) SaveRefreshTokens(ctx context.Context, accountID int64, tokens []*RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save refresh tokens tx: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tokens {
		if t.ID == 0 || !t.dirty {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $3, replaced_by_token = $4
			WHERE id = $1 AND account_id = $2 AND revoked_at IS NULL
		`, t.ID, accountID, nullTime(t.RevokedAt), nullString(t.ReplacedByToken))
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("revoke refresh token rows affected: %w", err)
		}
		if affected == 0 {
			return ErrConcurrentUpdate
		}
	}

	ids, err := insertRefreshTokens(ctx, tx, accountID, tokens)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save refresh tokens tx: %w", err)
	}

	assignTokenIDs(tokens, ids)
	return nil
}

// insertRefreshTokens inserts the tokens that have no id yet and returns the
// generated ids in order. Ids are assigned by the caller after commit.
func insertRefreshTokens(ctx context.Context, tx *sql.Tx, accountID int64, tokens []*RefreshToken) ([]int64, error) {
	var ids []int64
	for _, t := range tokens {
		if t.ID != 0 {
			continue
		}
		var id int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO refresh_tokens (account_id, token_hash, created_at, expires_at, revoked_at, replaced_by_token)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, accountID, t.TokenHash, t.CreatedAt.UTC(), t.ExpiresAt.UTC(), nullTime(t.RevokedAt),
			nullString(t.ReplacedByToken)).Scan(&id)
		if err != nil {
			if pgErrorCode(err) == foreignKeyViolation {
				return nil, ErrAccountNotFound
			}
			return nil, fmt.Errorf("insert refresh token: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func assignTokenIDs(tokens []*RefreshToken, ids []int64) {
	i := 0
	for _, t := range tokens {
		if t.ID == 0 && i < len(ids) {
			t.ID = ids[i]
			i++
		}
		t.dirty = false
	}
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

func (r *Repository) ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET reset_token = NULL, reset_token_expires_at = NULL
		WHERE reset_token IS NOT NULL AND reset_token_expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("clear expired reset tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired reset tokens rows affected: %w", err)
	}

	return affected, nil
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == uniqueViolation
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
