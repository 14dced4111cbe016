package identity

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/validator"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Directory is a Postgres-backed identity provider. Emails are unique
// case-insensitively through the email_normalized column.
type Directory struct {
	db         *sqlx.DB
	validator  *validator.Validator
	bcryptCost int
	now        func() time.Time
}

func NewDirectory(db *sqlx.DB, v *validator.Validator) *Directory {
	if v == nil {
		v = validator.New()
	}
	return &Directory{
		db:         db,
		validator:  v,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateAccount hashes the password and inserts the identity.
func (d *Directory) CreateAccount(ctx context.Context, acct Account) (string, error) {
	if err := d.validator.Validate(acct); err != nil {
		return "", invalid("account rejected", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(acct.Password), d.bcryptCost)
	if err != nil {
		return "", invalid("password cannot be hashed", err)
	}

	id := uuid.New()
	query := `
		INSERT INTO identities (
			id, email, email_normalized, password_hash,
			first_name, last_name, user_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = d.db.ExecContext(ctx, query,
		id, strings.TrimSpace(acct.Email), normalizeEmail(acct.Email), string(passwordHash),
		acct.FirstName, acct.LastName, acct.UserType, d.now().UTC(),
	)
	if err != nil {
		return "", classifyDBError("create identity", err)
	}

	return id.String(), nil
}

// CheckAvailability reports whether no identity uses the email yet.
func (d *Directory) CheckAvailability(ctx context.Context, email string) (bool, error) {
	if err := d.validator.Var(email, "required,email"); err != nil {
		return false, invalid("email is not valid", err)
	}

	var exists bool
	err := d.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM identities WHERE email_normalized = $1)`,
		normalizeEmail(email))
	if err != nil {
		return false, classifyDBError("check availability", err)
	}
	return !exists, nil
}

// FindByEmail loads an identity without its password hash.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	var ident Identity
	err := d.db.GetContext(ctx, &ident, `
		SELECT id, email, first_name, last_name, user_type, created_at
		FROM identities WHERE email_normalized = $1`, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrIdentityNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find identity")
	}
	return &ident, nil
}

// FindUnprofiled lists identities older than olderThan that never got a
// profile row, oldest first. Only identities held by this directory are
// covered; provider-held identities are not visible here.
func (d *Directory) FindUnprofiled(ctx context.Context, olderThan time.Duration, limit int) ([]*Identity, error) {
	var out []*Identity
	err := d.db.SelectContext(ctx, &out, `
		SELECT i.id, i.email, i.first_name, i.last_name, i.user_type, i.created_at
		FROM identities i
		LEFT JOIN profiles p ON p.identity_id = i.id::text
		WHERE p.id IS NULL AND i.created_at < $1
		ORDER BY i.created_at
		LIMIT $2`, d.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list unprofiled identities")
	}
	return out, nil
}

// classifyDBError maps driver failures onto provider error kinds.
func classifyDBError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return duplicate("email already registered", err)
		case pqErr.Code.Class() == "23", pqErr.Code.Class() == "22":
			return invalid(op+" rejected by store", err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53",
			pqErr.Code == "57P01", pqErr.Code == "40001", pqErr.Code == "40P01":
			return transient(op+" interrupted", err)
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return transient(op+" interrupted", err)
	}

	// Anything else is reported as an outage. A retry cannot create a second
	// identity because email_normalized is unique.
	return transient(op+" failed", err)
}
