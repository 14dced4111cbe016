package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB stores a value as a JSON column.
type JSONB[T any] struct {
	V T
}

func (j JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(j.V)
}

func (j *JSONB[T]) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		return nil
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, &j.V)
}

func (j JSONB[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.V)
}

func (j *JSONB[T]) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &j.V)
}

// Profile is the stored profile row. The password never reaches it:
// PersonalDetails.Password is excluded from JSON.
type Profile struct {
	ID           uuid.UUID              `json:"id" db:"id"`
	IdentityID   string                 `json:"identity_id" db:"identity_id"`
	UserType     UserType               `json:"user_type" db:"user_type"`
	Email        string                 `json:"email" db:"email"`
	Phone        string                 `json:"phone" db:"phone"`
	DisplayName  string                 `json:"display_name" db:"display_name"`
	Details      JSONB[PersonalDetails] `json:"details" db:"details"`
	Verification JSONB[Verification]    `json:"verification" db:"verification"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}

// DisplayNameFor picks the human-facing name for a profile.
func DisplayNameFor(p PersonalDetails) string {
	if p.Commercial != nil {
		return p.Commercial.OrganizationName
	}
	first, last := p.AccountHolder()
	if last == "" {
		return first
	}
	return first + " " + last
}
