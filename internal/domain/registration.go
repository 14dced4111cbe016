// Package domain defines the core registration entities for the flight-school portal.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==============================================================================
// ENUMS
// ==============================================================================

// UserType gates which personal-details variant a draft must carry.
type UserType string

const (
	UserTypePrivate    UserType = "private"
	UserTypeCommercial UserType = "commercial"
)

func (t UserType) Valid() bool {
	return t == UserTypePrivate || t == UserTypeCommercial
}

// IDDocumentType is the kind of identity document described in the verification step.
type IDDocumentType string

const (
	IDDocumentPassport       IDDocumentType = "passport"
	IDDocumentNationalID     IDDocumentType = "national_id"
	IDDocumentDriversLicense IDDocumentType = "drivers_license"
	IDDocumentPilotLicense   IDDocumentType = "pilot_license"
)

// VerificationChannel is how the school contacts the applicant to verify identity.
type VerificationChannel string

const (
	ChannelEmail     VerificationChannel = "email"
	ChannelSMS       VerificationChannel = "sms"
	ChannelPhoneCall VerificationChannel = "phone_call"
)

// ==============================================================================
// STEP PAYLOADS
// ==============================================================================

type Address struct {
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso_country"`
}

type EmergencyContact struct {
	Name         string `json:"name" validate:"required,max=200"`
	Relationship string `json:"relationship" validate:"required,max=50"`
	Phone        string `json:"phone" validate:"required,phone"`
}

// PrivateDetails describes an individual student.
type PrivateDetails struct {
	FirstName        string           `json:"first_name" validate:"required,max=100"`
	LastName         string           `json:"last_name" validate:"required,max=100"`
	DateOfBirth      time.Time        `json:"date_of_birth" validate:"required,past"`
	Nationality      string           `json:"nationality" validate:"required,iso_country"`
	Address          Address          `json:"address"`
	PriorFlightHours decimal.Decimal  `json:"prior_flight_hours" validate:"gte=0"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

type PrimaryContact struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Role      string `json:"role" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,phone"`
}

// CommercialDetails describes an operator or company training its crews.
type CommercialDetails struct {
	OrganizationName    string         `json:"organization_name" validate:"required,max=200"`
	RegistrationNumber  string         `json:"registration_number" validate:"required,max=50"`
	TaxID               string         `json:"tax_id" validate:"required,max=50"`
	OperatorCertificate string         `json:"operator_certificate,omitempty" validate:"max=50"`
	Address             Address        `json:"address"`
	PrimaryContact      PrimaryContact `json:"primary_contact"`
}

// PersonalDetails is step 2. Exactly one of Private or Commercial is set,
// matching the draft's user type.
type PersonalDetails struct {
	Email      string             `json:"email" validate:"required,email,max=254"`
	Password   string             `json:"-" validate:"required,min=8,max=128"`
	Phone      string             `json:"phone" validate:"required,phone"`
	Private    *PrivateDetails    `json:"private,omitempty"`
	Commercial *CommercialDetails `json:"commercial,omitempty"`
}

// AccountHolder returns the name the identity is created under.
func (p PersonalDetails) AccountHolder() (firstName, lastName string) {
	switch {
	case p.Private != nil:
		return p.Private.FirstName, p.Private.LastName
	case p.Commercial != nil:
		return p.Commercial.PrimaryContact.FirstName, p.Commercial.PrimaryContact.LastName
	}
	return "", ""
}

// Clone deep-copies the details so callers cannot alias the draft.
func (p PersonalDetails) Clone() PersonalDetails {
	out := p
	if p.Private != nil {
		priv := *p.Private
		out.Private = &priv
	}
	if p.Commercial != nil {
		com := *p.Commercial
		out.Commercial = &com
	}
	return out
}

type Consent struct {
	Terms           bool `json:"terms" validate:"eq=true"`
	Privacy         bool `json:"privacy" validate:"eq=true"`
	BackgroundCheck bool `json:"background_check"`
	Marketing       bool `json:"marketing"`
}

// Verification is step 3.
type Verification struct {
	DocumentType     IDDocumentType      `json:"document_type" validate:"required,oneof=passport national_id drivers_license pilot_license"`
	DocumentNumber   string              `json:"document_number" validate:"required,max=50"`
	IssuingCountry   string              `json:"issuing_country" validate:"required,iso_country"`
	ExpiresOn        time.Time           `json:"expires_on" validate:"required,future"`
	PreferredChannel VerificationChannel `json:"preferred_channel" validate:"required,oneof=email sms phone_call"`
	Consent          Consent             `json:"consent"`
}

// Document is a file collected in step 4, held in memory until upload.
type Document struct {
	Key         string `json:"key" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=255"`
	MimeType    string `json:"mime_type" validate:"required"`
	Bytes       []byte `json:"-" validate:"required,min=1"`
}

// Clone copies the document bytes.
func (d Document) Clone() Document {
	out := d
	out.Bytes = append([]byte(nil), d.Bytes...)
	return out
}

// ==============================================================================
// STORAGE
// ==============================================================================

// DocumentHandle is the store's reference to one uploaded document.
type DocumentHandle struct {
	Key         string    `json:"key" db:"document_key"`
	Location    string    `json:"location" db:"location"`
	SHA256      string    `json:"sha256" db:"sha256"`
	Size        int64     `json:"size" db:"size_bytes"`
	ContentType string    `json:"content_type" db:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// CopyHandles returns a shallow copy of a handle map (handles are values).
func CopyHandles(in map[string]DocumentHandle) map[string]DocumentHandle {
	out := make(map[string]DocumentHandle, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
