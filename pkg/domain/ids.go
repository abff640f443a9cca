// Package domain holds the typed identifiers shared by every bounded context.
//
// Organization and item IDs are opaque keys owned by the external inventory
// collaborator; alert IDs are minted here and are always UUIDs.
package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "stockwatch/pkg/domain-errors"
)

// maxKeyLength bounds opaque keys so they stay safe as log fields, SQL params and object key segments.
const maxKeyLength = 128

// OrganizationID identifies the tenant that owns inventory and alerts.
type OrganizationID string

// ItemID identifies one inventory item within an organization.
type ItemID string

// AlertID identifies one alert. Distinct alerts for the same dedup key have distinct IDs.
type AlertID uuid.UUID

func ParseOrganizationID(s string) (OrganizationID, error) {
	if err := validateKey(s, "organization ID"); err != nil {
		return "", err
	}
	return OrganizationID(s), nil
}

func ParseItemID(s string) (ItemID, error) {
	if err := validateKey(s, "item ID"); err != nil {
		return "", err
	}
	return ItemID(s), nil
}

// ParseAlertID parses a UUID string, rejecting the nil UUID.
func ParseAlertID(s string) (AlertID, error) {
	if s == "" {
		return AlertID{}, dErrors.New(dErrors.CodeInvalidInput, "alert ID required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return AlertID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid alert ID")
	}
	if u == uuid.Nil {
		return AlertID{}, dErrors.New(dErrors.CodeInvalidInput, "alert ID must not be nil")
	}
	return AlertID(u), nil
}

// NewAlertID mints a random alert ID.
func NewAlertID() AlertID {
	return AlertID(uuid.New())
}

func (id OrganizationID) String() string { return string(id) }
func (id OrganizationID) IsNil() bool    { return id == "" }

func (id ItemID) String() string { return string(id) }
func (id ItemID) IsNil() bool    { return id == "" }

func (id AlertID) String() string { return uuid.UUID(id).String() }
func (id AlertID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// MarshalText encodes the canonical UUID form so JSON carries a string.
func (id AlertID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *AlertID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = AlertID(u)
	return nil
}

func validateKey(s, what string) error {
	if strings.TrimSpace(s) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, what+" required")
	}
	if len(s) > maxKeyLength {
		return dErrors.New(dErrors.CodeInvalidInput, what+" too long")
	}
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, what+" must be valid UTF-8")
	}
	if strings.Contains(s, "/") || strings.Contains(s, "..") {
		return dErrors.New(dErrors.CodeInvalidInput, what+" must not contain path separators")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return dErrors.New(dErrors.CodeInvalidInput, what+" contains invalid characters")
		}
	}
	return nil
}
