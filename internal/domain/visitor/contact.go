package visitor

import (
	"github.com/mahakalaqua/visitor-tracker/internal/domain/errors"
	"github.com/mahakalaqua/visitor-tracker/internal/domain/values"
)

// ContactData is a visitor-submitted contact record. Phone is required;
// name and email are optional but validated when present. Immutable once
// submitted.
type ContactData struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// NewContactData validates and normalizes user form input. Field-level
// failures are collected on a single validation error so the form can
// surface them inline.
func NewContactData(phone, name, email string) (ContactData, error) {
	appErr := errors.NewValidationError("INVALID_CONTACT", "contact details failed validation")

	normalizedPhone := ""
	if phone == "" {
		appErr.WithField("phoneNumber", "phone number is required")
	} else if p, err := values.NewPhoneNumber(phone); err != nil {
		appErr.WithField("phoneNumber", err.Error())
	} else {
		normalizedPhone = p.E164()
	}

	if name != "" && len(name) < 2 {
		appErr.WithField("name", "name must be at least 2 characters")
	}

	normalizedEmail := ""
	if email != "" {
		e, err := values.NewEmail(email)
		if err != nil {
			appErr.WithField("email", err.Error())
		} else {
			normalizedEmail = e.String()
		}
	}

	if len(appErr.Fields) > 0 {
		return ContactData{}, appErr
	}

	return ContactData{
		PhoneNumber: normalizedPhone,
		Name:        name,
		Email:       normalizedEmail,
	}, nil
}
