package reminder

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Draft is the user-editable part of a reminder, as submitted on create
// or produced by merging a Patch onto a stored reminder.
type Draft struct {
	OwnerID      string    `json:"ownerId" validate:"required"`
	Title        string    `json:"title" validate:"required,max=200"`
	Body         string    `json:"body" validate:"required,max=5000"`
	DueAt        time.Time `json:"dueAt" validate:"required"`
	Channel      Channel   `json:"channel" validate:"omitempty,oneof=none sms email both browser"`
	PhoneNumber  string    `json:"phoneNumber" validate:"omitempty,e164"`
	EmailAddress string    `json:"emailAddress" validate:"omitempty,email"`
}

// Patch carries optional edits; nil fields are left unchanged.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Body         *string    `json:"body,omitempty"`
	DueAt        *time.Time `json:"dueAt,omitempty"`
	Channel      *Channel   `json:"channel,omitempty"`
	PhoneNumber  *string    `json:"phoneNumber,omitempty"`
	EmailAddress *string    `json:"emailAddress,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Body == nil && p.DueAt == nil &&
		p.Channel == nil && p.PhoneNumber == nil && p.EmailAddress == nil
}

// DraftOf returns the editable fields of r.
func DraftOf(r *Reminder) Draft {
	return Draft{
		OwnerID:      r.OwnerID,
		Title:        r.Title,
		Body:         r.Body,
		DueAt:        r.DueAt,
		Channel:      r.Channel,
		PhoneNumber:  r.PhoneNumber,
		EmailAddress: r.EmailAddress,
	}
}

// Merge applies p on top of d.
func (d Draft) Merge(p Patch) Draft {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Body != nil {
		d.Body = *p.Body
	}
	if p.DueAt != nil {
		d.DueAt = *p.DueAt
	}
	if p.Channel != nil {
		d.Channel = *p.Channel
	}
	if p.PhoneNumber != nil {
		d.PhoneNumber = *p.PhoneNumber
	}
	if p.EmailAddress != nil {
		d.EmailAddress = *p.EmailAddress
	}
	return d
}

// Normalize trims text fields, stores the due time in UTC and picks a
// default channel from the contact details when none was chosen.
func (d Draft) Normalize() Draft {
	d.OwnerID = strings.TrimSpace(d.OwnerID)
	d.Title = strings.TrimSpace(d.Title)
	d.Body = strings.TrimSpace(d.Body)
	d.PhoneNumber = strings.TrimSpace(d.PhoneNumber)
	d.EmailAddress = strings.TrimSpace(d.EmailAddress)
	d.DueAt = d.DueAt.UTC()

	if d.Channel == "" {
		switch {
		case d.PhoneNumber != "":
			d.Channel = ChannelSMS
		case d.EmailAddress != "":
			d.Channel = ChannelEmail
		default:
			d.Channel = ChannelNone
		}
	}
	return d
}

// Validate checks required fields, formats and the per-channel contact
// requirement. It returns a *ValidationError for the first problem.
func (d Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return &ValidationError{Message: err.Error()}
	}

	if d.Channel.IncludesSMS() && d.PhoneNumber == "" {
		return &ValidationError{Field: "phoneNumber", Message: "phone number is required for SMS notifications"}
	}
	if d.Channel.IncludesEmail() && d.EmailAddress == "" {
		return &ValidationError{Field: "emailAddress", Message: "email address is required for email notifications"}
	}
	return nil
}

func fieldError(fe validator.FieldError) *ValidationError {
	field := jsonName(fe.StructField())

	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: field, Message: "is required"}
	case "max":
		return &ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
	case "oneof":
		return &ValidationError{Field: field, Message: "must be one of: " + fe.Param()}
	case "e164":
		return &ValidationError{Field: field, Message: "must be an E.164 phone number such as +15551234567"}
	case "email":
		return &ValidationError{Field: field, Message: "must be a valid email address"}
	}
	return &ValidationError{Field: field, Message: "failed " + fe.Tag() + " check"}
}

func jsonName(structField string) string {
	switch structField {
	case "OwnerID":
		return "ownerId"
	case "DueAt":
		return "dueAt"
	case "PhoneNumber":
		return "phoneNumber"
	case "EmailAddress":
		return "emailAddress"
	}
	return strings.ToLower(structField[:1]) + structField[1:]
}
