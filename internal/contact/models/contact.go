package models

import (
	"time"

	dErrors "identify/pkg/domain-errors"
)

// LinkPrecedence marks a contact as the anchor of its cluster or as a member.
type LinkPrecedence string

const (
	PrecedencePrimary   LinkPrecedence = "primary"
	PrecedenceSecondary LinkPrecedence = "secondary"
)

func (p LinkPrecedence) IsValid() bool {
	return p == PrecedencePrimary || p == PrecedenceSecondary
}

// Contact is one observation of an email and/or phone number.
//
// Invariants:
//   - at least one of Email/PhoneNumber is non-empty
//   - LinkedID is nil for primaries and points at a primary for secondaries
//   - clusters are flat: a secondary never links to another secondary
//   - ID and CreatedAt are assigned by the store and never change
type Contact struct {
	ID             int64
	Email          *string
	PhoneNumber    *string
	LinkPrecedence LinkPrecedence
	LinkedID       *int64
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == PrecedencePrimary
}

// EmailValue returns the email or "" when absent.
func (c *Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when absent.
func (c *Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// NewContact is the insert request handed to a store.
type NewContact struct {
	Email          string
	PhoneNumber    string
	LinkPrecedence LinkPrecedence
	LinkedID       *int64
}

// NewPrimary builds the insert for a brand-new cluster.
func NewPrimary(email, phone string) (NewContact, error) {
	nc := NewContact{Email: email, PhoneNumber: phone, LinkPrecedence: PrecedencePrimary}
	return nc, nc.Validate()
}

// NewSecondary builds the insert for new information attached to primaryID.
func NewSecondary(email, phone string, primaryID int64) (NewContact, error) {
	nc := NewContact{Email: email, PhoneNumber: phone, LinkPrecedence: PrecedenceSecondary, LinkedID: &primaryID}
	return nc, nc.Validate()
}

// Validate enforces the row invariants before anything reaches a store.
func (n NewContact) Validate() error {
	if n.Email == "" && n.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "contact requires an email or phone number")
	}
	switch n.LinkPrecedence {
	case PrecedencePrimary:
		if n.LinkedID != nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "primary contact cannot link to another contact")
		}
	case PrecedenceSecondary:
		if n.LinkedID == nil {
			return dErrors.New(dErrors.CodeInvariantViolation, "secondary contact must link to a primary")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown link precedence")
	}
	return nil
}

// OptionalString maps "" to nil for nullable columns.
func OptionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
