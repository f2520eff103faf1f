package models

import "time"

// EventContactCreated is emitted once per inserted contact.
const EventContactCreated = "contact.created"

// ContactEvent is the payload published for downstream consumers.
type ContactEvent struct {
	Type           string         `json:"type"`
	ContactID      int64          `json:"contact_id"`
	PrimaryID      int64          `json:"primary_id"`
	LinkPrecedence LinkPrecedence `json:"link_precedence"`
	Email          *string        `json:"email,omitempty"`
	PhoneNumber    *string        `json:"phone_number,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	RequestID      string         `json:"request_id,omitempty"`
}

// NewContactCreatedEvent describes c as a contact.created event.
func NewContactCreatedEvent(c *Contact, requestID string) ContactEvent {
	primaryID := c.ID
	if c.LinkedID != nil {
		primaryID = *c.LinkedID
	}
	return ContactEvent{
		Type:           EventContactCreated,
		ContactID:      c.ID,
		PrimaryID:      primaryID,
		LinkPrecedence: c.LinkPrecedence,
		Email:          c.Email,
		PhoneNumber:    c.PhoneNumber,
		CreatedAt:      c.CreatedAt,
		RequestID:      requestID,
	}
}
