package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	dErrors "identify/pkg/domain-errors"
)

const maxIdentifierLength = 255

// Identifier decodes a JSON string, number or null. Numbers keep their
// literal decimal form so 123456 and "123456" resolve to the same contact.
type Identifier string

func (id *Identifier) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Identifier(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = Identifier(n.String())
	return nil
}

// IdentifyRequest is the HTTP request body for POST /identify.
type IdentifyRequest struct {
	Email       Identifier `json:"email"`
	PhoneNumber Identifier `json:"phoneNumber"`
}

// Validate trims surrounding whitespace and requires at least one identifier.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *IdentifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = Identifier(strings.TrimSpace(string(r.Email)))
	r.PhoneNumber = Identifier(strings.TrimSpace(string(r.PhoneNumber)))

	if len(r.Email) > maxIdentifierLength {
		return dErrors.New(dErrors.CodeValidation, "email must be at most 255 characters")
	}
	if len(r.PhoneNumber) > maxIdentifierLength {
		return dErrors.New(dErrors.CodeValidation, "phoneNumber must be at most 255 characters")
	}
	if r.Email == "" && r.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "at least email or phoneNumber is required")
	}
	return nil
}
