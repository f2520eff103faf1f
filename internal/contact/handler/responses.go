package handler

import "identify/internal/contact/models"

// IdentifyResponse wraps the identity view as the service has always
// returned it.
type IdentifyResponse struct {
	Contact ContactView `json:"contact"`
}

type ContactView struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// FromView converts a view, rendering missing lists as [].
func FromView(v *models.IdentityView) IdentifyResponse {
	resp := IdentifyResponse{Contact: ContactView{
		PrimaryContactID:    v.PrimaryContactID,
		Emails:              v.Emails,
		PhoneNumbers:        v.PhoneNumbers,
		SecondaryContactIDs: v.SecondaryContactIDs,
	}}
	if resp.Contact.Emails == nil {
		resp.Contact.Emails = []string{}
	}
	if resp.Contact.PhoneNumbers == nil {
		resp.Contact.PhoneNumbers = []string{}
	}
	if resp.Contact.SecondaryContactIDs == nil {
		resp.Contact.SecondaryContactIDs = []int64{}
	}
	return resp
}
