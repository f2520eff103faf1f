package models

// IdentityView is the externally visible summary of one cluster.
// The primaryContatctId spelling is part of the published contract.
type IdentityView struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// Outcome describes what a resolve call did.
type Outcome string

const (
	OutcomeCacheHit     Outcome = "cache_hit"
	OutcomeNewPrimary   Outcome = "new_primary"
	OutcomeNewSecondary Outcome = "new_secondary"
	OutcomeUnchanged    Outcome = "unchanged"
)
