package models

import "time"

// Credential is the decoded access credential of the signed-in identity.
type Credential struct {
	AccessToken string
	IdentityID  string
	// Zero when the token carries no readable expiry.
	ExpiresAt time.Time
}
