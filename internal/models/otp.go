package models

import "time"

// OTPRecord is a one-time code issued for a password reset. Records are
// flipped to Verified on use and removed after a successful reset.
type OTPRecord struct {
	ID          string
	UserID      string
	PhoneNumber string
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Verified    bool
}

// Active reports whether the record can still be redeemed at now.
func (o *OTPRecord) Active(now time.Time) bool {
	return !o.Verified && !now.After(o.ExpiresAt)
}
