package domain

import "time"

// UserTier enumerates billing tiers.
type UserTier string

const (
	UserTierFree    UserTier = "free"
	UserTierPro     UserTier = "pro"
	UserTierPremium UserTier = "premium"
)

// DefaultCredits is granted when an account is first initialized.
const DefaultCredits = 10

// User represents an account within the platform. Authentication happens
// upstream; only the credit/tier bookkeeping lives here.
type User struct {
	ID        string
	Name      string
	Picture   string
	Credits   int
	Tier      UserTier
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsFree reports whether the user is on the free tier.
func (u User) IsFree() bool {
	return u.Tier == UserTierFree || u.Tier == ""
}
