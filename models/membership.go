package models

import "time"

type MembershipStatus string

const (
	MembershipStatusFree    MembershipStatus = "free"
	MembershipStatusPaid    MembershipStatus = "paid"
	MembershipStatusExpired MembershipStatus = "expired"
)

// MembershipDuration is how long one successful payment keeps a
// membership paid. A renewal replaces expires_at, it does not stack.
const MembershipDuration = 30 * 24 * time.Hour

type Membership struct {
	ID               int              `json:"id"`
	UserID           string           `json:"user_id"`
	Status           MembershipStatus `json:"status"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	Amount           int64            `json:"amount"`
	Currency         string           `json:"currency"`
	PaymentMethod    string           `json:"payment_method"`
	PaidAt           *time.Time       `json:"paid_at,omitempty"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
