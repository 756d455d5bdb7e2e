package model

import "time"

// Plan types.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// User represents an account. Profiles and plans hang off the id.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the public part of a user shown next to team content.
type Profile struct {
	UserID    string `json:"user_id"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// UserPlan is the billing state of a user.
type UserPlan struct {
	UserID               string     `json:"user_id"`
	PlanType             string     `json:"plan_type"`
	Status               string     `json:"status"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// NormalizePlan folds unknown plan names into free.
func NormalizePlan(plan string) string {
	if plan == PlanPro {
		return PlanPro
	}
	return PlanFree
}
