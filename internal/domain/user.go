package domain

// UserRole enumerates supported roles.
type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleStaff UserRole = "staff"
	UserRoleAdmin UserRole = "admin"
)

// IsPrivileged reports whether the role bypasses credit and pause checks.
func (r UserRole) IsPrivileged() bool {
	return r == UserRoleAdmin || r == UserRoleStaff
}

// UserPlan enumerates billing plans.
type UserPlan string

const (
	UserPlanFree UserPlan = "free"
	UserPlanPro  UserPlan = "pro"
)

// AutoRecharge holds the account's top-up preferences.
type AutoRecharge struct {
	Enabled   bool
	Threshold int
	PackID    string
}

// Profile is the subset of an account the orchestrator reads.
type Profile struct {
	ID           string
	Credits      int
	Role         UserRole
	Plan         UserPlan
	AutoRecharge AutoRecharge
}

// IsFree reports whether the user is using the free plan.
func (p Profile) IsFree() bool {
	return p.Plan == UserPlanFree
}
