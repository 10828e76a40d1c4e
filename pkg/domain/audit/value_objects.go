package audit

// Action identifies what was attempted.
type Action string

// Audited actions.
const (
	ActionAccess           Action = "access"
	ActionLogin            Action = "login"
	ActionPermissionCheck  Action = "permission_check"
	ActionRateLimitExceed  Action = "rate_limit_exceeded"
	ActionProgressiveBlock Action = "progressive_block"
	ActionSuspiciousDevice Action = "suspicious_device"
	ActionSuperAdminBypass Action = "super_admin_bypass"
)

// IsValid reports whether the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionAccess, ActionLogin, ActionPermissionCheck,
		ActionRateLimitExceed, ActionProgressiveBlock,
		ActionSuspiciousDevice, ActionSuperAdminBypass:
		return true
	default:
		return false
	}
}

// Outcome is the result of a security decision.
type Outcome string

// Outcomes.
const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// IsValid reports whether the outcome is known.
func (o Outcome) IsValid() bool {
	return o == OutcomeGranted || o == OutcomeDenied
}
