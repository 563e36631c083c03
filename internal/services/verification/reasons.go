package verification

import "fmt"

// DenialReason — типизированная причина отказа в проверке.
type DenialReason string

const (
	ReasonCommunityNotConfigured DenialReason = "community_not_configured"
	ReasonRoleNotConfigured      DenialReason = "role_not_configured"
	ReasonSubscriptionInactive   DenialReason = "subscription_inactive"
	ReasonTierMisconfigured      DenialReason = "tier_misconfigured"
	ReasonTierNoNewVerifications DenialReason = "tier_no_new_verifications"
	ReasonAgeBelowMinimum        DenialReason = "age_below_minimum"
	ReasonAgeUnknown             DenialReason = "age_unknown"
	ReasonCooldown               DenialReason = "cooldown"
	ReasonQuotaExhausted         DenialReason = "quota_exhausted"
	ReasonProviderUnavailable    DenialReason = "provider_unavailable"
	ReasonRoleUnavailable        DenialReason = "role_unavailable"
)

const (
	msgSessionCreated = "Click the link below to verify your age. This link is private and should not be shared:\n\n%s"
	msgRegranted      = "You are already verified. Your role has been assigned."
)

// message возвращает текст для участника. minAge используется только в отказе по возрасту.
func (r DenialReason) message(minAge int) string {
	switch r {
	case ReasonCommunityNotConfigured:
		return "This server is not configured for verification. Please ask an admin to set up the server."
	case ReasonRoleNotConfigured:
		return "The verification role has not been set for this server. Please ask an admin to set up the role."
	case ReasonSubscriptionInactive:
		return "This server does not have an active verification subscription."
	case ReasonTierMisconfigured:
		return "This server's subscription tier is misconfigured. Please contact the server owner or admin."
	case ReasonTierNoNewVerifications:
		return "This tier does not support new user verification. Please contact the server owner or admin for assistance."
	case ReasonAgeBelowMinimum:
		return fmt.Sprintf("You must be at least %d years old to be added to the role.", minAge)
	case ReasonAgeUnknown:
		return "Your age could not be confirmed for this server. Please contact the server owner or admin."
	case ReasonCooldown:
		return "You're in a cooldown period. Please wait before attempting to verify again."
	case ReasonQuotaExhausted:
		return "This server has reached its monthly verification limit. Please contact an admin to upgrade the plan or wait until next month."
	case ReasonProviderUnavailable:
		return "Failed to initiate the verification process. Please try again later or contact support."
	case ReasonRoleUnavailable:
		return "The verification role could not be assigned. Please contact the server owner or admin."
	default:
		return "Verification is not available right now."
	}
}
