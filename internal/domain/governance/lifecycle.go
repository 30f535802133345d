package governance

import "time"

// LifecycleState is the governance state of a content bundle version.
type LifecycleState string

const (
	StateDraft      LifecycleState = "DRAFT"
	StateReview     LifecycleState = "REVIEW"
	StateApproved   LifecycleState = "APPROVED"
	StateActive     LifecycleState = "ACTIVE"
	StateDeprecated LifecycleState = "DEPRECATED"
)

// SignoffStatus is the state of the clinical signoff attached to a bundle
// version.
type SignoffStatus string

const (
	SignoffPending   SignoffStatus = "PENDING"
	SignoffSignedOff SignoffStatus = "SIGNED_OFF"
	SignoffRejected  SignoffStatus = "REJECTED"
	SignoffExpired   SignoffStatus = "EXPIRED"
)

// RuntimeContentStatus classifies whether the currently loaded bundle may
// be trusted. Consumers must branch on this: a degraded bundle is never
// authoritative.
type RuntimeContentStatus string

const (
	StatusActiveSignedOff     RuntimeContentStatus = "ACTIVE_SIGNED_OFF"
	StatusDegradedNoSignoff   RuntimeContentStatus = "DEGRADED_NO_SIGNOFF"
	StatusDegradedNotApproved RuntimeContentStatus = "DEGRADED_NOT_APPROVED"
	StatusDegradedUnknown     RuntimeContentStatus = "DEGRADED_UNKNOWN"
)

// BundleMetadata is the governance record for one loaded bundle version.
type BundleMetadata struct {
	ContentBundleVersion string         `json:"contentBundleVersion"`
	ContentChecksum      string         `json:"contentChecksum"`
	ProtocolVersion      string         `json:"protocolVersion"`
	LifecycleState       LifecycleState `json:"lifecycleState"`
	SignoffStatus        SignoffStatus  `json:"signoffStatus"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// SignoffRecord is a recorded clinical approval for one bundle version.
// Only one active signoff exists per version.
type SignoffRecord struct {
	SignedOffBy string        `json:"signedOffBy"`
	Role        string        `json:"role"`
	SignedOffAt time.Time     `json:"signedOffAt"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	Status      SignoffStatus `json:"status"`
	Notes       string        `json:"notes,omitempty"`
}

// Expired reports whether the signoff has an expiry in the past. An expired
// signoff no longer authorizes activation.
func (s SignoffRecord) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// transitions holds the allowed forward edges. DEPRECATED is terminal.
var transitions = map[LifecycleState][]LifecycleState{
	StateDraft:      {StateReview},
	StateReview:     {StateApproved, StateDraft},
	StateApproved:   {StateActive, StateDeprecated},
	StateActive:     {StateDeprecated},
	StateDeprecated: {},
}

// IsTransitionAllowed is a pure lookup over the lifecycle transition table.
func IsTransitionAllowed(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActivationDecision is the answer to "may this bundle become ACTIVE".
type ActivationDecision struct {
	Allowed bool
	Reason  string
}

// CanActivate enforces the core governance invariant: only an APPROVED
// bundle carrying a SIGNED_OFF signoff may become ACTIVE.
func CanActivate(meta BundleMetadata) ActivationDecision {
	if meta.LifecycleState != StateApproved {
		return ActivationDecision{
			Allowed: false,
			Reason:  "bundle lifecycle state is " + string(meta.LifecycleState) + ", activation requires APPROVED",
		}
	}
	if meta.SignoffStatus != SignoffSignedOff {
		return ActivationDecision{
			Allowed: false,
			Reason:  "bundle signoff status is " + string(meta.SignoffStatus) + ", activation requires SIGNED_OFF",
		}
	}
	return ActivationDecision{Allowed: true}
}

// GetRuntimeContentStatus classifies the currently loaded bundle. Anything
// but ACTIVE_SIGNED_OFF means the platform is running on content that has
// not cleared governance and must report itself as degraded.
func GetRuntimeContentStatus(meta BundleMetadata) RuntimeContentStatus {
	switch meta.LifecycleState {
	case StateActive:
		if meta.SignoffStatus == SignoffSignedOff {
			return StatusActiveSignedOff
		}
		return StatusDegradedNoSignoff
	case StateDraft, StateReview, StateApproved, StateDeprecated:
		return StatusDegradedNotApproved
	default:
		return StatusDegradedUnknown
	}
}
