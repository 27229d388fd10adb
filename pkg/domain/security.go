package domain

// SecurityDecision is the outcome of validating an image-proxy target URL.
// Decisions are computed fresh per request and never cached.
type SecurityDecision int

const (
	// DecisionAllowed means the target passed every check and may be fetched.
	DecisionAllowed SecurityDecision = iota
	// DecisionRejectedProtocol covers unparsable URLs and non-http(s) schemes.
	DecisionRejectedProtocol
	// DecisionRejectedPrivateTarget covers loopback and RFC1918 literals plus
	// localhost-style hostnames.
	DecisionRejectedPrivateTarget
	// DecisionRejectedNotAllowlisted means an allow-list is configured and the
	// hostname is not on it.
	DecisionRejectedNotAllowlisted
)

func (d SecurityDecision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionRejectedProtocol:
		return "rejected_protocol"
	case DecisionRejectedPrivateTarget:
		return "rejected_private_target"
	case DecisionRejectedNotAllowlisted:
		return "rejected_not_allowlisted"
	default:
		return "unknown"
	}
}
