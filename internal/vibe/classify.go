package vibe

import (
	"context"
	"net/http"
)

// FailoverReason classifies a single failed provider attempt. The set is
// closed; anything unclassifiable is unreachable.
type FailoverReason string

const (
	ReasonMissingAuth     FailoverReason = "missing_auth"
	ReasonAuthError       FailoverReason = "auth_error"
	ReasonRateLimit       FailoverReason = "rate_limit"
	ReasonUnreachable     FailoverReason = "unreachable"
	ReasonInvalidResponse FailoverReason = "invalid_response"
	ReasonCancelled       FailoverReason = "cancelled"
)

// severity ranks reasons for the exhaustion error: the chain surfaces the
// most actionable failure, so auth and quota problems outrank transient
// unreachability.
var severity = map[FailoverReason]int{
	ReasonMissingAuth:     0,
	ReasonInvalidResponse: 1,
	ReasonUnreachable:     2,
	ReasonRateLimit:       3,
	ReasonAuthError:       4,
}

// MoreSevere reports whether a outranks b.
func MoreSevere(a, b FailoverReason) bool {
	return severity[a] > severity[b]
}

// ClassifyStatus maps a provider HTTP status to a failover reason.
// 2xx never reaches here.
func ClassifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuthError
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status >= 500:
		return ReasonUnreachable
	default:
		return ReasonUnreachable
	}
}

// ClassifyTransportErr maps a transport-level failure. A cancelled or
// expired caller context wins over whatever the transport reported.
func ClassifyTransportErr(ctx context.Context) FailoverReason {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonUnreachable
}
