// Package reliability holds the small policies the gateway applies when a
// dependency misbehaves: whether to admit traffic on failure, and a
// circuit breaker that stops hammering a dependency that keeps failing.
package reliability

type FailureStrategy string

const (
	// FailOpen admits traffic when the check itself fails. Right for an
	// abuse limiter: a Redis outage should degrade enforcement, not
	// availability.
	FailOpen FailureStrategy = "fail_open"

	// FailClosed blocks traffic when the check itself fails.
	FailClosed FailureStrategy = "fail_closed"
)

// ShouldAllow decides whether to proceed given an error and a strategy.
func ShouldAllow(strategy FailureStrategy, err error) bool {
	if err == nil {
		return true
	}
	return strategy == FailOpen
}
