package orchestrator

import "github.com/relaymux/relaymux/internal/health"

// classifyAttempt implements spec §4.H's "Response-health evaluation"
// together with §4.C's qualifying-failure rules, collapsed into the
// single decision the orchestrator actually needs: whether the attempt
// is an error, a short reason tag for logging/error aggregation, and the
// health.Outcome to record.
//
// transportErr is set when the upstream call itself failed (no HTTP
// response at all); statusCode/bodyPreview/sseError apply when a
// response was received. sseError is only meaningful for streaming
// attempts (spec §4.H step 3: "the upstream emitted a terminal SSE
// error event").
func classifyAttempt(statusCode int, transportErr error, bodyPreview string, sseError bool, rules health.Rules) (isError bool, reason string, outcome health.Outcome) {
	if transportErr != nil {
		if rules.ClassifyTransport(transportErr) {
			return true, "transport_error", health.OutcomeQualifyingFailure
		}
		return true, "transport_error", health.OutcomeNonQualifyingFailure
	}

	if health.NonQualifyingHTTP(statusCode) {
		return true, "non_qualifying_http", health.OutcomeNonQualifyingFailure
	}
	if rules.ClassifyHTTP(statusCode) {
		return true, "http_code", health.OutcomeQualifyingFailure
	}
	if rules.ClassifyBody(bodyPreview) {
		return true, "body_pattern", health.OutcomeQualifyingFailure
	}
	if sseError {
		return true, "sse_error", health.OutcomeQualifyingFailure
	}
	if statusCode >= 400 {
		// An error status that matches none of the configured rules is
		// still reported to the client, but spec §4.C only counts the
		// three named rule classes against provider health.
		return true, "unclassified_http_error", health.OutcomeNonQualifyingFailure
	}
	return false, "ok", health.OutcomeSuccess
}
