package health

import (
	"errors"
	"net"
	"regexp"
	"slices"
	"strings"
)

// Rules holds the configured qualifying-failure classifiers (spec §4.C).
type Rules struct {
	HTTPCodes           []int
	ErrorTypeSubstrings []string
	BodyPatterns        []*regexp.Regexp
}

// CompileRules compiles the configured string patterns into Rules. Invalid
// patterns are skipped here — config.Validate is responsible for rejecting
// them at load time.
func CompileRules(httpCodes []int, errorTypes []string, bodyPatterns []string) Rules {
	r := Rules{HTTPCodes: httpCodes, ErrorTypeSubstrings: errorTypes}
	for _, p := range bodyPatterns {
		if re, err := regexp.Compile(p); err == nil {
			r.BodyPatterns = append(r.BodyPatterns, re)
		}
	}
	return r
}

// ClassifyHTTP implements rule (a): HTTP status membership.
func (r Rules) ClassifyHTTP(status int) bool {
	return slices.Contains(r.HTTPCodes, status)
}

// ClassifyTransport implements rule (b): connect-timeout, read-timeout,
// TLS-handshake failure, DNS failure, or connection reset.
func (r Rules) ClassifyTransport(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"connection reset", "tls: ", "handshake failure", "broken pipe", "EOF"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// ClassifyBody implements rule (c): decoded response body substring/regex
// match. body should be a bounded preview (first N KB) per spec §4.H.
func (r Rules) ClassifyBody(body string) bool {
	for _, needle := range r.ErrorTypeSubstrings {
		if needle != "" && strings.Contains(body, needle) {
			return true
		}
	}
	for _, re := range r.BodyPatterns {
		if re.MatchString(body) {
			return true
		}
	}
	return false
}

// NonQualifying categories (spec §4.C): authentication (401/403), explicit
// request validation (400), and client cancellation are reported verbatim
// and never counted against provider health.
func NonQualifyingHTTP(status int) bool {
	return status == 401 || status == 403 || status == 400
}
