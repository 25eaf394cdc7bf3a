package security

// SSRFBlockedError is returned when a hostname or IP address is blocked by
// the outbound-request allowlist (§7). Host is carried separately from
// Message so callers can log/attribute the blocked target without
// re-parsing the error text.
type SSRFBlockedError struct {
	Message string
	Host    string
}

func (e *SSRFBlockedError) Error() string {
	return e.Message
}

// blockedf builds an SSRFBlockedError for host with the given reason.
func blockedf(host, reason string) *SSRFBlockedError {
	return &SSRFBlockedError{Message: "blocked: " + reason, Host: host}
}

// NewSSRFBlockedError creates a new SSRFBlockedError with the given message
// and no attributed host, kept for callers that only have a free-form
// message to report.
func NewSSRFBlockedError(message string) *SSRFBlockedError {
	return &SSRFBlockedError{Message: message}
}
