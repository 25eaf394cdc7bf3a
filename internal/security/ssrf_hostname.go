package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/nexus-orchestrator/orchestrator/internal/observability"
	"github.com/nexus-orchestrator/orchestrator/internal/ports"
)

var defaultBlockedHostnames = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
}

var defaultDangerousSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

// Validator enforces the outbound-request allowlist for tool servers that
// make network calls on the model's behalf (web_fetch, web_search). Unlike
// the teacher's free-function internal/net/ssrf package, a Validator is
// constructed per tool server with its own logger and extra blocklist
// entries, and every check is threaded through the call's
// ports.ToolInvocationContext so a blocked attempt is attributable to the
// conversation/generation that triggered it.
type Validator struct {
	logger           *observability.Logger
	blockedHostnames map[string]struct{}
	dangerousSuffix  []string
	resolve          func(string) ([]net.IP, error)
}

// NewValidator builds a Validator. extraBlockedHostnames supplements the
// built-in localhost/metadata blocklist (e.g. an internal service's
// hostname a deployment wants tools to never reach).
func NewValidator(logger *observability.Logger, extraBlockedHostnames ...string) *Validator {
	blocked := make(map[string]struct{}, len(defaultBlockedHostnames)+len(extraBlockedHostnames))
	for host := range defaultBlockedHostnames {
		blocked[host] = struct{}{}
	}
	for _, host := range extraBlockedHostnames {
		blocked[normalizeHostname(host)] = struct{}{}
	}
	return &Validator{
		logger:           logger,
		blockedHostnames: blocked,
		dangerousSuffix:  defaultDangerousSuffixes,
		resolve:          net.LookupIP,
	}
}

// IsBlockedHostname reports whether hostname is explicitly blocked or
// matches a dangerous internal-resource suffix.
func (v *Validator) IsBlockedHostname(hostname string) bool {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return false
	}
	if _, ok := v.blockedHostnames[normalized]; ok {
		return true
	}
	for _, suffix := range v.dangerousSuffix {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// ValidatePublicHostname validates that hostname is safe to make an
// outbound request to: not explicitly blocked, not itself a private IP
// literal, and resolves (via DNS) to no private address (§7).
func (v *Validator) ValidatePublicHostname(ctx context.Context, ictx ports.ToolInvocationContext, hostname string) error {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return errors.New("invalid hostname: empty after normalization")
	}

	if v.IsBlockedHostname(normalized) {
		return v.deny(ctx, ictx, normalized, "blocked hostname")
	}
	if IsPrivateIPAddress(normalized) {
		return v.deny(ctx, ictx, normalized, "private/internal IP address")
	}

	ips, err := v.resolve(normalized)
	if err != nil {
		return fmt.Errorf("unable to resolve hostname: %s: %w", hostname, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("unable to resolve hostname: %s", hostname)
	}
	for _, ip := range ips {
		if IsPrivateIPAddress(ip.String()) {
			return v.deny(ctx, ictx, normalized, "resolves to private/internal IP address")
		}
	}
	return nil
}

// ValidateFetchURL validates a full URL for the web_fetch/scrape_url and
// web_search tools: only http/https schemes are allowed, and the host must
// pass ValidatePublicHostname (§7).
func (v *Validator) ValidateFetchURL(ctx context.Context, ictx ports.ToolInvocationContext, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return v.deny(ctx, ictx, parsed.Scheme, fmt.Sprintf("blocked scheme: %s", parsed.Scheme))
	}
	if parsed.Hostname() == "" {
		return errors.New("invalid URL: missing host")
	}
	return v.ValidatePublicHostname(ctx, ictx, parsed.Hostname())
}

func (v *Validator) deny(ctx context.Context, ictx ports.ToolInvocationContext, host, reason string) error {
	if v.logger != nil {
		v.logger.Warn(ctx, "security: blocked outbound request", "host", host, "reason", reason,
			"conversationId", ictx.ConversationID, "generationId", ictx.GenerationID)
	}
	return blockedf(host, reason)
}

// defaultValidator backs the package-level convenience functions used by
// callers (and tests) that don't need per-tool-server blocklists or
// invocation-scoped audit logging.
var defaultValidator = NewValidator(nil)

// IsBlockedHostname reports whether hostname is blocked under the built-in
// allowlist; equivalent to defaultValidator.IsBlockedHostname.
func IsBlockedHostname(hostname string) bool {
	return defaultValidator.IsBlockedHostname(hostname)
}

// ValidateFetchURL validates rawURL under the built-in allowlist with no
// invocation context to attribute a block to; equivalent to
// defaultValidator.ValidateFetchURL with a background context.
func ValidateFetchURL(rawURL string) error {
	return defaultValidator.ValidateFetchURL(context.Background(), ports.ToolInvocationContext{}, rawURL)
}
