// Package security implements the orchestrator's outbound-request and
// shell-command safety checks used by the web_fetch/web_search and
// execute_command tools (§7). The private/reserved address ranges enforced
// here are the same ones the teacher's internal/net/ssrf package blocks, but
// classification is reimplemented over net/netip (parse once into an Addr,
// classify via its Is4/Is6/IsPrivate helpers) instead of the teacher's
// manual octet-by-octet parsing, and the checks are exposed through a
// Validator that tool servers construct and thread ports.ToolInvocationContext
// through, rather than as a standalone drop-in package.
package security

import (
	"net/netip"
	"strings"
)

// carrierGradeNAT is 100.64.0.0/10, not classified private by net/netip's
// Addr.IsPrivate (which only covers RFC 1918 and the IPv6 ULA range).
var carrierGradeNAT = netip.MustParsePrefix("100.64.0.0/10")

// privateIPv6Prefixes catches non-ULA private/link-local IPv6 ranges that
// net/netip's IsPrivate/IsLinkLocalUnicast don't fully cover (site-local
// fec0::/10, deprecated but still routed on some networks).
var privateIPv6Prefixes = []string{"fec0:"}

func normalizeHostname(hostname string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	normalized = strings.TrimSuffix(normalized, ".")
	normalized = strings.TrimPrefix(normalized, "[")
	normalized = strings.TrimSuffix(normalized, "]")
	return normalized
}

// IsPrivateIPAddress reports whether an IP address string (IPv4 or IPv6) is
// a private, loopback, link-local, or carrier-grade-NAT address that must
// never be the target of a web_fetch/web_search request (§7).
func IsPrivateIPAddress(address string) bool {
	normalized := normalizeHostname(address)
	if normalized == "" {
		return false
	}

	addr, err := netip.ParseAddr(normalized)
	if err != nil {
		return false
	}
	return isPrivateAddr(addr)
}

func isPrivateAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return true
	}
	if addr.Is4() && (addr.As4()[0] == 0 || carrierGradeNAT.Contains(addr)) {
		return true
	}
	if addr.Is6() {
		text := addr.String()
		for _, prefix := range privateIPv6Prefixes {
			if strings.HasPrefix(text, prefix) {
				return true
			}
		}
	}
	return false
}
