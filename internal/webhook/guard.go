package webhook

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// Guard rejection errors. Both are permanent: retrying cannot succeed
// until the target or the allowlist changes, so the delivery loop
// promotes guarded rows straight to dead.
var (
	ErrTargetNotAllowed = &PermanentError{Message: "target_not_allowed"}
	ErrHostNotAllowed   = &PermanentError{Message: "host_not_allowed"}
)

// AllowlistResolver resolves the set of allowed target hosts for a
// tenant. An empty result means no tenant-specific restriction.
type AllowlistResolver interface {
	AllowedHosts(ctx context.Context, tenantID string) ([]string, error)
}

// Guard validates outbound webhook targets against the baseline SSRF
// rules and optional global/per-tenant host allowlists.
type Guard struct {
	globalAllowed []string
	resolver      AllowlistResolver
}

// NewGuard creates a target guard. globalAllowed entries are hostnames
// or dot-prefixed suffixes (".example.com" matches any subdomain); an
// empty list disables the global allowlist layer. resolver may be nil.
func NewGuard(globalAllowed []string, resolver AllowlistResolver) *Guard {
	normalized := make([]string, 0, len(globalAllowed))
	for _, h := range globalAllowed {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			normalized = append(normalized, h)
		}
	}
	return &Guard{globalAllowed: normalized, resolver: resolver}
}

// Check validates a target URL for the given tenant. It returns
// ErrTargetNotAllowed for baseline violations (scheme, private or
// loopback targets) and ErrHostNotAllowed when a configured allowlist
// does not match the host.
func (g *Guard) Check(ctx context.Context, tenantID, rawURL string) error {
	if !IsAllowedTarget(rawURL) {
		return ErrTargetNotAllowed
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ErrTargetNotAllowed
	}
	host := strings.ToLower(u.Hostname())

	allowed := g.globalAllowed
	if g.resolver != nil && tenantID != "" {
		tenantHosts, err := g.resolver.AllowedHosts(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("resolve allowlist: %w", err)
		}
		if len(tenantHosts) > 0 {
			allowed = tenantHosts
		}
	}

	// No allowlist configured: only the baseline guard applies.
	if len(allowed) == 0 {
		return nil
	}

	for _, entry := range allowed {
		if hostMatches(host, strings.ToLower(entry)) {
			return nil
		}
	}
	return ErrHostNotAllowed
}

// IsAllowedTarget applies the baseline SSRF rules: HTTPS only, no
// loopback, private, link-local or internal-looking hosts.
func IsAllowedTarget(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" {
		return false
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") || strings.HasSuffix(host, ".localhost") {
		return false
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
			addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
			return false
		}
	}

	return true
}

// hostMatches reports whether host matches an allowlist entry. Entries
// with a leading dot are suffix matches over subdomains.
func hostMatches(host, entry string) bool {
	if strings.HasPrefix(entry, ".") {
		return strings.HasSuffix(host, entry) || host == strings.TrimPrefix(entry, ".")
	}
	return host == entry
}
