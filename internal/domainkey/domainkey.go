// Package domainkey resolves the registrable (effective second-level) domain
// for a URL, so that per-host state across the compliance gate and trap
// detector keys on one policy-bearing domain rather than every subdomain
// a gym's marketing and booking traffic happens to be split across.
package domainkey

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// For returns the registrable domain for rawURL's host, lowercased. IP
// literals and single-label hosts aren't registrable domains; they are
// returned unchanged so callers still get a stable, if coarser, key.
func For(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	dom, err := publicsuffix.Domain(host)
	if err != nil {
		return host, nil
	}
	return dom, nil
}
