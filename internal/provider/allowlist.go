package provider

import (
	"fmt"
	"net/netip"
)

// Published YooKassa notification source ranges.
var defaultAllowedCIDRs = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11/32",
	"77.75.156.35/32",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

// IPAllowlist answers whether a webhook source address belongs to the
// processor's published ranges.
type IPAllowlist struct {
	prefixes []netip.Prefix
}

// NewIPAllowlist builds the allowlist from the published ranges plus any
// extra CIDRs or bare addresses from configuration.
func NewIPAllowlist(extra []string) (*IPAllowlist, error) {
	entries := append(append([]string{}, defaultAllowedCIDRs...), extra...)
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		prefix, err := parsePrefix(entry)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, prefix)
	}
	return &IPAllowlist{prefixes: prefixes}, nil
}

func parsePrefix(entry string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(entry); err == nil {
		return prefix, nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Allowed reports whether the address is inside any allowed range. An
// unparseable address is rejected.
func (l *IPAllowlist) Allowed(remoteAddr string) bool {
	addr, err := netip.ParseAddr(remoteAddr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range l.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
