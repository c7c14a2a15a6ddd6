package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

const (
	APIKeyPrefix     = "hpws_"
	displayPrefixLen = 12
)

// GenerateAPIKey returns a new raw key, its display prefix and bcrypt hash.
// The raw value is never stored.
func GenerateAPIKey() (raw, display, hash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("random: %w", err)
	}
	raw = APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	hash, err = HashPassword(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("hash api key: %w", err)
	}
	return raw, DisplayPrefix(raw), hash, nil
}

func DisplayPrefix(raw string) string {
	if len(raw) > displayPrefixLen {
		raw = raw[:displayPrefixLen]
	}
	return raw + "..."
}

// IPAllowed reports whether remote matches one of the allowed addresses or
// CIDR blocks. An empty list allows everything.
func IPAllowed(allowed []string, remote string) bool {
	if len(allowed) == 0 {
		return true
	}
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if strings.Contains(a, "/") {
			if p, err := netip.ParsePrefix(a); err == nil && p.Contains(addr) {
				return true
			}
			continue
		}
		if ip, err := netip.ParseAddr(a); err == nil && ip.Unmap() == addr {
			return true
		}
	}
	return false
}
