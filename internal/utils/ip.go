package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// AllowList matches addresses against a fixed set of CIDR blocks.
type AllowList struct {
	nets []*net.IPNet
}

// NewAllowList parses cidrs. A bare address is treated as a single host.
func NewAllowList(cidrs []string) (*AllowList, error) {
	l := &AllowList{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			if ip := net.ParseIP(c); ip != nil && ip.To4() != nil {
				c += "/32"
			} else {
				c += "/128"
			}
		}
		_, block, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", c, err)
		}
		l.nets = append(l.nets, block)
	}
	return l, nil
}

func (l *AllowList) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range l.nets {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

// RemoteIP returns the peer address of r without the port. Forwarding headers
// are ignored.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
