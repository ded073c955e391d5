package cookies

import (
	"net"
	"strings"
)

// hostCandidates lists the stored domain values whose cookies a browser
// would send to host: the host itself, its dotted form and the dotted form
// of every parent with at least two labels.
func hostCandidates(host string) []string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return nil
	}
	out := []string{host, "." + host}
	if net.ParseIP(host) != nil {
		return out[:1]
	}
	labels := strings.Split(host, ".")
	for i := 1; i < len(labels)-1; i++ {
		out = append(out, "."+strings.Join(labels[i:], "."))
	}
	return out
}

// appliesTo reports whether a cookie stored for cookieDomain is sent to host.
func appliesTo(cookieDomain, host string) bool {
	cookieDomain = strings.ToLower(cookieDomain)
	for _, c := range hostCandidates(host) {
		if c == cookieDomain {
			return true
		}
	}
	return false
}
