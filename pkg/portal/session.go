package portal

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Session is the process-wide portal context: origin, tenant and the cookie
// jar shared by every request. Cookies are never cleared.
type Session struct {
	Origin       *url.URL
	Tenant       string
	ParentDomain string
	Jar          *cookiejar.Jar
}

// NewSession parses baseURL (e.g. https://myschool.edupage.org) and derives
// the tenant from the first host label and the parent cookie domain from
// the public suffix list.
func NewSession(baseURL string) (*Session, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, &ConfigError{Field: "portal.base_url", Message: "missing base URL (e.g. https://myschool.edupage.org)"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &ConfigError{Field: "portal.base_url", Message: fmt.Sprintf("invalid base URL %q", baseURL)}
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	return &Session{
		Origin:       u,
		Tenant:       tenantOf(host),
		ParentDomain: parentDomainOf(host),
		Jar:          jar,
	}, nil
}

func tenantOf(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

func parentDomainOf(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// OriginString returns the origin without a trailing slash.
func (s *Session) OriginString() string {
	return s.Origin.Scheme + "://" + s.Origin.Host
}

// Resolve turns a portal path or absolute URL into an absolute URL.
func (s *Session) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return s.Origin.ResolveReference(r), nil
}

// AbsoluteURL resolves ref against the origin. Absolute refs are returned
// unchanged; unparsable refs are returned as given.
func (s *Session) AbsoluteURL(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := s.Resolve(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// parentURL addresses the parent cookie domain with the origin's scheme
// and port.
func (s *Session) parentURL() *url.URL {
	host := s.ParentDomain
	if p := s.Origin.Port(); p != "" {
		host = net.JoinHostPort(host, p)
	}
	return &url.URL{Scheme: s.Origin.Scheme, Host: host, Path: "/"}
}

// Cookies returns the cookies the jar would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.Jar.Cookies(u)
}

// CookieNames lists the cookie names stored for the origin and its parent
// domain.
func (s *Session) CookieNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, u := range []*url.URL{s.Origin, s.parentURL()} {
		for _, c := range s.Jar.Cookies(u) {
			if !seen[c.Name] {
				seen[c.Name] = true
				names = append(names, c.Name)
			}
		}
	}
	return names
}

// HasCookie reports whether a cookie called name is stored for the origin
// or the parent domain.
func (s *Session) HasCookie(name string) bool {
	for _, n := range s.CookieNames() {
		if n == name {
			return true
		}
	}
	return false
}

// SetCookie stores c for u.
func (s *Session) SetCookie(u *url.URL, c *http.Cookie) {
	s.Jar.SetCookies(u, []*http.Cookie{c})
}

// SetParentCookie stores a cookie scoped to the parent domain so that it is
// sent to every tenant subdomain.
func (s *Session) SetParentCookie(name, value string) {
	c := &http.Cookie{Name: name, Value: value, Path: "/"}
	if s.ParentDomain != s.Origin.Hostname() {
		c.Domain = s.ParentDomain
	}
	s.SetCookie(s.parentURL(), c)
}

// SeedCookies loads externally obtained cookies (for example imported from
// a browser profile) into the jar. Cookies without a domain are scoped to
// the origin.
func (s *Session) SeedCookies(cookies []*http.Cookie) int {
	n := 0
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		u := s.Origin
		if d := strings.TrimPrefix(c.Domain, "."); d != "" {
			host := d
			if p := s.Origin.Port(); p != "" {
				host = net.JoinHostPort(d, p)
			}
			u = &url.URL{Scheme: s.Origin.Scheme, Host: host, Path: "/"}
		}
		s.Jar.SetCookies(u, []*http.Cookie{c})
		n++
	}
	return n
}
