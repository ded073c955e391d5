package cookies

import (
	"net/http"
	"strings"
	"time"
)

// Format identifies the layout of a cookie store.
type Format int

const (
	FormatUnknown Format = iota
	// FormatFirefox is the moz_cookies SQLite schema.
	FormatFirefox
	// FormatChrome is the Chromium cookies SQLite schema. Only rows with a
	// plaintext value are usable.
	FormatChrome
	// FormatNetscape is the tab separated cookies.txt layout.
	FormatNetscape
)

func (f Format) String() string {
	switch f {
	case FormatFirefox:
		return "firefox"
	case FormatChrome:
		return "chrome"
	case FormatNetscape:
		return "netscape"
	}
	return "unknown"
}

// Cookie is one imported cookie. Value is sensitive.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
	// Expiry is zero for session cookies.
	Expiry   time.Time
	Secure   bool
	HttpOnly bool
}

// HostOnly reports whether the cookie was stored without a domain
// attribute.
func (c Cookie) HostOnly() bool {
	return !strings.HasPrefix(c.Domain, ".")
}

// HTTP converts c for a cookie jar. Host-only cookies carry no Domain so
// the jar scopes them to the URL they are set for.
func (c Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if !c.HostOnly() {
		hc.Domain = c.Domain
	}
	if hc.Path == "" {
		hc.Path = "/"
	}
	if !c.Expiry.IsZero() {
		hc.Expires = c.Expiry
	}
	return hc
}

// ToHTTP converts a batch of cookies.
func ToHTTP(cookies []Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, c.HTTP())
	}
	return out
}

// Names lists cookie names, which are safe to log.
func Names(cookies []Cookie) []string {
	out := make([]string, len(cookies))
	for i, c := range cookies {
		out[i] = c.Name
	}
	return out
}

// Source describes where cookies were read from.
type Source struct {
	Path    string
	Format  Format
	Browser string
}
