package portal

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/edupoll/edupoll/pkg/logger"
)

const (
	// TokenTTL is how long a scraped session token is reused.
	TokenTTL = 30 * time.Minute
	// DefaultTokenPage carries the session token in its inline script.
	DefaultTokenPage = "/timetable/"
)

// tokenPatterns are tried in order: quoted key-value, bare assignment,
// data attribute.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`["']_?_?gsh["']\s*:\s*["']([0-9a-fA-F]{6,64})["']`),
	regexp.MustCompile(`\b_?_?gsh\s*=\s*["']?([0-9a-fA-F]{6,64})\b`),
	regexp.MustCompile(`data-_?_?gsh\s*=\s*["']([0-9a-fA-F]{6,64})["']`),
}

var hexToken = regexp.MustCompile(`^[0-9a-fA-F]{6,64}$`)

// ExtractToken applies the built-in patterns to html.
func ExtractToken(html string) (string, bool) {
	for _, re := range tokenPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// TokenExtractor is a pluggable last-resort scraper. It returns "" when it
// finds nothing.
type TokenExtractor interface {
	ExtractToken(html string) (string, error)
}

// TokenCache holds the last resolved session token.
type TokenCache struct {
	Value     string
	FetchedAt time.Time
}

// Fresh reports whether the cached token is younger than TokenTTL at now.
func (c TokenCache) Fresh(now time.Time) bool {
	return c.Value != "" && now.Sub(c.FetchedAt) < TokenTTL
}

// TokenResolver obtains the session token required by the timetable
// endpoint. It is the only writer of its cache.
type TokenResolver struct {
	transport *Transport
	page      string
	override  string
	extractor TokenExtractor
	log       logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache TokenCache
	// fetches counts token page loads.
	fetches int
}

// TokenResolverOptions configures a TokenResolver.
type TokenResolverOptions struct {
	Page      string
	Override  string
	Extractor TokenExtractor
	Logger    logger.Logger
	Now       func() time.Time
}

// NewTokenResolver creates a resolver reading the token page through t.
func NewTokenResolver(t *Transport, opts TokenResolverOptions) *TokenResolver {
	if opts.Page == "" {
		opts.Page = DefaultTokenPage
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TokenResolver{
		transport: t,
		page:      opts.Page,
		override:  strings.TrimSpace(opts.Override),
		extractor: opts.Extractor,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// Resolve returns the session token. A configured override always wins.
// With useCache a token younger than TokenTTL is returned without network
// access; otherwise the token page is fetched and scraped.
func (r *TokenResolver) Resolve(ctx context.Context, useCache bool) (string, error) {
	return r.ResolveFrom(ctx, "", useCache)
}

// ResolveFrom is Resolve with html, a page the caller has just loaded. When
// the cache cannot serve, html is scraped first and the token page is only
// fetched if it carries no token.
func (r *TokenResolver) ResolveFrom(ctx context.Context, html string, useCache bool) (string, error) {
	if r.override != "" {
		return r.override, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if useCache && r.cache.Fresh(now) {
		return r.cache.Value, nil
	}
	if html != "" {
		if token, ok := r.scrape(html); ok {
			return r.store(token, now), nil
		}
	}
	r.fetches++
	body, err := r.transport.Get(ctx, r.page, map[string]string{
		"Referer": r.transport.session.OriginString() + "/",
	})
	if err != nil {
		return "", err
	}
	token, ok := r.scrape(string(body))
	if !ok {
		return "", &ConfigError{
			Field:   "portal.session_token",
			Message: "session token not found on " + r.page + "; copy the _gsh value manually from the browser developer tools",
		}
	}
	return r.store(token, now), nil
}

func (r *TokenResolver) store(token string, now time.Time) string {
	r.cache = TokenCache{Value: token, FetchedAt: now}
	r.log.Info("resolved session token %s...", prefix(token))
	return token
}

func (r *TokenResolver) scrape(html string) (string, bool) {
	if t, ok := ExtractToken(html); ok {
		return t, true
	}
	if r.extractor == nil {
		return "", false
	}
	t, err := r.extractor.ExtractToken(html)
	if err != nil {
		r.log.Warning("token script failed: %v", err)
		return "", false
	}
	t = strings.TrimSpace(t)
	if !hexToken.MatchString(t) {
		if t != "" {
			r.log.Warning("token script returned a non-hex value")
		}
		return "", false
	}
	return t, true
}

// Invalidate drops the cached token.
func (r *TokenResolver) Invalidate() {
	r.mu.Lock()
	r.cache = TokenCache{}
	r.mu.Unlock()
}

// Cache returns a copy of the cache.
func (r *TokenResolver) Cache() TokenCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache
}

// Fetches returns how often the token page was loaded.
func (r *TokenResolver) Fetches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func prefix(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[:4]
}
