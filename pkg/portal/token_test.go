package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestExtractTokenPatterns(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"quoted", `<script>var cfg = {"_gsh":"a1b2c3d4"};</script>`, "a1b2c3d4"},
		{"double underscore", `{'__gsh': 'ffee0011'}`, "ffee0011"},
		{"bare", `<script> ASC.gsh = "00deadbeef";</script>`, "00deadbeef"},
		{"bare unquoted", `_gsh=abcdef12;`, "abcdef12"},
		{"data attribute", `<div id="tt" data-gsh="1234abcd"></div>`, "1234abcd"},
		{"quoted wins", `_gsh=111111; {"_gsh":"222222"}`, "222222"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractToken(tt.html)
			if !ok || got != tt.want {
				t.Fatalf("ExtractToken = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
	for _, html := range []string{
		`<p>no token; gsh = "xyz"</p>`,
		`_gsh=` + strings.Repeat("ab", 35) + `;`,
		`ASC.gsh = "` + strings.Repeat("0f", 40) + `";`,
	} {
		if tok, ok := ExtractToken(html); ok {
			t.Errorf("ExtractToken(%.30q) = %q, want no match", html, tok)
		}
	}
}

func TestTokenResolverResolveFrom(t *testing.T) {
	var fetches int
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, tokenPage(&fetches), Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	tok, err := c.Tokens.ResolveFrom(ctx, `<script>var cfg={"_gsh":"0badf00d"}</script>`, true)
	if err != nil || tok != "0badf00d" {
		t.Fatalf("ResolveFrom(warm-up page) = %q, %v", tok, err)
	}
	if fetches != 0 || c.Tokens.Cache().Value != "0badf00d" {
		t.Fatalf("fetches = %d, cache = %q", fetches, c.Tokens.Cache().Value)
	}

	tok, err = c.Tokens.ResolveFrom(ctx, `{"_gsh":"11112222"}`, true)
	if err != nil || tok != "0badf00d" {
		t.Fatalf("fresh cache not preferred: %q, %v", tok, err)
	}

	tok, err = c.Tokens.ResolveFrom(ctx, `<html>no token</html>`, false)
	if err != nil || tok != "cafe1234" {
		t.Fatalf("ResolveFrom(page without token) = %q, %v", tok, err)
	}
	if fetches != 1 || c.Tokens.Fetches() != 1 {
		t.Fatalf("fetches = %d, Fetches() = %d, want 1", fetches, c.Tokens.Fetches())
	}
}

func tokenPage(count *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/timetable/" {
			http.NotFound(w, r)
			return
		}
		*count++
		io.WriteString(w, `<script>var x={"_gsh":"cafe1234"}</script>`)
	}
}

func TestTokenResolverCache(t *testing.T) {
	var fetches int
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, tokenPage(&fetches), Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tok, err := c.Tokens.Resolve(ctx, true)
		if err != nil || tok != "cafe1234" {
			t.Fatalf("Resolve #%d = %q, %v", i, tok, err)
		}
		now = now.Add(10 * time.Minute)
	}
	if fetches != 1 {
		t.Fatalf("fetches within TTL = %d, want 1", fetches)
	}

	now = now.Add(TokenTTL)
	if _, err := c.Tokens.Resolve(ctx, true); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("fetches after TTL = %d, want 2", fetches)
	}

	if _, err := c.Tokens.Resolve(ctx, false); err != nil {
		t.Fatal(err)
	}
	if fetches != 3 {
		t.Fatalf("forced refresh fetches = %d, want 3", fetches)
	}
	if c.Tokens.Fetches() != 3 {
		t.Fatalf("Fetches() = %d", c.Tokens.Fetches())
	}
	c.Tokens.Invalidate()
	if c.Tokens.Cache().Value != "" {
		t.Fatal("cache survived Invalidate")
	}
}

func TestTokenResolverOverride(t *testing.T) {
	var fetches int
	c, _ := newTestClient(t, tokenPage(&fetches), Options{SessionToken: " beef01 "})
	tok, err := c.Tokens.Resolve(context.Background(), false)
	if err != nil || tok != "beef01" {
		t.Fatalf("Resolve = %q, %v", tok, err)
	}
	if fetches != 0 {
		t.Fatalf("override fetched the page %d times", fetches)
	}
}

type fixedExtractor struct {
	token string
	err   error
}

func (f fixedExtractor) ExtractToken(string) (string, error) { return f.token, f.err }

func TestTokenResolverFallbacks(t *testing.T) {
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>nothing here</html>`)
	})

	c, _ := newTestClient(t, page, Options{})
	_, err := c.Tokens.Resolve(context.Background(), true)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigError", err)
	}

	c, _ = newTestClient(t, page, Options{TokenExtractor: fixedExtractor{token: "abc123"}})
	tok, err := c.Tokens.Resolve(context.Background(), true)
	if err != nil || tok != "abc123" {
		t.Fatalf("extractor: %q, %v", tok, err)
	}

	c, _ = newTestClient(t, page, Options{TokenExtractor: fixedExtractor{token: "not hex!"}})
	if _, err := c.Tokens.Resolve(context.Background(), true); !errors.As(err, &ce) {
		t.Fatalf("non-hex extractor result accepted: %v", err)
	}

	c, _ = newTestClient(t, page, Options{TokenExtractor: fixedExtractor{err: errors.New("boom")}})
	if _, err := c.Tokens.Resolve(context.Background(), true); !errors.As(err, &ce) {
		t.Fatalf("extractor error: %v", err)
	}
}
