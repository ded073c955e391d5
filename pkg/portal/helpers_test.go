package portal

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// newTestClient starts h and returns a client pointed at it.
func newTestClient(t *testing.T, h http.Handler, opts Options) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, srv
}

// counter counts requests per path.
type counter struct {
	hits map[string]*atomic.Int32
}

func newCounter(paths ...string) *counter {
	c := &counter{hits: map[string]*atomic.Int32{}}
	for _, p := range paths {
		c.hits[p] = new(atomic.Int32)
	}
	return c
}

func (c *counter) inc(path string) {
	if n, ok := c.hits[path]; ok {
		n.Add(1)
	}
}

func (c *counter) get(path string) int {
	if n, ok := c.hits[path]; ok {
		return int(n.Load())
	}
	return 0
}
