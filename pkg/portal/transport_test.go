package portal

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestTransportGetPersistsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "s1", Path: "/"})
		io.WriteString(w, "ok")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("PHPSESSID")
		if err != nil {
			http.Error(w, "no cookie", http.StatusForbidden)
			return
		}
		io.WriteString(w, c.Value+" "+r.Header.Get("X-Test")+" "+r.UserAgent())
	})
	c, _ := newTestClient(t, mux, Options{UserAgent: "edupoll-test"})
	ctx := context.Background()

	if _, err := c.Transport.Get(ctx, "/set", nil); err != nil {
		t.Fatalf("Get /set: %v", err)
	}
	body, err := c.Transport.Get(ctx, "/echo", map[string]string{"X-Test": "h"})
	if err != nil {
		t.Fatalf("Get /echo: %v", err)
	}
	if string(body) != "s1 h edupoll-test" {
		t.Fatalf("body = %q", body)
	}
	if !c.Session.HasCookie("PHPSESSID") {
		t.Fatal("cookie not stored in session")
	}
}

func TestTransportHTTPError(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), Options{})
	_, err := c.Transport.Get(context.Background(), "/missing", nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if te.Status != http.StatusNotFound || !te.NotFound() || !IsNotFound(err) {
		t.Fatalf("status = %d", te.Status)
	}
	if !strings.HasSuffix(te.URL, "/missing") {
		t.Errorf("URL = %q", te.URL)
	}
}

func TestTransportNetworkErrorHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c, err := New(Options{BaseURL: base})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Transport.Get(context.Background(), "/", nil)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != 0 {
		t.Fatalf("err = %#v, want status 0", err)
	}
}

func TestTransportTimeout(t *testing.T) {
	done := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	})
	c, _ := newTestClient(t, h, Options{Timeout: 50 * time.Millisecond})
	defer close(done)
	_, err := c.Transport.Get(context.Background(), "/", nil)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != 0 {
		t.Fatalf("err = %v, want status 0", err)
	}
	if !strings.Contains(te.Message, "timeout") {
		t.Errorf("message = %q", te.Message)
	}
}

func TestTransportPostJSONUnwrapsEncryptedBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("content type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"q":1}` {
			t.Errorf("body = %s", b)
		}
		io.WriteString(w, "eqz:"+base64.StdEncoding.EncodeToString([]byte(`{"answer":"yes"}`)))
	})
	c, _ := newTestClient(t, h, Options{})
	var out struct {
		Answer string `json:"answer"`
	}
	if err := c.Transport.PostJSON(context.Background(), "/rpc", map[string]int{"q": 1}, nil, &out); err != nil {
		t.Fatal(err)
	}
	if out.Answer != "yes" {
		t.Fatalf("answer = %q", out.Answer)
	}
}

func TestTransportPostJSONInvalidBody(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>login</html>")
	})
	c, _ := newTestClient(t, h, Options{})
	var out map[string]any
	err := c.Transport.PostJSON(context.Background(), "/rpc", nil, nil, &out)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusOK {
		t.Fatalf("err = %v", err)
	}
}

func TestTransportPostForm(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, r.PostForm.Get("a")+r.PostForm.Get("b"))
	})
	c, _ := newTestClient(t, h, Options{})
	body, err := c.Transport.PostForm(context.Background(), "/", url.Values{"a": {"x&"}, "b": {"y"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "x&y" {
		t.Fatalf("body = %q", body)
	}
}

func TestTransportObserver(t *testing.T) {
	var calls []int
	c, _ := newTestClient(t, http.NotFoundHandler(), Options{
		Observer: func(method string, status int, _ time.Duration) {
			calls = append(calls, status)
		},
	})
	c.Transport.Get(context.Background(), "/", nil)
	if len(calls) != 1 || calls[0] != http.StatusNotFound {
		t.Fatalf("observer calls = %v", calls)
	}
}
