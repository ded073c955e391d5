package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/edupoll/edupoll/pkg/envelope"
)

// RPCEncoding selects how login RPC bodies are encoded.
type RPCEncoding string

const (
	// EncodingEnvelope wraps fields in the legacy eqap/eqacs envelope.
	EncodingEnvelope RPCEncoding = "envelope"
	// EncodingForm posts plain form fields.
	EncodingForm RPCEncoding = "form"
	// EncodingJSON posts a JSON object.
	EncodingJSON RPCEncoding = "json"
)

// DefaultLoginPath is the login RPC command endpoint.
const DefaultLoginPath = "/login/"

// ParseRPCEncoding accepts the configuration spelling of an encoding.
// The empty string selects EncodingForm.
func ParseRPCEncoding(s string) (RPCEncoding, error) {
	switch e := RPCEncoding(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EncodingForm, nil
	case EncodingEnvelope, EncodingForm, EncodingJSON:
		return e, nil
	}
	return "", &ConfigError{Field: "portal.rpc_encoding", Message: fmt.Sprintf("unknown encoding %q (envelope, form, json)", s)}
}

// rpcClient issues login RPC commands.
type rpcClient struct {
	transport *Transport
	path      string
	encoding  RPCEncoding
	compress  bool
}

func (r *rpcClient) actionPath(action string) string {
	q := url.Values{}
	q.Set("cmd", "MainLogin")
	q.Set("akcia", action)
	return r.path + "?" + q.Encode()
}

func (r *rpcClient) headers() map[string]string {
	origin := r.transport.session.OriginString()
	return map[string]string{
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"X-Requested-With": "XMLHttpRequest",
		"Origin":           origin,
		"Referer":          origin + r.path,
	}
}

// call runs one RPC action and decodes the JSON answer into out. Nil field
// values are omitted from form bodies and sent as null in JSON bodies.
func (r *rpcClient) call(ctx context.Context, action string, fields map[string]any, out any) error {
	path := r.actionPath(action)
	switch r.encoding {
	case EncodingJSON:
		return r.transport.PostJSON(ctx, path, fields, r.headers(), out)
	case EncodingEnvelope:
		flat := flatten(fields)
		var err error
		for attempt := 1; attempt <= 2; attempt++ {
			var form url.Values
			form, err = envelope.Wrap(flat, r.compress, attempt)
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			err = r.postForm(ctx, path, form, out)
			if err == nil || !retryable(err) {
				return err
			}
		}
		return err
	default:
		form := url.Values{}
		for k, v := range flatten(fields) {
			form.Set(k, v)
		}
		return r.postForm(ctx, path, form, out)
	}
}

func (r *rpcClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	p, err := r.transport.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded; charset=UTF-8", r.headers())
	if err != nil {
		return err
	}
	return r.transport.decodeJSON(http.MethodPost, p, out)
}

// retryable reports whether an envelope call may be repeated with the next
// eqav counter: no response at all or a server-side failure.
func retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Status == 0 || te.Status >= 500
}

func flatten(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			out[k] = x
		case bool:
			if x {
				out[k] = "1"
			} else {
				out[k] = "0"
			}
		case int:
			out[k] = strconv.Itoa(x)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
