// Package envelope implements the request wrapper used by the portal's
// legacy RPC layer.
//
// A wrapped request carries the URL-encoded form fields in a single "eqap"
// value, either as plain base64 or, when compressed, as raw deflate + base64
// behind the "dz:" marker. The "eqacs" field holds the SHA-1 hex digest of
// the eqap value, "eqaz" flags compression and "eqav" is the versioned
// retry counter (1 for the first attempt).
//
// Responses to wrapped requests may come back behind the "eqz:" marker,
// in which case the remainder is base64 text.
package envelope

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
)

const (
	// CompressionMarker prefixes a deflated envelope.
	CompressionMarker = "dz:"
	// EncryptionMarker prefixes a base64-wrapped response body.
	EncryptionMarker = "eqz:"
)

// Form field names of a wrapped request.
const (
	FieldPayload    = "eqap"
	FieldChecksum   = "eqacs"
	FieldCompressed = "eqaz"
	FieldVersion    = "eqav"
)

var (
	ErrEmptyEnvelope = errors.New("envelope: empty envelope")
	ErrBadAttempt    = errors.New("envelope: attempt must be >= 1")
)

// QueryString returns the canonical query-string form of fields: keys
// sorted, values URL-encoded.
func QueryString(fields map[string]string) string {
	v := make(url.Values, len(fields))
	for k, val := range fields {
		v.Set(k, val)
	}
	return v.Encode()
}

// Encode serializes fields into an envelope string.
func Encode(fields map[string]string, compress bool) (string, error) {
	qs := QueryString(fields)
	if !compress {
		return base64.StdEncoding.EncodeToString([]byte(qs)), nil
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("envelope: deflate: %w", err)
	}
	if _, err := io.WriteString(w, qs); err != nil {
		return "", fmt.Errorf("envelope: deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("envelope: deflate: %w", err)
	}
	return CompressionMarker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode and returns the original query string. An empty
// envelope is the plain encoding of an empty field map.
func Decode(envelope string) (string, error) {
	envelope = strings.TrimSpace(envelope)
	if envelope == "" {
		return "", nil
	}
	compressed := strings.HasPrefix(envelope, CompressionMarker)
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, CompressionMarker))
	if err != nil {
		return "", fmt.Errorf("envelope: base64: %w", err)
	}
	if !compressed {
		return string(raw), nil
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("envelope: inflate: %w", err)
	}
	return string(out), nil
}

// Checksum returns the SHA-1 hex digest of an envelope string.
func Checksum(envelope string) string {
	sum := sha1.Sum([]byte(envelope))
	return hex.EncodeToString(sum[:])
}

// UnwrapResponse strips the encryption marker from a response body and
// base64-decodes the rest. Bodies without the marker pass through.
func UnwrapResponse(body string) (string, error) {
	if !strings.HasPrefix(body, EncryptionMarker) {
		return body, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body[len(EncryptionMarker):]))
	if err != nil {
		return "", fmt.Errorf("envelope: response base64: %w", err)
	}
	return string(raw), nil
}

// Wrap builds the POST form for a legacy RPC call. attempt starts at 1 and
// is sent as the versioned retry parameter.
func Wrap(fields map[string]string, compress bool, attempt int) (url.Values, error) {
	if attempt < 1 {
		return nil, ErrBadAttempt
	}
	eqap, err := Encode(fields, compress)
	if err != nil {
		return nil, err
	}
	flag := "0"
	if compress {
		flag = "1"
	}
	return url.Values{
		FieldPayload:    {eqap},
		FieldChecksum:   {Checksum(eqap)},
		FieldCompressed: {flag},
		FieldVersion:    {strconv.Itoa(attempt)},
	}, nil
}

// Unwrap validates a wrapped form and returns the decoded query string.
func Unwrap(form url.Values) (string, error) {
	eqap := form.Get(FieldPayload)
	if eqap == "" {
		return "", ErrEmptyEnvelope
	}
	if cs := form.Get(FieldChecksum); cs != "" && !strings.EqualFold(cs, Checksum(eqap)) {
		return "", fmt.Errorf("envelope: checksum mismatch")
	}
	return Decode(eqap)
}
