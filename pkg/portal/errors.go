package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired is matched by *SessionExpired through errors.Is.
var ErrSessionExpired = errors.New("portal: session context expired")

// TransportError reports a failed HTTP exchange. Status is 0 when no
// response was received (network failure or timeout).
type TransportError struct {
	Method  string
	URL     string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound reports whether the server answered 404.
func (e *TransportError) NotFound() bool { return e.Status == http.StatusNotFound }

// AuthError is a rejected token request or login. Message is the server's
// error text, unmodified.
type AuthError struct {
	Step    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Step, e.Message)
}

// CaptchaRequired means the portal wants a human to solve a captcha or
// flagged the login as suspicious. It is a state transition rather than a
// failure: the caller backs off.
type CaptchaRequired struct {
	URL    string
	Reason string
}

func (e *CaptchaRequired) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("captcha required (%s): open %s", e.Reason, e.URL)
	}
	return fmt.Sprintf("captcha required (%s)", e.Reason)
}

// SessionExpired is returned when the data endpoint answers with the reload
// marker.
type SessionExpired struct {
	Endpoint string
}

func (e *SessionExpired) Error() string {
	return fmt.Sprintf("%s: session context is stale (reload requested)", e.Endpoint)
}

func (e *SessionExpired) Is(target error) bool { return target == ErrSessionExpired }

// EndpointNotFound is returned when every endpoint variant answered 404.
type EndpointNotFound struct {
	Message string
	Tried   []string
}

func (e *EndpointNotFound) Error() string {
	return fmt.Sprintf("timetable endpoint not found after %d variants: %s", len(e.Tried), e.Message)
}

// ConfigError reports missing or unusable configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsNotFound reports whether err is a 404 from the transport or an
// exhausted variant probe.
func IsNotFound(err error) bool {
	var te *TransportError
	if errors.As(err, &te) && te.NotFound() {
		return true
	}
	var nf *EndpointNotFound
	return errors.As(err, &nf)
}
