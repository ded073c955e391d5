package portal

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/edupoll/edupoll/pkg/logger"
)

// HandshakeState is the position of a Handshake in its state machine.
type HandshakeState int

const (
	StateIdle HandshakeState = iota
	StateTokenRequested
	StateLoggedIn
	StateBlocked
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTokenRequested:
		return "token-requested"
	case StateLoggedIn:
		return "logged-in"
	case StateBlocked:
		return "blocked"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Credentials are supplied once at startup.
type Credentials struct {
	Username string
	Password string
	Tenant   string
}

// LoginHints is the optional tu/gu/au context triple returned by the login
// metadata call. Absent values are sent as null.
type LoginHints struct {
	TU any `json:"tu"`
	GU any `json:"gu"`
	AU any `json:"au"`
}

// LoginResult is the decoded answer of the login action.
type LoginResult struct {
	Status       string
	Error        string
	CaptchaImage string
	NeedsCaptcha bool
}

// OK reports whether the portal accepted the credentials.
func (r *LoginResult) OK() bool { return strings.EqualFold(r.Status, "OK") }

// serverError reads the err field, which the portal sends either as
// {"error_text": "..."} or as a bare string.
type serverError string

func (e *serverError) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			ErrorText flexText `json:"error_text"`
			Message   flexText `json:"message"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		if obj.ErrorText != "" {
			*e = serverError(obj.ErrorText)
		} else {
			*e = serverError(obj.Message)
		}
		return nil
	}
	var t flexText
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	*e = serverError(t)
	return nil
}

type tokenResponse struct {
	Token string      `json:"token"`
	Err   serverError `json:"err"`
}

type loginResponse struct {
	Status      string      `json:"status"`
	Err         serverError `json:"err"`
	NeedCaptcha flexBool    `json:"needCaptcha"`
	CaptchaSrc  string      `json:"captchaSrc"`
}

// Handshake runs token exchange and login. One instance serves one sync
// cycle.
type Handshake struct {
	rpc     *rpcClient
	session *Session
	log     logger.Logger
	state   HandshakeState
	captcha *CaptchaRequired
}

// State returns the current state.
func (h *Handshake) State() HandshakeState { return h.state }

// Captcha returns the captcha signal that blocked the handshake, if any.
func (h *Handshake) Captcha() *CaptchaRequired { return h.captcha }

// FetchLoginHints loads the login metadata. It is best effort: any failure
// yields nil hints.
func (h *Handshake) FetchLoginHints(ctx context.Context) *LoginHints {
	body, err := h.rpc.transport.Get(ctx, h.rpc.actionPath("getData"), h.rpc.headers())
	if err != nil {
		h.log.Debug("login metadata unavailable: %v", err)
		return nil
	}
	var hints LoginHints
	if err := json.Unmarshal(body, &hints); err != nil {
		h.log.Debug("login metadata not JSON: %v", err)
		return nil
	}
	return &hints
}

// RequestToken asks for the short-lived login token.
func (h *Handshake) RequestToken(ctx context.Context, username, tenant string) (string, error) {
	h.state = StateTokenRequested
	var res tokenResponse
	err := h.rpc.call(ctx, "getToken", map[string]any{
		"username": username,
		"edupage":  tenant,
	}, &res)
	if err != nil {
		h.state = StateFailed
		return "", err
	}
	if res.Token != "" {
		return res.Token, nil
	}
	msg := string(res.Err)
	if c := DetectCaptcha(h.session, msg, false, ""); c != nil {
		return "", h.block(c)
	}
	h.state = StateFailed
	if msg == "" {
		msg = "no token in response"
	}
	return "", &AuthError{Step: "getToken", Message: msg}
}

// Login posts the credentials with the token obtained from RequestToken.
// The result is returned even when the portal rejected the login.
func (h *Handshake) Login(ctx context.Context, username, password, token, tenant string, hints *LoginHints) (*LoginResult, error) {
	if hints == nil {
		hints = &LoginHints{}
	}
	var res loginResponse
	err := h.rpc.call(ctx, "login", map[string]any{
		"username":  username,
		"password":  password,
		"userToken": token,
		"edupage":   tenant,
		"ctxt":      "",
		"tu":        hints.TU,
		"gu":        hints.GU,
		"au":        hints.AU,
	}, &res)
	if err != nil {
		h.state = StateFailed
		return nil, err
	}
	result := &LoginResult{
		Status:       res.Status,
		Error:        string(res.Err),
		CaptchaImage: h.session.AbsoluteURL(strings.TrimSpace(res.CaptchaSrc)),
		NeedsCaptcha: bool(res.NeedCaptcha),
	}
	if c := DetectCaptcha(h.session, result.Error, result.NeedsCaptcha, res.CaptchaSrc); c != nil {
		return result, h.block(c)
	}
	if !result.OK() {
		h.state = StateFailed
		msg := result.Error
		if msg == "" {
			msg = "login failed"
		}
		return result, &AuthError{Step: "login", Message: msg}
	}
	h.state = StateLoggedIn
	return result, nil
}

// Run performs metadata, token and login in order.
func (h *Handshake) Run(ctx context.Context, creds Credentials) (HandshakeState, error) {
	if h.state != StateIdle {
		return h.state, errors.New("handshake already used")
	}
	hints := h.FetchLoginHints(ctx)
	token, err := h.RequestToken(ctx, creds.Username, creds.Tenant)
	if err != nil {
		return h.state, err
	}
	if _, err := h.Login(ctx, creds.Username, creds.Password, token, creds.Tenant, hints); err != nil {
		return h.state, err
	}
	h.log.Info("logged in as %s", creds.Username)
	return h.state, nil
}

func (h *Handshake) block(c *CaptchaRequired) error {
	h.state = StateBlocked
	h.captcha = c
	h.log.Warning("portal requires a captcha: %s", c.Reason)
	return c
}
