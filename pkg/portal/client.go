package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/edupoll/edupoll/pkg/logger"
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Encoding          RPCEncoding
	Compress          bool
	LoginPath         string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	RequiredCookie    string
	WarmUpPages       []string
	TokenPage         string
	SessionToken      string
	TokenExtractor    TokenExtractor
	Variants          []Variant
	Observer          Observer
	Logger            logger.Logger
	Now               func() time.Time
	HTTPTransport     http.RoundTripper
}

// Client bundles everything that talks to one portal over one session.
type Client struct {
	Session   *Session
	Transport *Transport
	Tokens    *TokenResolver
	Timetable *TimetableClient

	rpc            *rpcClient
	warmer         *Warmer
	requiredCookie string
	log            logger.Logger
}

// New creates a Client with a fresh session.
func New(opts Options) (*Client, error) {
	s, err := NewSession(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingForm
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.RequiredCookie == "" {
		opts.RequiredCookie = DefaultRequiredCookie
	}
	t := NewTransport(s, TransportOptions{
		Timeout:           opts.Timeout,
		RequestsPerSecond: opts.RequestsPerSecond,
		UserAgent:         opts.UserAgent,
		Logger:            opts.Logger,
		Observer:          opts.Observer,
		HTTPTransport:     opts.HTTPTransport,
	})
	return &Client{
		Session:   s,
		Transport: t,
		Tokens: NewTokenResolver(t, TokenResolverOptions{
			Page:      opts.TokenPage,
			Override:  opts.SessionToken,
			Extractor: opts.TokenExtractor,
			Logger:    opts.Logger,
			Now:       opts.Now,
		}),
		Timetable:      NewTimetableClient(t, opts.Variants, opts.Logger),
		rpc:            &rpcClient{transport: t, path: opts.LoginPath, encoding: opts.Encoding, compress: opts.Compress},
		warmer:         NewWarmer(t, opts.WarmUpPages, opts.Logger),
		requiredCookie: opts.RequiredCookie,
		log:            opts.Logger,
	}, nil
}

// NewHandshake returns an idle handshake for one cycle.
func (c *Client) NewHandshake() *Handshake {
	return &Handshake{rpc: c.rpc, session: c.Session, log: c.log}
}

// WarmUp replays the page chain and repairs the session cookie from the
// last page if the server did not set it.
func (c *Client) WarmUp(ctx context.Context) (*WarmUpResult, error) {
	res, err := c.warmer.WarmUp(ctx)
	if err != nil {
		return res, err
	}
	RepairCookie(c.Session, c.requiredCookie, res.HTML, c.log)
	return res, nil
}
