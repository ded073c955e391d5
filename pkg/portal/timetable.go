package portal

import (
	"context"
	"errors"
	"sync"

	"github.com/edupoll/edupoll/pkg/logger"
)

// TimetableClient fetches timetable data, probing the endpoint variants
// until one answers.
type TimetableClient struct {
	transport *Transport
	variants  []Variant
	log       logger.Logger

	mu        sync.Mutex
	preferred int
}

// NewTimetableClient uses variants in order, or DefaultVariants when empty.
func NewTimetableClient(t *Transport, variants []Variant, log logger.Logger) *TimetableClient {
	if len(variants) == 0 {
		variants = DefaultVariants
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &TimetableClient{
		transport: t,
		variants:  append([]Variant(nil), variants...),
		log:       log,
		preferred: -1,
	}
}

// Variants returns the probe table.
func (c *TimetableClient) Variants() []Variant { return append([]Variant(nil), c.variants...) }

func (c *TimetableClient) order() []int {
	c.mu.Lock()
	p := c.preferred
	c.mu.Unlock()
	idx := make([]int, 0, len(c.variants))
	if p >= 0 {
		idx = append(idx, p)
	}
	for i := range c.variants {
		if i != p {
			idx = append(idx, i)
		}
	}
	return idx
}

// GetCurrentTimetable posts q with the session token to each variant in
// turn. A 404 or any other failure advances to the next variant. When all
// fail the first 404 is reported as *EndpointNotFound, otherwise the last
// error is returned. A reload marker is returned as *SessionExpired without
// probing further.
func (c *TimetableClient) GetCurrentTimetable(ctx context.Context, q TimetableQuery, token string) (*TimetableResponse, error) {
	origin := c.transport.session.OriginString()
	headers := map[string]string{
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"X-Requested-With": "XMLHttpRequest",
		"Origin":           origin,
		"Referer":          origin + "/timetable/",
	}
	var (
		first404 string
		lastErr  error
		tried    []string
	)
	for _, i := range c.order() {
		v := c.variants[i]
		tried = append(tried, v.String())
		body := map[string]any{
			v.ArgsField:  []any{nil, q.fields()},
			v.TokenField: token,
		}
		var env timetableEnvelope
		err := c.transport.PostJSON(ctx, v.URL(), body, headers, &env)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			var te *TransportError
			if errors.As(err, &te) && te.NotFound() {
				if first404 == "" {
					first404 = te.Error()
				}
				c.log.Debug("timetable variant %s: not found", v.URL())
			} else {
				c.log.Debug("timetable variant %s: %v", v.URL(), err)
			}
			lastErr = err
			continue
		}
		if env.Reload {
			return nil, &SessionExpired{Endpoint: v.URL()}
		}
		c.mu.Lock()
		c.preferred = i
		c.mu.Unlock()

		raw := env.rawItems()
		items := make([]TimetableItem, 0, len(raw))
		for _, r := range raw {
			items = append(items, normaliseItem(r))
		}
		return &TimetableResponse{Items: items, Variant: v}, nil
	}
	if first404 != "" {
		return nil, &EndpointNotFound{Message: first404, Tried: tried}
	}
	return nil, lastErr
}
