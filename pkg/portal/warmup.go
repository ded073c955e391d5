package portal

import (
	"context"
	"fmt"

	"github.com/edupoll/edupoll/pkg/logger"
)

// DefaultWarmUpPages is the page chain a browser loads before the timetable
// endpoint accepts requests. The last page is required.
var DefaultWarmUpPages = []string{"/", "/user/", "/timetable/"}

// WarmUpResult describes a finished warm-up chain.
type WarmUpResult struct {
	Pages    []string
	FinalURL string
	HTML     string
}

// Warmer replays the browser page chain on the shared transport.
type Warmer struct {
	transport *Transport
	pages     []string
	log       logger.Logger
}

// NewWarmer returns a Warmer for pages, or DefaultWarmUpPages when empty.
func NewWarmer(t *Transport, pages []string, log logger.Logger) *Warmer {
	if len(pages) == 0 {
		pages = DefaultWarmUpPages
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Warmer{transport: t, pages: append([]string(nil), pages...), log: log}
}

// Pages returns the configured chain.
func (w *Warmer) Pages() []string { return append([]string(nil), w.pages...) }

// WarmUp GETs every page in order with the previous page as Referer.
// Failures on intermediate pages are logged and skipped; a failure on the
// last page is returned.
func (w *Warmer) WarmUp(ctx context.Context) (*WarmUpResult, error) {
	res := &WarmUpResult{}
	referer := ""
	last := len(w.pages) - 1
	for i, path := range w.pages {
		headers := map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		}
		if referer != "" {
			headers["Referer"] = referer
		}
		page, err := w.transport.GetPage(ctx, path, headers)
		if err != nil {
			if i == last {
				return res, fmt.Errorf("warm-up %s: %w", path, err)
			}
			w.log.Debug("warm-up page %s skipped: %v", path, err)
			continue
		}
		res.Pages = append(res.Pages, path)
		res.FinalURL = page.URL
		res.HTML = string(page.Body)
		referer = page.URL
	}
	return res, nil
}
