package cookies

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edupoll/edupoll/pkg/logger"
	"github.com/edupoll/edupoll/pkg/portal"
)

// Auto selects the first browser store found in the usual locations.
const Auto = "auto"

// ErrNoStore is returned by auto detection when no browser store exists.
var ErrNoStore = errors.New("no supported browser cookie store found")

// Importer reads cookie stores for one host.
type Importer struct {
	log    logger.Logger
	now    func() time.Time
	stores func() []store
}

// NewImporter returns an Importer that logs to l.
func NewImporter(l logger.Logger) *Importer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Importer{log: l, now: time.Now, stores: defaultStores}
}

// Import reads the cookies for host from path, or from the first browser
// store found when path is "auto".
func (im *Importer) Import(path, host string) ([]Cookie, *Source, error) {
	if strings.EqualFold(path, Auto) {
		return im.detect(host)
	}
	return im.importFile(path, host)
}

func (im *Importer) detect(host string) ([]Cookie, *Source, error) {
	var tried []string
	for _, s := range im.stores() {
		path := s.resolve()
		if path == "" {
			continue
		}
		cookies, src, err := im.importFile(path, host)
		if err != nil {
			im.log.Debug("cookies: %s store unusable: %v", s.Browser, err)
			tried = append(tried, s.Browser)
			continue
		}
		src.Browser = s.Browser
		return cookies, src, nil
	}
	if len(tried) > 0 {
		return nil, nil, fmt.Errorf("%w (unreadable: %s)", ErrNoStore, strings.Join(tried, ", "))
	}
	return nil, nil, ErrNoStore
}

func (im *Importer) importFile(path, host string) ([]Cookie, *Source, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}
	src := &Source{Path: path, Format: format}
	now := im.now()

	var cookies []Cookie
	switch format {
	case FormatFirefox, FormatChrome:
		parse := ParseFirefox
		src.Browser = "Firefox"
		if format == FormatChrome {
			parse = ParseChrome
			src.Browser = "Chrome"
		}
		copyPath, cleanup, err := snapshot(path)
		if err != nil {
			return nil, nil, err
		}
		defer cleanup()
		cookies, err = parse(copyPath, host, now)
		if err != nil {
			return nil, nil, err
		}
	case FormatNetscape:
		src.Browser = "Netscape"
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open cookie file: %w", err)
		}
		defer f.Close()
		cookies, err = ParseNetscape(f, host, now, im.log)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}
	return cookies, src, nil
}

// Seed imports cookies for the session's host into its jar and returns how
// many were added.
func (im *Importer) Seed(s *portal.Session, path string) (int, *Source, error) {
	cookies, src, err := im.Import(path, s.Origin.Hostname())
	if err != nil {
		return 0, nil, err
	}
	n := s.SeedCookies(ToHTTP(cookies))
	im.log.Info("cookies: imported %d cookie(s) from %s: %s", n, src.Browser, strings.Join(Names(cookies), ", "))
	return n, src, nil
}
