package portal

import (
	"regexp"

	"github.com/edupoll/edupoll/pkg/logger"
)

// DefaultRequiredCookie is the session cookie the timetable endpoint needs.
const DefaultRequiredCookie = "PHPSESSID"

func cookieAssignment(name string) *regexp.Regexp {
	return regexp.MustCompile(`document\.cookie\s*=\s*["']` + regexp.QuoteMeta(name) + `=([^;"']+)`)
}

// RepairCookie injects the required cookie at the parent domain when the
// server set it only through script in html. It returns true when the
// cookie is present afterwards. Nothing is returned as an error; a failed
// repair is logged and the next data call is expected to ask for a reload.
func RepairCookie(s *Session, name, html string, log logger.Logger) bool {
	if name == "" {
		name = DefaultRequiredCookie
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if s.HasCookie(name) {
		return true
	}
	m := cookieAssignment(name).FindStringSubmatch(html)
	if m == nil {
		log.Warning("cookie %s missing after warm-up and not found in page (stored: %v)", name, s.CookieNames())
		return false
	}
	s.SetParentCookie(name, m[1])
	if !s.HasCookie(name) {
		log.Warning("cookie %s could not be stored for %s", name, s.ParentDomain)
		return false
	}
	log.Info("repaired cookie %s for .%s", name, s.ParentDomain)
	return true
}
