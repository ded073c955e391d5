package portal

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// captchaPhrases are the English and German fragments the portal uses when
// it wants a captcha solved or flags a login as suspicious.
var captchaPhrases = []string{
	"captcha",
	"suspicious activity",
	"suspicious",
	"verify the text in the image",
	"verdächt",
	"zusätzlich überprüfen",
	"text aus dem bild",
}

var folder = cases.Fold()

func foldText(s string) string {
	return folder.String(norm.NFC.String(s))
}

var foldedPhrases = func() []string {
	out := make([]string, len(captchaPhrases))
	for i, p := range captchaPhrases {
		out[i] = foldText(p)
	}
	return out
}()

// CaptchaPhrase returns the first known captcha phrase contained in text,
// ignoring case and Unicode composition.
func CaptchaPhrase(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	t := foldText(text)
	for i, p := range foldedPhrases {
		if strings.Contains(t, p) {
			return captchaPhrases[i], true
		}
	}
	return "", false
}

// DetectCaptcha inspects one login answer. The explicit flag and the image
// URL take precedence over the textual match. A nil result means no
// captcha signal.
func DetectCaptcha(s *Session, text string, needCaptcha bool, captchaSrc string) *CaptchaRequired {
	src := strings.TrimSpace(captchaSrc)
	if needCaptcha || src != "" {
		reason := "needCaptcha"
		if !needCaptcha {
			reason = "captchaSrc"
		}
		return &CaptchaRequired{URL: s.AbsoluteURL(src), Reason: reason}
	}
	if _, ok := CaptchaPhrase(text); ok {
		return &CaptchaRequired{Reason: strings.TrimSpace(text)}
	}
	return nil
}
