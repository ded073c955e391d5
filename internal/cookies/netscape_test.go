package cookies

import (
	"strings"
	"testing"
	"time"

	"github.com/edupoll/edupoll/pkg/logger"
)

func TestParseNetscape(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	future := "1900000000"
	input := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		"",
		"#HttpOnly_myschool.edupage.org\tFALSE\t/\tTRUE\t" + future + "\tPHPSESSID\ts1",
		".edupage.org\tTRUE\t/\tFALSE\t0\tedu_lang\tsk\r",
		"edupage.org\tTRUE\t/\tFALSE\t0\tshared\tv",
		"edupage.org\tFALSE\t/\tFALSE\t0\tparentonly\tv",
		"myschool.edupage.org\tFALSE\t/\tFALSE\t1000\texpired\tv",
		"broken line",
		"myschool.edupage.org\tFALSE\t/\tFALSE\tsoon\tbadexpiry\tv",
	}, "\n")
	log := logger.NewMockLogger()

	cookies, err := ParseNetscape(strings.NewReader(input), host, now, log)
	if err != nil {
		t.Fatalf("ParseNetscape: %v", err)
	}
	got := byName(cookies)
	if len(got) != 3 {
		t.Fatalf("expected PHPSESSID, edu_lang and shared, got %v", Names(cookies))
	}
	sid := got["PHPSESSID"]
	if !sid.HttpOnly || !sid.Secure || !sid.HostOnly() || sid.Expiry.Unix() != 1900000000 {
		t.Fatalf("unexpected PHPSESSID: %+v", sid)
	}
	if got["shared"].Domain != ".edupage.org" {
		t.Fatalf("subdomain flag should add a leading dot, got %q", got["shared"].Domain)
	}
	if !got["edu_lang"].Expiry.IsZero() {
		t.Fatal("expiry 0 should be a session cookie")
	}
	if !log.Contains("line 8") || !log.Contains("line 9") {
		t.Fatalf("expected warnings naming the skipped lines, got %v", log.WarningCalls)
	}
	if log.Contains("s1") {
		t.Fatal("cookie value leaked into the log")
	}
}

func TestParseNetscape_Empty(t *testing.T) {
	cookies, err := ParseNetscape(strings.NewReader(""), host, time.Now(), nil)
	if err != nil {
		t.Fatalf("ParseNetscape: %v", err)
	}
	if len(cookies) != 0 {
		t.Fatalf("expected no cookies, got %d", len(cookies))
	}
}
