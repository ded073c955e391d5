package cookies

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/edupoll/edupoll/pkg/logger"
)

const httpOnlyPrefix = "#HttpOnly_"

// ParseNetscape reads cookies for host from a cookies.txt stream. Malformed
// lines are skipped with a warning that names the line number only.
func ParseNetscape(r io.Reader, host string, now time.Time, log logger.Logger) ([]Cookie, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	var out []Cookie
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = line[len(httpOnlyPrefix):]
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			log.Warning("cookies: skipping malformed line %d (%d fields)", lineNo, len(fields))
			continue
		}
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			log.Warning("cookies: skipping line %d with invalid expiry", lineNo)
			continue
		}

		domain := strings.ToLower(fields[0])
		if strings.EqualFold(fields[1], "TRUE") {
			if !strings.HasPrefix(domain, ".") {
				domain = "." + domain
			}
		} else {
			domain = strings.TrimPrefix(domain, ".")
		}
		if !appliesTo(domain, host) {
			continue
		}

		c := Cookie{
			Name:     fields[5],
			Value:    fields[6],
			Domain:   domain,
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			HttpOnly: httpOnly,
		}
		if expiry > 0 {
			c.Expiry = time.Unix(expiry, 0)
			if c.Expiry.Before(now) {
				continue
			}
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return out, nil
}
