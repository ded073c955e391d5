package cookies

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// chromeEpochOffset is the number of seconds between 1601-01-01 and the Unix
// epoch.
const chromeEpochOffset int64 = 11_644_473_600

func chromeToTime(usec int64) time.Time {
	if usec == 0 {
		return time.Time{}
	}
	return time.Unix(usec/1_000_000-chromeEpochOffset, 0)
}

func timeToChrome(t time.Time) int64 {
	return (t.Unix() + chromeEpochOffset) * 1_000_000
}

func openSnapshot(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?immutable=1", path))
	if err != nil {
		return nil, fmt.Errorf("open cookie database: %w", err)
	}
	return db, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ParseFirefox reads unexpired cookies for host from a copy of a Firefox
// cookies.sqlite.
func ParseFirefox(dbPath, host string, now time.Time) ([]Cookie, error) {
	hosts := hostCandidates(host)
	if len(hosts) == 0 {
		return nil, nil
	}
	db, err := openSnapshot(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	args := make([]any, 0, len(hosts)+1)
	for _, h := range hosts {
		args = append(args, h)
	}
	args = append(args, now.Unix())
	rows, err := db.Query(`
        SELECT name, value, host, path, expiry, isSecure, isHttpOnly
        FROM moz_cookies
        WHERE host IN (`+placeholders(len(hosts))+`) AND expiry > ?
        ORDER BY path DESC, name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query firefox cookies: %w", err)
	}
	defer rows.Close()

	var out []Cookie
	for rows.Next() {
		var (
			c                Cookie
			expiry           int64
			secure, httpOnly int
		)
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &expiry, &secure, &httpOnly); err != nil {
			return nil, fmt.Errorf("scan firefox cookie: %w", err)
		}
		c.Expiry = time.Unix(expiry, 0)
		c.Secure = secure != 0
		c.HttpOnly = httpOnly != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firefox cookies: %w", err)
	}
	return out, nil
}

// ParseChrome reads cookies for host from a copy of a Chromium Cookies
// database. Rows whose value is only available encrypted are skipped;
// session rows (expires_utc 0) are kept.
func ParseChrome(dbPath, host string, now time.Time) ([]Cookie, error) {
	hosts := hostCandidates(host)
	if len(hosts) == 0 {
		return nil, nil
	}
	db, err := openSnapshot(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	args := make([]any, 0, len(hosts)+1)
	for _, h := range hosts {
		args = append(args, h)
	}
	args = append(args, timeToChrome(now))
	rows, err := db.Query(`
        SELECT name, value, host_key, path, expires_utc, is_secure, is_httponly
        FROM cookies
        WHERE host_key IN (`+placeholders(len(hosts))+`)
          AND value != ''
          AND (expires_utc = 0 OR expires_utc > ?)
        ORDER BY path DESC, name ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chrome cookies: %w", err)
	}
	defer rows.Close()

	var out []Cookie
	for rows.Next() {
		var (
			c                Cookie
			expires          int64
			secure, httpOnly int
		)
		if err := rows.Scan(&c.Name, &c.Value, &c.Domain, &c.Path, &expires, &secure, &httpOnly); err != nil {
			return nil, fmt.Errorf("scan chrome cookie: %w", err)
		}
		c.Expiry = chromeToTime(expires)
		c.Secure = secure != 0
		c.HttpOnly = httpOnly != 0
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chrome cookies: %w", err)
	}
	return out, nil
}
