package cookies

import (
	"bufio"
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteMagic = []byte("SQLite format 3\x00")

// ErrUnsupported is returned for files that are not a known cookie store.
var ErrUnsupported = errors.New("unsupported cookie store")

// DetectFormat sniffs the cookie store at path.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FormatUnknown, err
	}
	if info.IsDir() {
		return FormatUnknown, fmt.Errorf("%s is a directory, expected a cookie file or \"auto\"", path)
	}

	br := bufio.NewReader(f)
	header, err := br.Peek(len(sqliteMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatUnknown, fmt.Errorf("read cookie file: %w", err)
	}
	if len(header) == 0 {
		return FormatUnknown, fmt.Errorf("cookie file %s is empty", path)
	}
	if bytes.Equal(header, sqliteMagic) {
		return detectSchema(path)
	}

	first, _ := br.ReadString('\n')
	first = strings.TrimRight(first, "\r\n")
	if first == "# Netscape HTTP Cookie File" || first == "# HTTP Cookie File" {
		return FormatNetscape, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupported, path)
}

func detectSchema(path string) (Format, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return FormatUnknown, fmt.Errorf("open cookie database: %w", err)
	}
	defer db.Close()

	for _, probe := range []struct {
		table  string
		format Format
	}{
		{"moz_cookies", FormatFirefox},
		{"cookies", FormatChrome},
	} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, probe.table).Scan(&name)
		if err == nil {
			return probe.format, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return FormatUnknown, fmt.Errorf("inspect cookie database: %w", err)
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupported, path)
}
