// Package cookies imports portal cookies from a browser profile so a session
// started in a browser (for example after solving a captcha there) continues
// in the poller. Firefox and Chrome SQLite stores and Netscape cookie files
// are supported; "auto" scans the usual browser profile locations.
//
// Cookie values go straight into the session jar. They are never logged.
package cookies
