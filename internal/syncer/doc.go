// Package syncer runs one portal fetch cycle at a time: handshake, warm-up,
// token resolution and timetable retrieval, then maps the result onto the
// state store. It owns the captcha backoff.
package syncer
