// Package portal talks to an EduPage-style school portal.
//
// A Client owns one Session (cookie jar + origin) for the process lifetime
// and exposes the pieces of a sync cycle: the login Handshake, the page
// warm-up that establishes server-side session flags, the TokenResolver for
// the rotating session token and the TimetableClient that probes the known
// spellings of the timetable endpoint.
//
// The portal's legacy RPC layer expects requests wrapped by
// package envelope; whether login calls are wrapped, sent as plain form
// fields or as JSON is an Options choice.
package portal
