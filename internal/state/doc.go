// Package state is the typed key/value store the sync cycle writes its
// results to. Keys are dotted paths such as "today.lessons.0.subject".
// Every key must be declared with a Definition before it is written.
package state
