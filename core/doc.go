// Package core defines the shared data model for sandchat turns: conversation
// messages and their polymorphic parts, the events a turn emits while it is
// running, token usage accounting and the immutable per-turn context.
//
// Everything in this package is transport agnostic. The wire encoding used by
// the HTTP layer lives in the stream package; the JSON shapes defined here
// cover the request side (clients post full message histories).
package core
