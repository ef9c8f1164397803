// Package rewrite transforms sandbox file references in streamed assistant
// text into absolute download URLs the browser can fetch.
package rewrite

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sandchat/sandchat/core"
)

const marker = "sandbox:/mnt/data/"

// maxHold bounds how many trailing bytes may be held back waiting for a
// reference to complete. A reference longer than this is flushed unrewritten
// rather than buffered indefinitely.
const maxHold = 256

var refPattern = regexp.MustCompile(`sandbox:/mnt/data/([^\s)'"]+)`)

// Rewriter is a stateful streaming transform over text deltas. References of
// the form sandbox:/mnt/data/<name> become
// <baseURL>?container=<containerID>&filename=<urlEncodedName>.
//
// A reference split across delta boundaries is handled by holding back the
// longest suffix that could still become a reference; everything else flushes
// immediately. Already rewritten URLs never match again, so the transform is
// idempotent. Not safe for concurrent use; create one per turn.
type Rewriter struct {
	baseURL     string
	containerID string
	pending     string
}

// NewRewriter creates a rewriter for one turn's stream.
func NewRewriter(baseURL, containerID string) *Rewriter {
	return &Rewriter{baseURL: baseURL, containerID: containerID}
}

// Push accepts the next text delta and returns the text safe to emit now.
// The returned string may be empty while a potential reference is pending.
func (r *Rewriter) Push(delta string) string {
	s := r.pending + delta
	cut := len(s)

	start := 0
	if len(s) > maxHold {
		start = len(s) - maxHold
	}
	for i := start; i < len(s); i++ {
		tail := s[i:]
		if len(tail) < len(marker) {
			if strings.HasPrefix(marker, tail) {
				cut = i
				break
			}
			continue
		}
		if strings.HasPrefix(tail, marker) && !strings.ContainsAny(tail[len(marker):], " \t\n\r)'\"") {
			cut = i
			break
		}
	}

	r.pending = s[cut:]
	return r.rewrite(s[:cut])
}

// Flush returns any held-back text, rewriting a reference that completed at
// end of stream. Call when the stream ends or a non-text event interleaves.
func (r *Rewriter) Flush() string {
	out := r.rewrite(r.pending)
	r.pending = ""
	return out
}

func (r *Rewriter) rewrite(s string) string {
	if !strings.Contains(s, marker) {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, marker)
		return fmt.Sprintf("%s?container=%s&filename=%s",
			r.baseURL, url.QueryEscape(r.containerID), url.QueryEscape(name))
	})
}

// Transform applies the rewriter to an event stream. Text deltas are
// rewritten; every other event type passes through byte-for-byte, flushing
// any pending text first so ordering is preserved.
func Transform(in <-chan core.TurnEvent, baseURL, containerID string) <-chan core.TurnEvent {
	out := make(chan core.TurnEvent, 16)
	r := NewRewriter(baseURL, containerID)

	go func() {
		defer close(out)
		for ev := range in {
			if delta, ok := ev.(core.TextDeltaEvent); ok {
				if text := r.Push(delta.Delta); text != "" {
					out <- core.TextDeltaEvent{Delta: text}
				}
				continue
			}
			if text := r.Flush(); text != "" {
				out <- core.TextDeltaEvent{Delta: text}
			}
			out <- ev
		}
		if text := r.Flush(); text != "" {
			out <- core.TextDeltaEvent{Delta: text}
		}
	}()

	return out
}
