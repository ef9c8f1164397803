package rewrite

import (
	"strings"
	"testing"

	"github.com/sandchat/sandchat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushAll(r *Rewriter, chunks ...string) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(r.Push(c))
	}
	sb.WriteString(r.Flush())
	return sb.String()
}

func TestRewriter_SingleChunk(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "see sandbox:/mnt/data/out.png for details")
	assert.Equal(t, "see https://x?container=abc&filename=out.png for details", out)
}

func TestRewriter_SplitAcrossChunks(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "see sandbox:/mnt/", "data/out.png done")
	assert.Equal(t, "see https://x?container=abc&filename=out.png done", out)
}

func TestRewriter_SplitInsideFilename(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "plot: sandbox:/mnt/data/fig", "ure-1.png\nmore text")
	assert.Equal(t, "plot: https://x?container=abc&filename=figure-1.png\nmore text", out)
}

func TestRewriter_ReferenceAtEndOfStream(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "download sandbox:/mnt/data/report.pdf")
	assert.Equal(t, "download https://x?container=abc&filename=report.pdf", out)
}

func TestRewriter_MultipleReferences(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "a sandbox:/mnt/data/a.txt and sandbox:/mnt/data/b.txt here")
	assert.Equal(t,
		"a https://x?container=abc&filename=a.txt and https://x?container=abc&filename=b.txt here",
		out)
}

func TestRewriter_FilenameIsURLEncoded(t *testing.T) {
	r := NewRewriter("https://x", "thread/1")
	out := pushAll(r, "get sandbox:/mnt/data/my%file.txt now")
	assert.Equal(t, "get https://x?container=thread%2F1&filename=my%25file.txt now", out)
}

func TestRewriter_TerminatorsEndTheName(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	out := pushAll(r, "(sandbox:/mnt/data/a.png) and 'sandbox:/mnt/data/b.png'")
	assert.Equal(t,
		"(https://x?container=abc&filename=a.png) and 'https://x?container=abc&filename=b.png'",
		out)
}

func TestRewriter_Idempotent(t *testing.T) {
	already := "see https://x?container=abc&filename=out.png for details"
	r := NewRewriter("https://x", "abc")
	assert.Equal(t, already, pushAll(r, already))
}

func TestRewriter_PlainTextPassesThrough(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	assert.Equal(t, "no references here", pushAll(r, "no references here"))
}

func TestRewriter_FalseStartFlushes(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	// "sandbox:" followed by something other than the virtual root is left alone.
	out := pushAll(r, "a sandbox:", "/tmp/other.txt b")
	assert.Equal(t, "a sandbox:/tmp/other.txt b", out)
}

func TestRewriter_OverlongReferenceIsNotHeldBack(t *testing.T) {
	r := NewRewriter("https://x", "abc")
	long := "sandbox:/mnt/data/" + strings.Repeat("a", 2*maxHold)

	// The name outgrew the lookback window, so the first chunk flushes
	// instead of buffering indefinitely.
	first := r.Push(long)
	assert.NotEmpty(t, first)

	out := first + r.Push(" end") + r.Flush()
	assert.Contains(t, out, strings.Repeat("a", 2*maxHold))
	assert.Contains(t, out, " end")
}

func TestTransform_PassesOtherEventsThrough(t *testing.T) {
	in := make(chan core.TurnEvent, 8)
	in <- core.TextDeltaEvent{Delta: "file at sandbox:/mnt/"}
	in <- core.ToolCallEvent{CallID: "c1", ToolName: "local_shell"}
	in <- core.TextDeltaEvent{Delta: "hello"}
	in <- core.FinishEvent{Reason: core.FinishStop}
	close(in)

	var events []core.TurnEvent
	for ev := range Transform(in, "https://x", "abc") {
		events = append(events, ev)
	}

	// Pending text flushes before the interleaving non-text event, so
	// ordering is preserved and nothing is dropped.
	require.Len(t, events, 4)
	assert.Equal(t, core.TextDeltaEvent{Delta: "file at sandbox:/mnt/"}, events[0])
	assert.Equal(t, core.ToolCallEvent{CallID: "c1", ToolName: "local_shell"}, events[1])
	assert.Equal(t, core.TextDeltaEvent{Delta: "hello"}, events[2])
	assert.Equal(t, core.FinishEvent{Reason: core.FinishStop}, events[3])
}

func TestTransform_RewritesAcrossChunks(t *testing.T) {
	in := make(chan core.TurnEvent, 8)
	in <- core.TextDeltaEvent{Delta: "see sandbox:/mnt/data/ou"}
	in <- core.TextDeltaEvent{Delta: "t.png for details"}
	in <- core.FinishEvent{Reason: core.FinishStop}
	close(in)

	var text strings.Builder
	var sawFinish bool
	for ev := range Transform(in, "https://x", "abc") {
		switch e := ev.(type) {
		case core.TextDeltaEvent:
			text.WriteString(e.Delta)
		case core.FinishEvent:
			sawFinish = true
		}
	}
	assert.True(t, sawFinish)
	assert.Equal(t, "see https://x?container=abc&filename=out.png for details", text.String())
}
