package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sandchat/sandchat/core"
)

// doneSentinel terminates the event stream after the finish frame.
const doneSentinel = "[DONE]"

// Serializer writes turn events to an HTTP response as server-sent events
// (data-only frames). Writes go straight to the response and flush per frame,
// so a slow client applies backpressure to the producer instead of growing a
// buffer.
type Serializer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSerializer prepares w for streaming and returns a serializer. The
// response writer must support flushing.
func NewSerializer(w http.ResponseWriter) (*Serializer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Serializer{w: w, flusher: flusher}, nil
}

// Serialize consumes events until the channel closes, framing each as it
// arrives. A start frame carrying a fresh message id precedes everything; the
// done sentinel follows the finish frame.
func (s *Serializer) Serialize(events <-chan core.TurnEvent) error {
	if err := s.writeFrame(Frame{Type: FrameStart, MessageID: core.NewID()}); err != nil {
		return err
	}

	for ev := range events {
		frame, err := FromEvent(ev)
		if err != nil {
			return err
		}
		if err := s.writeFrame(frame); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", doneSentinel); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Serializer) writeFrame(frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ParseFrames reads data-only SSE frames until the done sentinel or EOF.
// Mainly used by tests and client tooling.
func ParseFrames(r io.Reader) ([]Frame, error) {
	var frames []Frame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == doneSentinel {
			break
		}
		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return nil, fmt.Errorf("parse frame: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, scanner.Err()
}
