package audio

import (
	"errors"
	"time"
)

// ErrCaptureFull is returned by Append when the buffer's duration limit
// would be exceeded.
var ErrCaptureFull = errors.New("audio: capture buffer full")

// Capture accumulates decoded PCM audio for one utterance or one meeting.
// Growth is explicit: the buffer tracks its byte length and play duration,
// and an optional duration limit bounds accumulation.
//
// Capture is owned by a single session and is not safe for concurrent use.
type Capture struct {
	format Format
	limit  time.Duration
	buf    []byte
}

// NewCapture creates a capture buffer for the given format.
// A zero limit means unbounded accumulation.
func NewCapture(format Format, limit time.Duration) *Capture {
	return &Capture{format: format, limit: limit}
}

// Append appends PCM bytes to the buffer. Appending an empty slice is a
// no-op. Returns ErrCaptureFull when the configured limit would be exceeded;
// the buffer is left unchanged in that case.
func (c *Capture) Append(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if c.limit > 0 && c.format.Duration(len(c.buf)+len(pcm)) > c.limit {
		return ErrCaptureFull
	}
	c.buf = append(c.buf, pcm...)
	return nil
}

// Len returns the number of buffered PCM bytes.
func (c *Capture) Len() int { return len(c.buf) }

// Duration returns the play time of the buffered audio.
func (c *Capture) Duration() time.Duration {
	return c.format.Duration(len(c.buf))
}

// Format returns the buffer's PCM format.
func (c *Capture) Format() Format { return c.format }

// Bytes returns the buffered audio. The returned slice is owned by the
// buffer; the caller must not retain it across a Reset.
func (c *Capture) Bytes() []byte { return c.buf }

// Take returns the buffered audio and resets the buffer, transferring
// ownership of the returned slice to the caller.
func (c *Capture) Take() []byte {
	b := c.buf
	c.buf = nil
	return b
}

// Reset discards all buffered audio.
func (c *Capture) Reset() { c.buf = nil }
