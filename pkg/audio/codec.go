package audio

import "time"

// Codec converts between device wire frames and linear PCM. The compression
// scheme itself is an opaque boundary: the gateway never inspects encoded
// payloads, it only moves them across the decode/encode seam.
//
// Implementations must be safe for use from a single session goroutine;
// they are not shared across sessions.
type Codec interface {
	// Decode converts one wire frame into PCM bytes.
	// An empty frame decodes to an empty slice, never an error.
	Decode(frame []byte) ([]byte, error)

	// Encode converts PCM bytes into a sequence of wire frames of the
	// given frame duration. The final frame may span less audio.
	Encode(pcm []byte, frame time.Duration) ([][]byte, error)
}

// PCM16 is the identity codec for devices that stream raw L16 audio.
// Decode is a pass-through; Encode slices PCM into fixed-duration frames.
type PCM16 struct {
	Format Format
}

// Decode returns the frame unchanged.
func (c PCM16) Decode(frame []byte) ([]byte, error) {
	return frame, nil
}

// Encode slices pcm into frames of the given duration.
func (c PCM16) Encode(pcm []byte, frame time.Duration) ([][]byte, error) {
	size := c.Format.BytesInDuration(frame)
	if size <= 0 {
		size = len(pcm)
	}
	var frames [][]byte
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		frames = append(frames, pcm[off:end])
	}
	return frames, nil
}
