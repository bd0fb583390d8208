package audio

import "time"

// Segment slices pcm into fixed-duration windows. All windows but the last
// span exactly window of audio; the last carries the remainder. The cuts are
// purely time-based with no silence adjustment, so a buffer of duration D
// yields ceil(D/window) segments.
//
// The returned slices alias pcm.
func Segment(pcm []byte, format Format, window time.Duration) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	size := format.BytesInDuration(window)
	if size <= 0 || size >= len(pcm) {
		return [][]byte{pcm}
	}
	segs := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		segs = append(segs, pcm[off:end])
	}
	return segs
}
