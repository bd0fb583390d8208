// Package audio provides the frame-level audio primitives for the voice
// gateway: the PCM format negotiated at handshake, the opaque codec boundary
// for compressed device frames, the capture buffer that accumulates utterance
// and meeting audio, and time-based segmentation of captured audio.
package audio

import "time"

// Format describes the linear PCM format agreed with the device at
// handshake time. Samples are signed 16-bit little-endian.
type Format struct {
	// SampleRate is the sample rate in Hz.
	SampleRate int
	// Channels is the number of interleaved channels.
	Channels int
}

// L16Mono16K is the default device format: audio/L16; rate=16000; channels=1.
var L16Mono16K = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether the format carries a usable rate and channel count.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// BytesInDuration returns the number of PCM bytes spanning d.
func (f Format) BytesInDuration(d time.Duration) int {
	samples := int64(time.Duration(f.SampleRate) * d / time.Second)
	return int(samples) * f.Channels * 2
}

// Duration returns the play time of the given number of PCM bytes.
func (f Format) Duration(bytes int) time.Duration {
	if f.BytesPerSecond() == 0 {
		return 0
	}
	samples := bytes / (f.Channels * 2)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
