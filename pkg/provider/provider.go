// Package provider resolves AI capability calls (transcribe, chat,
// synthesize) to an ordered chain of upstream providers and executes them
// with fallback. A chain is built once from configuration and is immutable
// afterwards; execution walks the chain in order and stops at the first
// success.
package provider

import (
	"context"

	"github.com/echoear/voicegate/pkg/audio"
)

// Capability is one abstract AI operation, decoupled from the provider that
// ultimately serves it.
type Capability int

const (
	// Transcribe converts audio to text (ASR).
	Transcribe Capability = iota
	// Chat routes a message history through a language model.
	Chat
	// Synthesize converts text to audio (TTS).
	Synthesize
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case Transcribe:
		return "transcribe"
	case Chat:
		return "chat"
	case Synthesize:
		return "synthesize"
	default:
		return "unknown"
	}
}

// Message is one turn of a chat history.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request carries the input of one capability call. Only the fields
// relevant to the requested capability are set.
type Request struct {
	// Audio and Format are set for Transcribe.
	Audio  []byte
	Format audio.Format

	// Messages is set for Chat.
	Messages []Message

	// Text and Voice are set for Synthesize.
	Text  string
	Voice string
}

// Response carries the output of one capability call.
type Response struct {
	// Text is set by Transcribe and Chat.
	Text string
	// Audio is set by Synthesize.
	Audio []byte
}

// Provider is one upstream endpoint able to serve capability calls.
// Implementations are stateless request/response adapters; one adapter
// exists per provider kind (local plugin, user endpoint, default cloud).
type Provider interface {
	// Name identifies the provider in attempt records and logs.
	Name() string

	// Call executes one capability request. The context carries the
	// per-call timeout; implementations must honor cancellation.
	Call(ctx context.Context, cap Capability, req *Request) (*Response, error)
}
