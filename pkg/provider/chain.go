package provider

import (
	"errors"
	"fmt"
)

// Mode selects which provider chains are populated with user-controlled
// versus default endpoints.
type Mode string

const (
	// ModeFull routes every capability to the user-configured endpoint.
	ModeFull Mode = "full"
	// ModeHybrid routes chat to the user endpoint only, and ASR/TTS
	// through plugin, user endpoint, and default fallback in that order.
	ModeHybrid Mode = "hybrid"
	// ModeCloud routes every capability to the default endpoint.
	// An empty mode resolves as cloud.
	ModeCloud Mode = "cloud"
)

// Endpoint describes one named provider endpoint.
type Endpoint struct {
	// BaseURL is the endpoint address. Required.
	BaseURL string `yaml:"base_url"`
	// APIKey is the credential sent to the endpoint, if any.
	APIKey string `yaml:"api_key"`
	// Model selects the model served by the endpoint.
	Model string `yaml:"model"`
	// Voice selects the synthesis voice, for TTS-capable endpoints.
	Voice string `yaml:"voice"`
}

// Config describes how chains are built for one session.
type Config struct {
	// Mode selects the resolution strategy. Empty means cloud.
	Mode Mode `yaml:"mode"`

	// DisableFallback omits the default endpoint from ASR/TTS chains
	// in hybrid mode.
	DisableFallback bool `yaml:"disable_fallback"`

	// User is the user-operated OpenAI-compatible endpoint.
	User *Endpoint `yaml:"user"`

	// ASRPlugin and TTSPlugin are local low-latency plugin endpoints.
	ASRPlugin *Endpoint `yaml:"asr_plugin"`
	TTSPlugin *Endpoint `yaml:"tts_plugin"`

	// Default is the default remote endpoint (OpenAI-compatible).
	Default *Endpoint `yaml:"default"`

	// DefaultChat optionally overrides the default chain's chat provider
	// with a Gemini endpoint.
	DefaultChat *Endpoint `yaml:"default_chat"`
}

// Chains is the per-capability provider resolution for one session.
// It is immutable after construction and safe for concurrent reads.
type Chains map[Capability][]Provider

// Chain building errors.
var (
	ErrNoUserEndpoint    = errors.New("provider: mode requires a user endpoint")
	ErrNoDefaultEndpoint = errors.New("provider: mode requires a default endpoint")
)

// BuildChains resolves the configuration into per-capability chains.
//
// full:   every capability -> [user].
// hybrid: chat -> [user] with no fallback; transcribe/synthesize ->
//         [plugin?, user?, default] with default omitted when fallback is
//         disabled.
// cloud:  every capability -> [default], chat optionally served by the
//         configured Gemini endpoint.
func BuildChains(cfg Config) (Chains, error) {
	switch cfg.Mode {
	case ModeFull:
		if cfg.User == nil {
			return nil, fmt.Errorf("%w (mode=full)", ErrNoUserEndpoint)
		}
		user := NewOpenAI("user", *cfg.User)
		return Chains{
			Transcribe: {user},
			Chat:       {user},
			Synthesize: {user},
		}, nil

	case ModeHybrid:
		if cfg.User == nil {
			return nil, fmt.Errorf("%w (mode=hybrid)", ErrNoUserEndpoint)
		}
		user := NewOpenAI("user", *cfg.User)

		speech := func(plugin *Endpoint) []Provider {
			var chain []Provider
			if plugin != nil {
				chain = append(chain, NewPlugin("plugin", *plugin))
			}
			chain = append(chain, user)
			if !cfg.DisableFallback {
				if cfg.Default == nil {
					return nil
				}
				chain = append(chain, NewOpenAI("default", *cfg.Default))
			}
			return chain
		}

		asr := speech(cfg.ASRPlugin)
		tts := speech(cfg.TTSPlugin)
		if asr == nil || tts == nil {
			return nil, fmt.Errorf("%w (mode=hybrid with fallback enabled)", ErrNoDefaultEndpoint)
		}
		return Chains{
			Transcribe: asr,
			// Hybrid's premise is user-controlled reasoning; a broken
			// chat endpoint is a hard failure, never a fallback.
			Chat:       {user},
			Synthesize: tts,
		}, nil

	case ModeCloud, "":
		if cfg.Default == nil {
			return nil, fmt.Errorf("%w (mode=cloud)", ErrNoDefaultEndpoint)
		}
		def := NewOpenAI("default", *cfg.Default)
		chat := Provider(def)
		if cfg.DefaultChat != nil {
			chat = NewGemini("default-chat", *cfg.DefaultChat)
		}
		return Chains{
			Transcribe: {def},
			Chat:       {chat},
			Synthesize: {def},
		}, nil

	default:
		return nil, fmt.Errorf("provider: unknown mode %q", cfg.Mode)
	}
}
