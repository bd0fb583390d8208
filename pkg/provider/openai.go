package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/echoear/voicegate/pkg/audio"
)

// Default models for OpenAI-compatible endpoints that do not pin one.
const (
	defaultChatModel       = "gpt-4o-mini"
	defaultTranscribeModel = string(openai.AudioModelWhisper1)
	defaultSpeechModel     = string(openai.SpeechModelTTS1)
	defaultSpeechVoice     = "alloy"
)

// OpenAI adapts any OpenAI-compatible endpoint — the user-operated endpoint
// or the default cloud fallback — to all three capabilities: whisper
// transcription, chat completions, and speech synthesis.
type OpenAI struct {
	name     string
	endpoint Endpoint
	client   openai.Client
}

// NewOpenAI creates an adapter for the given endpoint. An empty BaseURL
// targets the platform default.
func NewOpenAI(name string, ep Endpoint) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(ep.APIKey)}
	if ep.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ep.BaseURL))
	}
	return &OpenAI{name: name, endpoint: ep, client: openai.NewClient(opts...)}
}

// Name implements Provider.
func (p *OpenAI) Name() string { return p.name }

// Call implements Provider.
func (p *OpenAI) Call(ctx context.Context, cap Capability, req *Request) (*Response, error) {
	switch cap {
	case Transcribe:
		return p.transcribe(ctx, req)
	case Chat:
		return p.chat(ctx, req)
	case Synthesize:
		return p.synthesize(ctx, req)
	default:
		return nil, fmt.Errorf("openai %s: %s: %w", p.name, cap, ErrUnsupported)
	}
}

func (p *OpenAI) transcribe(ctx context.Context, req *Request) (*Response, error) {
	model := p.endpoint.Model
	if model == "" {
		model = defaultTranscribeModel
	}
	wav := audio.WAV(req.Audio, req.Format)
	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(model),
		File:  openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	})
	if err != nil {
		return nil, fmt.Errorf("openai %s: transcribe: %w", p.name, err)
	}
	return &Response{Text: resp.Text}, nil
}

func (p *OpenAI) chat(ctx context.Context, req *Request) (*Response, error) {
	model := p.endpoint.Model
	if model == "" {
		model = defaultChatModel
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("openai %s: chat: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai %s: chat returned no choices", p.name)
	}
	return &Response{Text: resp.Choices[0].Message.Content}, nil
}

func (p *OpenAI) synthesize(ctx context.Context, req *Request) (*Response, error) {
	model := p.endpoint.Model
	if model == "" {
		model = defaultSpeechModel
	}
	voice := req.Voice
	if voice == "" {
		voice = p.endpoint.Voice
	}
	if voice == "" {
		voice = defaultSpeechVoice
	}

	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(model),
		Input:          req.Text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai %s: synthesize: %w", p.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai %s: read audio: %w", p.name, err)
	}
	return &Response{Audio: data}, nil
}
