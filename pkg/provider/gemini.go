package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// defaultGeminiModel serves chat when the endpoint does not pin one.
const defaultGeminiModel = "gemini-2.0-flash"

// Gemini adapts a Gemini endpoint to the chat capability. It serves as an
// alternative default chat backend; transcribe and synthesize are not
// routed here.
type Gemini struct {
	name     string
	endpoint Endpoint

	newClient func(ctx context.Context) (*genai.Client, error)

	mu     sync.Mutex
	client *genai.Client
}

// NewGemini creates a Gemini chat adapter.
func NewGemini(name string, ep Endpoint) *Gemini {
	return &Gemini{
		name:     name,
		endpoint: ep,
		newClient: func(ctx context.Context) (*genai.Client, error) {
			return genai.NewClient(ctx, &genai.ClientConfig{APIKey: ep.APIKey})
		},
	}
}

// Name implements Provider.
func (p *Gemini) Name() string { return p.name }

// getClient creates the client on first use. Failures are not cached: a
// canceled context or transient network error on one call must not disable
// the provider until the next one.
func (p *Gemini) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		c, err := p.newClient(ctx)
		if err != nil {
			return nil, err
		}
		p.client = c
	}
	return p.client, nil
}

// Call implements Provider.
func (p *Gemini) Call(ctx context.Context, cap Capability, req *Request) (*Response, error) {
	if cap != Chat {
		return nil, fmt.Errorf("gemini %s: %s: %w", p.name, cap, ErrUnsupported)
	}

	client, err := p.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: client: %w", p.name, err)
	}

	model := p.endpoint.Model
	if model == "" {
		model = defaultGeminiModel
	}

	var cfg *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			cfg = &genai.GenerateContentConfig{
				SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: m.Content}}},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: generate: %w", p.name, err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("gemini %s: empty response", p.name)
	}
	return &Response{Text: sb.String()}, nil
}
