package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// Plugin is the adapter for a local low-latency speech plugin. The plugin
// exposes plain HTTP endpoints: POST {base}/asr accepting multipart PCM and
// returning {"text": ...}, and POST {base}/tts accepting {"text","voice"}
// and returning raw audio bytes. Plugins never serve chat.
type Plugin struct {
	name     string
	endpoint Endpoint
	client   *http.Client
}

// NewPlugin creates a plugin adapter for the given endpoint.
func NewPlugin(name string, ep Endpoint) *Plugin {
	return &Plugin{name: name, endpoint: ep, client: http.DefaultClient}
}

// Name implements Provider.
func (p *Plugin) Name() string { return p.name }

// Call implements Provider.
func (p *Plugin) Call(ctx context.Context, cap Capability, req *Request) (*Response, error) {
	switch cap {
	case Transcribe:
		return p.transcribe(ctx, req)
	case Synthesize:
		return p.synthesize(ctx, req)
	default:
		return nil, fmt.Errorf("plugin %s: %s: %w", p.name, cap, ErrUnsupported)
	}
}

func (p *Plugin) transcribe(ctx context.Context, req *Request) (*Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.pcm")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, err
	}
	mw.WriteField("rate", strconv.Itoa(req.Format.SampleRate))
	mw.WriteField("channels", strconv.Itoa(req.Format.Channels))
	if err := mw.Close(); err != nil {
		return nil, err
	}

	respBody, err := p.post(ctx, "/asr", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("plugin %s: decode asr response: %w", p.name, err)
	}
	return &Response{Text: out.Text}, nil
}

func (p *Plugin) synthesize(ctx context.Context, req *Request) (*Response, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.endpoint.Voice
	}
	payload, err := json.Marshal(map[string]string{
		"text":  req.Text,
		"voice": voice,
	})
	if err != nil {
		return nil, err
	}

	respBody, err := p.post(ctx, "/tts", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	return &Response{Audio: respBody}, nil
}

func (p *Plugin) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	url := strings.TrimSuffix(p.endpoint.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentType)
	if p.endpoint.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.endpoint.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: read response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plugin %s: %s returned %d: %s", p.name, path, resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

// truncate bounds provider error payloads embedded in messages.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
