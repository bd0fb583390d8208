package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/echoear/voicegate/pkg/store"
)

// Webhook pushes finished meeting documents to an HTTP endpoint as JSON.
// It implements Notifier.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhook creates a webhook notifier. token, when set, is sent as a
// bearer credential.
func NewWebhook(url, token string) *Webhook {
	return &Webhook{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// webhookDoc is the pushed payload.
type webhookDoc struct {
	MeetingID  string    `json:"meeting_id"`
	DeviceID   string    `json:"device_id"`
	Title      string    `json:"title,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	DurationMS int64     `json:"duration_ms"`
	Transcript string    `json:"transcript"`
	Gaps       []int     `json:"gaps,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	AudioPath  string    `json:"audio_path,omitempty"`
}

// Push implements Notifier.
func (w *Webhook) Push(ctx context.Context, rec *store.Record) error {
	body, err := json.Marshal(webhookDoc{
		MeetingID:  rec.ID,
		DeviceID:   rec.DeviceID,
		Title:      rec.Title,
		StartedAt:  rec.StartedAt,
		StoppedAt:  rec.StoppedAt,
		DurationMS: rec.Duration.Milliseconds(),
		Transcript: rec.Transcript,
		Gaps:       rec.Gaps,
		Summary:    rec.Summary,
		AudioPath:  rec.AudioPath,
	})
	if err != nil {
		return fmt.Errorf("meeting: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("meeting: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("meeting: push webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("meeting: push webhook: status %s", resp.Status)
	}
	return nil
}
