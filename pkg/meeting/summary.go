package meeting

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// summaryInstruction is the fixed instruction sent with the full transcript.
// The model is asked for JSON so the summary can be decoded into labeled
// sections; jsonrepair covers the usual model formatting slips.
const summaryInstruction = `You summarize meeting transcripts. Respond with valid JSON only, no markdown, using this shape:
{"topic": "...", "key_points": ["..."], "decisions": ["..."], "action_items": ["..."]}
Keep each entry short. Use the transcript's language. If a section has no content, use an empty list.`

// Summary is the structured meeting summary.
type Summary struct {
	Topic       string   `json:"topic"`
	KeyPoints   []string `json:"key_points"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// decodeSummary parses model output into a Summary, repairing malformed
// JSON before giving up.
func decodeSummary(text string) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fixed), &s); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Render formats the summary as labeled text sections for persistence.
func (s *Summary) Render() string {
	var sb strings.Builder
	sb.WriteString("Topic: ")
	sb.WriteString(s.Topic)
	writeSection(&sb, "Key points", s.KeyPoints)
	writeSection(&sb, "Decisions", s.Decisions)
	writeSection(&sb, "Action items", s.ActionItems)
	return sb.String()
}

func writeSection(sb *strings.Builder, label string, items []string) {
	sb.WriteString("\n")
	sb.WriteString(label)
	sb.WriteString(":")
	if len(items) == 0 {
		sb.WriteString(" none")
		return
	}
	for _, item := range items {
		sb.WriteString("\n- ")
		sb.WriteString(item)
	}
}

// Digest produces a short spoken-style version of the summary: the topic
// and up to three key points, for voice playback.
func (s *Summary) Digest() string {
	var parts []string
	if s.Topic != "" {
		parts = append(parts, s.Topic)
	}
	points := s.KeyPoints
	if len(points) > 3 {
		points = points[:3]
	}
	parts = append(parts, points...)
	return strings.Join(parts, ". ")
}

// digestFromTranscript falls back to a truncated transcript when no summary
// is available.
func digestFromTranscript(transcript string, limit int) string {
	runes := []rune(transcript)
	if len(runes) <= limit {
		return transcript
	}
	return string(runes[:limit]) + "..."
}
