package protocol

import "encoding/json"

// Server-to-device messages. Each marshals to a flat JSON object carrying
// its own "type" field, matching the device firmware's expectations.

// ServerHello acknowledges the device handshake and pins the audio
// parameters for the connection.
type ServerHello struct {
	Type          string `json:"type"` // always "hello"
	SessionID     string `json:"session_id"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration_ms"`
}

// NewServerHello builds the handshake reply.
func NewServerHello(sessionID string, sampleRate, channels, frameMs int) *ServerHello {
	return &ServerHello{
		Type:          "hello",
		SessionID:     sessionID,
		SampleRate:    sampleRate,
		Channels:      channels,
		FrameDuration: frameMs,
	}
}

// ASRText carries the recognized utterance text back to the device.
type ASRText struct {
	Type string `json:"type"` // always "asr_text"
	Text string `json:"text"`
}

// NewASRText builds an asr_text message.
func NewASRText(text string) *ASRText { return &ASRText{Type: "asr_text", Text: text} }

// TTSStart marks the beginning of an outbound audio stream. Binary frames
// follow until TTSEnd.
type TTSStart struct {
	Type string `json:"type"` // always "tts_start"
	Text string `json:"text,omitempty"`
}

// NewTTSStart builds a tts_start message.
func NewTTSStart(text string) *TTSStart { return &TTSStart{Type: "tts_start", Text: text} }

// TTSEnd marks the end of an outbound audio stream. It is sent even when
// synthesis fails mid-stream so the device never hangs waiting for frames.
type TTSEnd struct {
	Type string `json:"type"` // always "tts_end"
}

// NewTTSEnd builds a tts_end message.
func NewTTSEnd() *TTSEnd { return &TTSEnd{Type: "tts_end"} }

// ErrorMsg reports a failure the device should surface to the user.
type ErrorMsg struct {
	Type    string `json:"type"` // always "error"
	Message string `json:"message"`
}

// NewError builds an error message.
func NewError(message string) *ErrorMsg { return &ErrorMsg{Type: "error", Message: message} }

// MeetingAck reports the outcome of a meeting action.
type MeetingAck struct {
	Type      string `json:"type"`   // always "meeting"
	Action    string `json:"action"` // start, stop, transcribe
	MeetingID string `json:"meeting_id,omitempty"`
	Status    string `json:"status"` // ok or error
	Message   string `json:"message,omitempty"`
}

// NewMeetingAck builds a meeting acknowledgement.
func NewMeetingAck(action, meetingID, status, message string) *MeetingAck {
	return &MeetingAck{Type: "meeting", Action: action, MeetingID: meetingID, Status: status, Message: message}
}

// Marshal serializes a server message to its wire form.
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Server message types are plain structs; marshal cannot fail.
		panic("protocol: marshal server message: " + err.Error())
	}
	return b
}
