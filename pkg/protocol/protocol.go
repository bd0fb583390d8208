// Package protocol defines the text control messages exchanged between a
// voice device and the gateway. Every message is one JSON object with a
// "type" field; binary audio frames travel outside this package on the same
// transport.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Ensure all client message types implement Message.
var (
	_ Message = (*Hello)(nil)
	_ Message = (*Listen)(nil)
	_ Message = (*Abort)(nil)
	_ Message = (*Meeting)(nil)
)

// Message is a control message received from a device.
type Message interface {
	isMessage()
	messageType() string
}

// Listen states.
const (
	ListenDetect = "detect"
	ListenStart  = "start"
	ListenStop   = "stop"
)

// Meeting actions.
const (
	MeetingStart      = "start"
	MeetingStop       = "stop"
	MeetingTranscribe = "transcribe"
)

// Hello is the first message a device sends after connecting.
type Hello struct {
	DeviceID   string `json:"device_id"`
	Firmware   string `json:"firmware,omitempty"`
	ListenMode string `json:"listen_mode,omitempty"`
}

func (*Hello) isMessage()          {}
func (*Hello) messageType() string { return "hello" }

// Listen reports a listen-state change: detect, start, or stop.
type Listen struct {
	State string `json:"state"`
	Mode  string `json:"mode,omitempty"`
	Text  string `json:"text,omitempty"`
}

func (*Listen) isMessage()          {}
func (*Listen) messageType() string { return "listen" }

// Abort cancels the current utterance processing or TTS playback.
type Abort struct {
	Reason string `json:"reason,omitempty"`
}

func (*Abort) isMessage()          {}
func (*Abort) messageType() string { return "abort" }

// Meeting carries the meeting tool actions: start, stop, transcribe.
type Meeting struct {
	Action string `json:"action"`
	Title  string `json:"title,omitempty"`
}

func (*Meeting) isMessage()          {}
func (*Meeting) messageType() string { return "meeting" }

// Decode parses one client control message.
func Decode(b []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("protocol: malformed message: %w", err)
	}

	var msg Message
	switch head.Type {
	case "hello":
		msg = new(Hello)
	case "listen":
		msg = new(Listen)
	case "abort":
		msg = new(Abort)
	case "meeting":
		msg = new(Meeting)
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", head.Type)
	}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", head.Type, err)
	}
	return msg, nil
}

// Encode serializes a client message with its type field.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return injectType(body, m.messageType())
}

// injectType prepends the "type" key to a marshaled JSON object.
func injectType(body []byte, typ string) ([]byte, error) {
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: message did not marshal to an object")
	}
	head, err := json.Marshal(struct {
		Type string `json:"type"`
	}{typ})
	if err != nil {
		return nil, err
	}
	if len(body) == 2 { // empty object
		return head, nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head[:len(head)-1]...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}
