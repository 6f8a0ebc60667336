package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl MessageType = "client_control"
	TypeMessageUpdate MessageType = "message_update"
	TypePlaybackState MessageType = "playback_state"
	TypeAudioLevel    MessageType = "audio_level"
	TypeNotice        MessageType = "notice"
	TypeSuggestions   MessageType = "suggestions"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Client control actions.
const (
	ActionToggleAudio = "toggle_audio"
	ActionStopAudio   = "stop_audio"
	ActionSendMessage = "send_message"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	MessageID string      `json:"message_id,omitempty"`
	Text      string      `json:"text,omitempty"`
}

// MessageUpdate carries the current state of one chat message.
type MessageUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   any         `json:"message"`
}

type PlaybackState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	MessageID string      `json:"message_id"`
	State     string      `json:"state"`
}

type AudioLevel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     float64     `json:"level"`
}

type Suggestions struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Items     []string    `json:"items"`
	Current   string      `json:"current,omitempty"`
}

type NoticeEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Notice
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionToggleAudio:
			if msg.MessageID == "" {
				return nil, errors.New("invalid client_control: toggle_audio needs message_id")
			}
		case ActionSendMessage:
			if strings.TrimSpace(msg.Text) == "" {
				return nil, errors.New("invalid client_control: send_message needs text")
			}
		case ActionStopAudio:
		default:
			return nil, fmt.Errorf("invalid client_control: unknown action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
