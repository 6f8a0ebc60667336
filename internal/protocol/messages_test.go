package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageToggleAudio(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"toggle_audio","message_id":"bot-1"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.SessionID != "s1" || control.Action != ActionToggleAudio || control.MessageID != "bot-1" {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageValidatesActions(t *testing.T) {
	cases := []string{
		`{"type":"client_control","session_id":"s1","action":"toggle_audio"}`,
		`{"type":"client_control","session_id":"s1","action":"send_message","text":"  "}`,
		`{"type":"client_control","session_id":"s1","action":"dance"}`,
		`{"type":"client_control","action":"stop_audio"}`,
		`not-json`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want error", raw)
		}
	}
}

func TestParseClientMessageSendMessage(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"send_message","text":"कापूस"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if got := msg.(ClientControl).Text; got != "कापूस" {
		t.Fatalf("Text = %q, want %q", got, "कापूस")
	}
}

func TestNoticeEventFlattensNotice(t *testing.T) {
	raw, err := json.Marshal(NoticeEvent{
		Type:      TypeNotice,
		SessionID: "s1",
		Notice:    Notice{Key: NoticeAudioNotRecognized, Variant: VariantDestructive},
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"key":"toast.audioNotRecognized"`) {
		t.Fatalf("notice payload = %s, want flattened key", raw)
	}
}

func TestNilNoticeFuncDrops(t *testing.T) {
	var f NoticeFunc
	f.Emit(Notice{Key: NoticeAPIError})
}
