package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/companion"
	"github.com/antoniostano/vistaar/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleEventsWS streams session events to the client and applies the
// client_control actions it sends back.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.observeSession("ws_connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := rt.Subscribe(0)
	defer unsubscribe()
	replies := make(chan any, 16)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
				continue
			case ev, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
						time.Now().Add(time.Second))
					return
				}
				msg = ev
			case reply := <-replies:
				msg = reply
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			s.observeWS("outbound", companion.EventType(msg))
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.reply(replies, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: rt.SessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Detail:    err.Error(),
			})
			continue
		}
		ctl, ok := parsed.(protocol.ClientControl)
		if !ok {
			continue
		}
		s.observeWS("inbound", ctl.Type)
		if ctl.SessionID != rt.SessionID {
			s.reply(replies, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: rt.SessionID,
				Code:      "session_mismatch",
				Source:    "gateway",
				Detail:    "client_control session_id does not match the connection",
			})
			continue
		}
		_ = s.sessions.Touch(rt.SessionID)
		s.control(ctx, rt, ctl, replies)
	}

	cancel()
	<-writerDone
	s.observeSession("ws_disconnected")
}

// control applies one client action. Audio toggles run in the background
// so a slow synthesis does not block reading.
func (s *Server) control(ctx context.Context, rt *companion.Runtime, ctl protocol.ClientControl, replies chan<- any) {
	fail := func(code string, retryable bool, err error) {
		s.reply(replies, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: rt.SessionID,
			Code:      code,
			Source:    ctl.Action,
			Retryable: retryable,
			Detail:    err.Error(),
		})
	}
	switch ctl.Action {
	case protocol.ActionToggleAudio:
		go func() {
			if err := rt.ToggleAudio(ctx, ctl.MessageID); err != nil && !errors.Is(err, context.Canceled) {
				fail("toggle_audio_failed", true, err)
			}
		}()
	case protocol.ActionStopAudio:
		rt.StopAudio()
	case protocol.ActionSendMessage:
		if _, err := rt.Send(ctl.Text); err != nil {
			fail("send_failed", errors.Is(err, chat.ErrSendInFlight), err)
		}
	}
}

func (s *Server) reply(replies chan<- any, msg any) {
	select {
	case replies <- msg:
	default:
		s.observeWS("dropped", companion.EventType(msg))
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) observeSession(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
