package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crm-insight-service/internal/service/capture"
	"crm-insight-service/internal/service/chat"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// A frame is one MediaRecorder timeslice; 1 MiB is well above any sane slice.
	wsMaxFrame = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client → server control messages. Audio arrives as binary frames.
const (
	wsStartRecording = "start_recording"
	wsStopRecording  = "stop_recording"
	wsMicUnavailable = "mic_unavailable"
	wsSubmit         = "submit"
)

type wsInbound struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type wsOutbound struct {
	Type         string         `json:"type"`
	SessionID    string         `json:"sessionId,omitempty"`
	State        string         `json:"state,omitempty"`
	Flags        *chat.Flags    `json:"flags,omitempty"`
	InputEnabled *bool          `json:"inputEnabled,omitempty"`
	Message      *chat.Message  `json:"message,omitempty"`
	Messages     []chat.Message `json:"messages,omitempty"`
	Input        *string        `json:"input,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func stateFrame(t string, s chat.State) wsOutbound {
	flags := s.Flags()
	enabled := s.InputEnabled()
	return wsOutbound{Type: t, State: s.String(), Flags: &flags, InputEnabled: &enabled}
}

// outbound maps orchestrator events to frames. Transcript and answer events
// are already reflected by message and input frames.
func outbound(ev chat.Event) (wsOutbound, bool) {
	switch ev.Type {
	case chat.EventState:
		return stateFrame("state", ev.State), true
	case chat.EventMessage:
		return wsOutbound{Type: "message", Message: ev.Message}, true
	case chat.EventInput:
		input := ev.Input
		return wsOutbound{Type: "input", Input: &input}, true
	}
	return wsOutbound{}, false
}

// chatSocket runs one chat session per connection. The browser streams its
// microphone as binary frames into a push-fed capture device.
func (h *handlers) chatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if !h.sessions.add(conn, cancel) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer h.sessions.done(conn)

	device := capture.NewFeedDevice(0)
	session := h.app.NewChatSession(device)
	log := h.log.With().Str("sessionId", session.SessionID()).Logger()
	log.Info().Msg("chat session opened")

	out := make(chan wsOutbound, 64)
	done := make(chan struct{})
	stopped := make(chan struct{})
	send := func(f wsOutbound) {
		select {
		case out <- f:
		case <-stopped:
		}
	}
	go func() {
		defer close(stopped)
		writeLoop(conn, out, done)
	}()

	hello := stateFrame("session", session.State())
	hello.SessionID = session.SessionID()
	hello.Messages = session.Messages()
	input := session.Input()
	hello.Input = &input
	send(hello)

	unsubscribe := session.Subscribe(func(ev chat.Event) {
		if f, ok := outbound(ev); ok {
			send(f)
		}
	})

	var submits sync.WaitGroup
	defer func() {
		cancel()
		session.Close()
		submits.Wait()
		unsubscribe()
		close(done)
		<-stopped
		log.Info().Msg("chat session closed")
	}()

	conn.SetReadLimit(wsMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("chat socket read ended")
			}
			return
		}
		if mt == websocket.BinaryMessage {
			device.Push(data)
			continue
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			send(wsOutbound{Type: "error", Error: "invalid message"})
			continue
		}
		switch msg.Type {
		case wsStartRecording:
			device.SetUnavailable(nil)
			if err := session.StartRecording(ctx); errors.Is(err, chat.ErrBusy) {
				send(wsOutbound{Type: "error", Error: err.Error()})
			}
		case wsMicUnavailable:
			reason := capture.ErrDeviceUnavailable
			if msg.Reason != "" {
				reason = errors.Join(capture.ErrDeviceUnavailable, errors.New(msg.Reason))
			}
			device.SetUnavailable(reason)
			// Sent instead of start_recording when getUserMedia fails.
			if err := session.StartRecording(ctx); errors.Is(err, chat.ErrBusy) {
				send(wsOutbound{Type: "error", Error: err.Error()})
			}
		case wsStopRecording:
			session.StopRecording()
		case wsSubmit:
			submits.Add(1)
			go func(text string) {
				defer submits.Done()
				if _, err := session.SubmitText(ctx, text); err != nil {
					send(wsOutbound{Type: "error", Error: err.Error()})
				}
			}(msg.Text)
		default:
			send(wsOutbound{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}

func writeLoop(conn *websocket.Conn, out <-chan wsOutbound, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
