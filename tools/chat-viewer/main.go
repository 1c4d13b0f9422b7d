// Chat Viewer - live feed of chat pipeline events.
// Consumes transcript and insight topics from Kafka and pushes them to browsers over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

//go:embed static/*
var staticFiles embed.FS

// ChatEvent is the union of the transcript.completed and insight.answered payloads.
type ChatEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`

	Text      string `json:"text,omitempty"`
	MIMEType  string `json:"mimeType,omitempty"`
	SizeBytes int    `json:"sizeBytes,omitempty"`

	Question  string `json:"question,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Source    string `json:"source,omitempty"`
	Provider  string `json:"provider,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func (e ChatEvent) summary() string {
	if e.Question != "" {
		return truncate(e.Question, 40) + " -> " + e.Source
	}
	return truncate(e.Text, 40)
}

// Hub fans events out to every connected browser.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	recent  []ChatEvent
	limit   int
}

func newHub(limit int) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{}), limit: limit}
}

// add registers conn and replays the buffered history to it.
func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range h.recent {
		if err := conn.WriteJSON(ev); err != nil {
			conn.Close()
			return
		}
	}
	h.clients[conn] = struct{}{}
	log.Printf("Client connected. Total: %d", len(h.clients))
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
		log.Printf("Client disconnected. Total: %d", len(h.clients))
	}
}

func (h *Hub) broadcast(ev ChatEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent = append(h.recent, ev)
	if len(h.recent) > h.limit {
		h.recent = h.recent[len(h.recent)-h.limit:]
	}
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			log.Printf("Write error: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}
		hub.add(conn)

		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, since time.Duration) {
	// Partition reader without a consumer group, so several viewers can watch the same topic.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Seek on %s failed, reading from the beginning: %v", topic, err)
	}
	log.Printf("Consuming %s (last %s)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var ev ChatEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Printf("JSON unmarshal error on %s: %v", topic, err)
			continue
		}
		log.Printf("Received %s [%s]: %s", ev.EventType, ev.SessionID, ev.summary())
		hub.broadcast(ev)
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTranscript := flag.String("topic-transcript", "crm.chat.transcript.completed", "Transcript topic")
	topicInsight := flag.String("topic-insight", "crm.chat.insight.answered", "Insight topic")
	since := flag.Duration("since", time.Hour, "How far back to replay on start")
	history := flag.Int("history", 200, "Events replayed to newly connected browsers")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub(*history)
	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicTranscript, *since)
	go consumeKafka(ctx, hub, brokerList, *topicInsight, *since)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static files: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Chat Viewer starting on http://localhost:%s", *port)
	log.Printf("   Kafka brokers: %s", *brokers)
	log.Printf("   Topics: %s, %s", *topicTranscript, *topicInsight)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
