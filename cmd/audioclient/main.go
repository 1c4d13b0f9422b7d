// Command audioclient plays a recorded audio file into the chat WebSocket as
// if it were a live microphone, then asks the transcribed question.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
)

// Roughly one MediaRecorder timeslice of 32 kbit/s Opus.
const chunkSize = 4000

type outbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type inbound struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	State     string  `json:"state"`
	Input     *string `json:"input"`
	Message   *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Kind    string `json:"type"`
	} `json:"message"`
	Error string `json:"error"`
}

func main() {
	audioFile := flag.String("audio", "testdata/question.webm", "Path to a WebM/Opus recording")
	serverAddr := flag.String("server", "localhost:8080", "HTTP API address")
	interval := flag.Duration("interval", 250*time.Millisecond, "Delay between chunks to simulate real-time capture")
	submit := flag.Bool("submit", true, "Ask the transcribed question")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if ext := filepath.Ext(*audioFile); ext != ".webm" {
		log.Printf("Warning: %s recordings are labelled audio/webm by the server", ext)
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/api/chat/ws"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", u.String())

	events := make(chan inbound, 64)
	go func() {
		defer close(events)
		for {
			var ev inbound
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			events <- ev
		}
	}()

	send := func(msg outbound) {
		if err := conn.WriteJSON(msg); err != nil {
			log.Fatalf("Failed to send %s: %v", msg.Type, err)
		}
	}

	send(outbound{Type: "start_recording"})
	waitFor(ctx, events, func(ev inbound) bool { return ev.Type == "state" && ev.State == "CAPTURING" })

	chunk := make([]byte, chunkSize)
	var totalBytes, chunkNum int
	startTime := time.Now()
	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
		chunkNum++
		totalBytes += n
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
			log.Fatalf("Failed to send chunk: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}
		time.Sleep(*interval)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	send(outbound{Type: "stop_recording"})

	var question string
	waitFor(ctx, events, func(ev inbound) bool {
		switch {
		case ev.Type == "input" && ev.Input != nil && *ev.Input != "":
			question = *ev.Input
			return true
		case ev.Type == "message" && ev.Message != nil && ev.Message.Role == "assistant":
			log.Printf("Assistant: %s", ev.Message.Content)
		case ev.Type == "state" && ev.State == "IDLE" && question == "":
			log.Fatal("Recording ended without a transcript")
		}
		return false
	})
	log.Printf("Transcript: %q", question)
	if !*submit {
		return
	}

	send(outbound{Type: "submit", Text: question})
	waitFor(ctx, events, func(ev inbound) bool {
		if ev.Type == "message" && ev.Message != nil && ev.Message.Role == "assistant" {
			log.Printf("Answer (%s):\n%s", ev.Message.Kind, ev.Message.Content)
			return true
		}
		return false
	})

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// waitFor consumes events until match returns true. Error frames are fatal.
func waitFor(ctx context.Context, events <-chan inbound, match func(inbound) bool) {
	for {
		select {
		case <-ctx.Done():
			log.Fatalf("Timed out: %v", ctx.Err())
		case ev, ok := <-events:
			if !ok {
				log.Fatal("Connection closed by server")
			}
			if ev.Type == "error" {
				log.Fatalf("Server error: %s", ev.Error)
			}
			if ev.Type == "session" {
				log.Printf("Session %s", ev.SessionID)
			}
			if match(ev) {
				return
			}
		}
	}
}
