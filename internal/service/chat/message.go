package chat

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind tells the UI how to render a message.
type Kind string

const (
	KindText    Kind = "text"
	KindInsight Kind = "insight"
)

// Message is one entry of the conversation. Messages are never modified
// after they are appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"type"`
}

// idGenerator hands out message IDs unique within a session.
type idGenerator struct {
	counter uint64
}

func (g *idGenerator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-msg-%d", sessionID, n)
}

// Assistant wording shown to users. Provider diagnostics never reach the chat.
const (
	greetingMessage = "Hello! I'm your AI analytics assistant. I can help you understand your data better. Ask me questions like:\n\n" +
		"• \"What's our conversion rate?\"\n" +
		"• \"Which property is performing best?\"\n" +
		"• \"Show me lead source insights\"\n" +
		"• \"What's the trend in monthly leads?\"\n\n" +
		"💡 **New:** You can now use voice input by clicking the microphone button!"

	microphoneMessage       = "I'm sorry, I couldn't access your microphone. Please ensure you've granted microphone permissions and try again. You can still type your questions!"
	noAudioMessage          = "I didn't receive any audio. Please check that your microphone is working and try again, or type your question."
	tooShortMessage         = "That recording was too short to transcribe. Please hold the microphone a little longer and try again, or type your question."
	transcribeRetryMessage  = "I'm sorry, I had trouble transcribing your audio. Please try again or type your question."
	transcribeFormatMessage = "That audio format isn't supported for transcription. Please try recording again or type your question."
	transcribeConfigMessage = "Voice transcription isn't available right now because it hasn't been configured. Please let your administrator know. You can still type your questions!"
)

func transcribedMessage(text string) string {
	return fmt.Sprintf("🎤 **Audio transcribed:** \"%s\"\n\nPress Enter or click Send to ask this question!", text)
}
