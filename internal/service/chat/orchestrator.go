package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
	"crm-insight-service/internal/service/audio"
	"crm-insight-service/internal/service/capture"
	"crm-insight-service/internal/service/insight"
	"crm-insight-service/internal/service/transcription"
)

// Recorder captures audio chunks until stopped.
type Recorder interface {
	Start(ctx context.Context, c capture.Constraints) (<-chan capture.Chunk, error)
	Stop()
}

// Transcriber turns a recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, a transcription.Audio) (*transcription.Result, error)
}

// Responder answers a question from an analytics snapshot. It must not fail.
type Responder interface {
	Answer(ctx context.Context, question string, snap analytics.Snapshot) insight.Answer
}

// Deps are the collaborators of an orchestrator.
type Deps struct {
	Recorder    Recorder
	Assembler   *audio.Assembler
	Transcriber Transcriber
	Responder   Responder
	Analytics   analytics.Source
}

// EventType distinguishes listener notifications.
type EventType string

const (
	EventState      EventType = "state"
	EventMessage    EventType = "message"
	EventInput      EventType = "input"
	EventTranscript EventType = "transcript"
	EventAnswer     EventType = "answer"
)

// Event is delivered to listeners in the order changes happened.
type Event struct {
	Type       EventType
	SessionID  string
	State      State
	Message    *Message
	Input      string
	Transcript *transcription.Result
	Question   string
	Answer     *insight.Answer
}

// Listener receives events. It runs synchronously and must not call back
// into the orchestrator.
type Listener func(Event)

// Option customizes an orchestrator.
type Option func(*Orchestrator)

// WithSessionID sets the session ID (a UUID by default).
func WithSessionID(id string) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.sessionID = id
		}
	}
}

// WithConstraints sets the capture constraints used for every recording.
func WithConstraints(c capture.Constraints) Option {
	return func(o *Orchestrator) {
		o.constraints = c
	}
}

// WithAutoSubmit submits a successful transcript as a question right away
// instead of leaving it in the input field.
func WithAutoSubmit(on bool) Option {
	return func(o *Orchestrator) {
		o.autoSubmit = on
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns the conversation of one chat session. Public methods are
// safe for concurrent use; at most one capture, transcription or insight
// request is in flight at a time.
type Orchestrator struct {
	deps        Deps
	sessionID   string
	constraints capture.Constraints
	autoSubmit  bool
	now         func() time.Time
	logger      zerolog.Logger
	ids         idGenerator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	messages   []Message
	input      string
	closed     bool
	idleCh     chan struct{}
	idleClosed bool
	pending    []Event
	listeners  map[int]Listener
	nextID     int

	// notifyMu keeps listener delivery in commit order.
	notifyMu sync.Mutex
}

// New creates an orchestrator in the Idle state with the greeting message.
func New(deps Deps, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:        deps,
		sessionID:   uuid.NewString(),
		constraints: capture.DefaultConstraints(),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		idleCh:      make(chan struct{}),
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.deps.Assembler == nil {
		o.deps.Assembler = audio.NewAssembler(0)
	}
	if o.deps.Analytics == nil {
		o.deps.Analytics = analytics.NewStaticSource(analytics.Snapshot{})
	}
	o.logger = logging.WithSession(o.sessionID)

	o.mu.Lock()
	o.appendLocked(RoleAssistant, greetingMessage, KindText)
	o.unlockAndNotify()

	metrics.DefaultMetrics.ChatSessionsActive.Inc()
	return o
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Messages returns a copy of the conversation.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Input returns the text waiting in the input field.
func (o *Orchestrator) Input() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.input
}

// Subscribe registers fn for future events and returns a func that removes it.
func (o *Orchestrator) Subscribe(fn Listener) func() {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// StartRecording opens the microphone and begins capturing. When the capture
// ends, by StopRecording, the duration limit or ctx, the recording is
// transcribed in the background and the input field populated.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.setStateLocked(StateCapturing)
	o.unlockAndNotify()

	chunks, err := o.deps.Recorder.Start(ctx, o.constraints)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Microphone unavailable")
		o.mu.Lock()
		o.appendLocked(RoleAssistant, microphoneMessage, KindText)
		o.setStateLocked(StateIdle)
		o.unlockAndNotify()
		return fmt.Errorf("start recording: %w", err)
	}

	o.mu.Lock()
	if o.closed {
		// Close raced with Start; the recorder was stopped before it opened.
		o.mu.Unlock()
		o.deps.Recorder.Stop()
		for range chunks {
		}
		return ErrClosed
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.pipeline(chunks)
	return nil
}

// StopRecording ends the current capture. It is a no-op in any other state.
func (o *Orchestrator) StopRecording() {
	o.mu.Lock()
	capturing := o.state == StateCapturing
	o.mu.Unlock()
	if capturing {
		o.deps.Recorder.Stop()
	}
}

// SubmitText asks the responder about text and appends both sides of the
// exchange. It blocks until the answer is appended.
func (o *Orchestrator) SubmitText(ctx context.Context, text string) (Message, error) {
	question := strings.TrimSpace(text)
	if question == "" {
		return Message{}, ErrEmptyInput
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Message{}, ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return Message{}, ErrBusy
	}
	o.beginInsightLocked(question)
	o.unlockAndNotify()

	return o.answer(ctx, question), nil
}

// WaitIdle blocks until the session is idle or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mu.Lock()
	ch := o.idleCh
	o.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any capture, cancels in-flight work and waits for the
// background pipeline to exit. Close is idempotent.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.deps.Recorder.Stop()
	o.cancel()
	o.wg.Wait()
	metrics.DefaultMetrics.ChatSessionsActive.Dec()
	o.logger.Debug().Int("messages", len(o.Messages())).Msg("Chat session closed")
}

// pipeline drains the capture, assembles and transcribes the recording.
func (o *Orchestrator) pipeline(chunks <-chan capture.Chunk) {
	defer o.wg.Done()

	var collected []capture.Chunk
	for c := range chunks {
		collected = append(collected, c)
	}

	o.mu.Lock()
	o.setStateLocked(StateTranscribing)
	o.unlockAndNotify()

	rec, err := o.deps.Assembler.Assemble(collected, o.constraints.MIMEType)
	switch {
	case errors.Is(err, audio.ErrEmptyInput):
		o.finishTranscription(noAudioMessage)
		return
	case err != nil:
		o.logger.Error().Err(err).Msg("Failed to assemble recording")
		o.finishTranscription(transcribeRetryMessage)
		return
	case !rec.Eligible():
		o.logger.Info().Int("bytes", rec.SizeBytes).Int("minBytes", o.deps.Assembler.MinBytes).Msg("Recording too short")
		rec.Release()
		o.finishTranscription(tooShortMessage)
		return
	}

	res, err := o.transcribe(rec)
	rec.Release()
	if err != nil {
		o.logger.Warn().Err(err).Str("kind", transcription.KindOf(err).String()).Msg("Transcription failed")
		o.finishTranscription(transcriptionFailureMessage(err))
		return
	}

	text := res.Text
	o.mu.Lock()
	o.input = text
	o.pending = append(o.pending, Event{Type: EventInput, SessionID: o.sessionID, Input: text})
	o.pending = append(o.pending, Event{Type: EventTranscript, SessionID: o.sessionID, Transcript: res})
	o.appendLocked(RoleAssistant, transcribedMessage(text), KindText)
	o.setStateLocked(StateIdle)
	submit := o.autoSubmit && !o.closed
	if submit {
		o.beginInsightLocked(text)
	}
	o.unlockAndNotify()

	if submit {
		o.answer(o.ctx, text)
	}
}

func (o *Orchestrator) transcribe(rec *audio.Recording) (*transcription.Result, error) {
	wrapped, err := audio.WrapPCM(rec, o.constraints.SampleRateHz, o.constraints.Channels)
	if err != nil {
		return nil, &transcription.Error{Kind: transcription.KindInvalidFormat, Message: err.Error(), Err: err}
	}
	return o.deps.Transcriber.Transcribe(o.ctx, transcription.Audio{
		Data:     wrapped.Data,
		MIMEType: wrapped.MIMEType,
	})
}

func (o *Orchestrator) finishTranscription(message string) {
	o.mu.Lock()
	o.appendLocked(RoleAssistant, message, KindText)
	o.setStateLocked(StateIdle)
	o.unlockAndNotify()
}

func transcriptionFailureMessage(err error) string {
	switch transcription.KindOf(err) {
	case transcription.KindInvalidCredentials:
		return transcribeConfigMessage
	case transcription.KindInvalidFormat:
		return transcribeFormatMessage
	default:
		return transcribeRetryMessage
	}
}

// beginInsightLocked appends the user's question and enters AwaitingInsight.
func (o *Orchestrator) beginInsightLocked(question string) {
	o.appendLocked(RoleUser, question, KindText)
	if o.input != "" {
		o.input = ""
		o.pending = append(o.pending, Event{Type: EventInput, SessionID: o.sessionID})
	}
	o.setStateLocked(StateAwaitingInsight)
}

// answer runs outside the lock while the state is AwaitingInsight.
func (o *Orchestrator) answer(ctx context.Context, question string) Message {
	snap, err := o.deps.Analytics.Snapshot(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("Failed to load analytics snapshot")
		snap = analytics.Snapshot{}
	}

	ans := o.deps.Responder.Answer(ctx, question, snap)
	kind := KindText
	if ans.Kind == insight.ContentInsight {
		kind = KindInsight
	}

	o.mu.Lock()
	msg := o.appendLocked(RoleAssistant, ans.Content, kind)
	o.pending = append(o.pending, Event{Type: EventAnswer, SessionID: o.sessionID, Question: question, Answer: &ans})
	o.setStateLocked(StateIdle)
	o.unlockAndNotify()
	return msg
}

func (o *Orchestrator) appendLocked(role Role, content string, kind Kind) Message {
	msg := Message{
		ID:        o.ids.Next(o.sessionID),
		Role:      role,
		Content:   content,
		Timestamp: o.now(),
		Kind:      kind,
	}
	o.messages = append(o.messages, msg)
	o.pending = append(o.pending, Event{Type: EventMessage, SessionID: o.sessionID, Message: &msg})
	metrics.DefaultMetrics.RecordChatMessage(string(role), string(kind))
	return msg
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		// A bug in this package, not a caller error.
		panic(fmt.Sprintf("chat: invalid transition %s -> %s", from, to))
	}
	o.state = to
	o.pending = append(o.pending, Event{Type: EventState, SessionID: o.sessionID, State: to})
	metrics.DefaultMetrics.RecordChatTransition(from.String(), to.String())
	o.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition")
}

// unlockAndNotify settles the idle signal, releases mu and delivers the
// pending events. It must be called with mu held.
func (o *Orchestrator) unlockAndNotify() {
	if o.state == StateIdle && !o.idleClosed {
		close(o.idleCh)
		o.idleClosed = true
	} else if o.state != StateIdle && o.idleClosed {
		o.idleCh = make(chan struct{})
		o.idleClosed = false
	}

	events := o.pending
	o.pending = nil
	listeners := make([]Listener, 0, len(o.listeners))
	for id := 0; id < o.nextID; id++ {
		if l, ok := o.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}

	o.notifyMu.Lock()
	o.mu.Unlock()
	defer o.notifyMu.Unlock()
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
