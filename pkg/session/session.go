// Package session implements the per-connection state machine of the voice
// gateway. A session consumes control messages and binary audio frames from
// one device, drives ASR, chat, and TTS calls through the provider router,
// and writes response messages and audio frames back to the device. Meeting
// recording is an orthogonal sub-state that accumulates inbound audio for
// the meeting pipeline.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echoear/voicegate/pkg/audio"
	"github.com/echoear/voicegate/pkg/meeting"
	"github.com/echoear/voicegate/pkg/protocol"
	"github.com/echoear/voicegate/pkg/provider"
	"github.com/echoear/voicegate/pkg/store"
)

// State conflict errors, reported to the device as control-message errors.
var (
	ErrAlreadyRecording = errors.New("session: meeting already recording")
	ErrNotRecording     = errors.New("session: no active meeting")
	ErrNoMeetingData    = errors.New("session: not enough meeting audio to transcribe")
	ErrTranscribeBusy   = errors.New("session: meeting transcription in progress")
)

// ErrClosed is returned by send helpers after the session closed.
var ErrClosed = errors.New("session: closed")

// MinMeetingDuration is the least buffered audio a transcribe request needs.
const MinMeetingDuration = time.Second

// defaultFrameDuration is the outbound audio frame length.
const defaultFrameDuration = 60 * time.Millisecond

// maxHistory bounds the chat history kept per session.
const maxHistory = 20

// State is the session's lifecycle state.
type State int

const (
	// StateConnected is the post-handshake idle state.
	StateConnected State = iota
	// StateListening means the device is streaming one utterance.
	StateListening
	// StateProcessing means an ASR/chat/TTS round-trip is in flight.
	StateProcessing
	// StateClosed is terminal: the transport is gone and any in-flight
	// work is discarded.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the device-facing side of a session: ordered text and binary
// writes to one connection. Implementations must preserve write order.
type Transport interface {
	// SendText writes one control message.
	SendText(msg []byte) error

	// SendFrame writes one binary audio frame.
	SendFrame(frame []byte) error

	// Close tears the connection down.
	Close() error
}

// Caller executes capability calls with fallback; *provider.Router
// satisfies it.
type Caller interface {
	Execute(ctx context.Context, cap provider.Capability, req *provider.Request) (*provider.Response, []provider.Attempt, error)
}

// Runner runs the meeting pipeline; *meeting.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, in *meeting.Input) (*meeting.Result, error)
}

// Options configures a session.
type Options struct {
	// Format is the PCM format agreed at handshake. Defaults to
	// audio.L16Mono16K.
	Format audio.Format

	// FrameDuration is the outbound frame length. Defaults to 60ms.
	FrameDuration time.Duration

	// Codec converts between wire frames and PCM. Defaults to the
	// pass-through PCM16 codec.
	Codec audio.Codec

	// Router executes capability calls. Required.
	Router Caller

	// Meetings runs the meeting pipeline. Optional; without it,
	// transcribe requests fail as unsupported.
	Meetings Runner

	// Records persists meeting lifecycle state. Optional.
	Records store.Store

	// MaxUtterance bounds one utterance capture. Zero means unbounded.
	MaxUtterance time.Duration

	// MaxMeeting bounds the meeting accumulation buffer. Zero means
	// unbounded.
	MaxMeeting time.Duration

	// Logger is the session's logger. Defaults to slog.Default.
	Logger *slog.Logger
}

// Session is one device connection's state machine. Control and frame
// handling must be called from a single goroutine (the connection read
// loop); the session serializes its own background completions against
// that via an internal mutex.
type Session struct {
	id       string
	deviceID string

	transport Transport
	router    Caller
	meetings  Runner
	records   store.Store

	format   audio.Format
	frameDur time.Duration
	codec    audio.Codec
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closed   atomic.Bool
	abortSeq atomic.Int64
	dropped  atomic.Int64

	// playMu serializes outbound playback blocks. An utterance reply and
	// a meeting digest must never interleave frames on the wire.
	playMu sync.Mutex

	mu        sync.Mutex
	state     State
	procSeq   int
	utterance *audio.Capture
	history   []provider.Message

	meetingActive  bool
	meetingID      string
	meetingTitle   string
	meetingStart   time.Time
	meetingStop    time.Time
	meetingBuf     *audio.Capture
	transcribing   bool
	transcribingID string

	maxUtterance time.Duration
}

// New creates a session over an established transport and sends the
// handshake reply. The hello message must already be validated by the
// caller.
func New(transport Transport, hello *protocol.Hello, opts Options) *Session {
	if opts.Format.SampleRate == 0 {
		opts.Format = audio.L16Mono16K
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = defaultFrameDuration
	}
	if opts.Codec == nil {
		opts.Codec = audio.PCM16{Format: opts.Format}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString()[:8],
		deviceID:     hello.DeviceID,
		transport:    transport,
		router:       opts.Router,
		meetings:     opts.Meetings,
		records:      opts.Records,
		format:       opts.Format,
		frameDur:     opts.FrameDuration,
		codec:        opts.Codec,
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnected,
		maxUtterance: opts.MaxUtterance,
		meetingBuf:   audio.NewCapture(opts.Format, opts.MaxMeeting),
	}
	s.logger = opts.Logger.With("session", s.id, "device", s.deviceID)

	s.sendJSON(protocol.NewServerHello(
		s.id,
		s.format.SampleRate,
		s.format.Channels,
		int(s.frameDur/time.Millisecond),
	))
	s.logger.Info("session established", "listen_mode", hello.ListenMode, "firmware", hello.Firmware)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// DeviceID returns the connected device's identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DroppedFrames returns the count of inbound frames discarded because the
// session was neither listening nor recording a meeting.
func (s *Session) DroppedFrames() int64 { return s.dropped.Load() }

// Close moves the session to its terminal state. In-flight provider calls
// may finish but their results are discarded; nothing is written to the
// transport afterwards. Close is idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.cancel()
	s.transport.Close()
	s.logger.Info("session closed", "dropped_frames", s.dropped.Load())
}

// HandleControl processes one text control message in arrival order.
// Malformed or out-of-state messages are protocol violations: logged and
// answered, never fatal to the session.
func (s *Session) HandleControl(raw []byte) {
	if s.closed.Load() {
		return
	}
	msg, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn("protocol violation", "error", err)
		s.sendJSON(protocol.NewError("invalid message"))
		return
	}

	switch m := msg.(type) {
	case *protocol.Hello:
		// A repeated hello is a no-op; the handshake already happened.
	case *protocol.Listen:
		s.handleListen(m)
	case *protocol.Abort:
		s.handleAbort(m)
	case *protocol.Meeting:
		s.handleMeeting(m)
	}
}

// HandleFrame processes one inbound binary audio frame in arrival order.
// Zero-length frames are no-ops. Frames outside LISTENING and
// MEETING_RECORDING are dropped and counted.
func (s *Session) HandleFrame(frame []byte) {
	if s.closed.Load() || len(frame) == 0 {
		return
	}
	pcm, err := s.codec.Decode(frame)
	if err != nil {
		s.logger.Warn("frame decode failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := false
	if s.state == StateListening {
		accepted = true
		if err := s.utterance.Append(pcm); err != nil {
			s.logger.Warn("utterance buffer full, frame discarded")
		}
	}
	if s.meetingActive {
		accepted = true
		if err := s.meetingBuf.Append(pcm); err != nil {
			s.logger.Warn("meeting buffer full, frame discarded", "meeting", s.meetingID)
		}
	}
	if !accepted {
		s.dropped.Add(1)
	}
}

func (s *Session) handleListen(m *protocol.Listen) {
	switch m.State {
	case protocol.ListenDetect:
		// Wake word detected on-device; nothing to do server-side.
		s.logger.Debug("wake word detected", "text", m.Text)

	case protocol.ListenStart:
		s.mu.Lock()
		if s.state == StateListening {
			s.mu.Unlock()
			return // already listening, idempotent
		}
		s.state = StateListening
		s.utterance = audio.NewCapture(s.format, s.maxUtterance)
		s.mu.Unlock()

	case protocol.ListenStop:
		s.finishListening()

	default:
		s.logger.Warn("protocol violation", "listen_state", m.State)
	}
}

// handleAbort closes an open listen window just like stop, and cancels
// whatever playback was pending or streaming when the abort arrived.
// Playback started after the abort is unaffected.
func (s *Session) handleAbort(m *protocol.Abort) {
	s.logger.Debug("abort", "reason", m.Reason)
	s.abortSeq.Add(1)
	s.finishListening()
}

// finishListening closes the utterance window and hands the audio to the
// processing pipeline. A no-op when not listening.
func (s *Session) finishListening() {
	s.mu.Lock()
	if s.state != StateListening {
		s.mu.Unlock()
		return
	}
	pcm := s.utterance.Take()
	s.utterance = nil
	s.state = StateProcessing
	s.procSeq++
	seq := s.procSeq
	s.mu.Unlock()

	go s.processUtterance(seq, pcm)
}

// processUtterance runs the ASR -> chat -> TTS round-trip for one closed
// utterance window. Any stage failure aborts this utterance, surfaces an
// error to the device, and returns the session to CONNECTED.
func (s *Session) processUtterance(seq int, pcm []byte) {
	defer s.endProcessing(seq)
	cut := s.abortSeq.Load()

	if len(pcm) == 0 {
		s.sendJSON(protocol.NewError("empty audio"))
		return
	}

	asr, _, err := s.router.Execute(s.ctx, provider.Transcribe, &provider.Request{
		Audio:  pcm,
		Format: s.format,
	})
	if err != nil {
		s.logger.Warn("transcribe failed", "error", err)
		s.sendJSON(protocol.NewError("speech recognition failed"))
		return
	}
	if asr.Text == "" {
		s.sendJSON(protocol.NewError("no speech recognized"))
		return
	}
	s.sendJSON(protocol.NewASRText(asr.Text))

	reply, err := s.chat(asr.Text)
	if err != nil {
		s.logger.Warn("chat failed", "error", err)
		s.sendJSON(protocol.NewError("assistant is unavailable"))
		return
	}

	if err := s.speak(reply, cut); err != nil && !errors.Is(err, ErrClosed) {
		s.sendJSON(protocol.NewError("speech synthesis failed"))
	}
}

// endProcessing returns the session to CONNECTED unless a newer utterance
// or a close superseded this one.
func (s *Session) endProcessing(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateProcessing && s.procSeq == seq {
		s.state = StateConnected
	}
}

// chat runs the chat capability with the session history plus the new user
// turn. Both turns are recorded only on success; a failed exchange leaves
// the history untouched so it cannot skew later context.
func (s *Session) chat(text string) (string, error) {
	s.mu.Lock()
	msgs := make([]provider.Message, 0, len(s.history)+1)
	msgs = append(msgs, s.history...)
	msgs = append(msgs, provider.Message{Role: "user", Content: text})
	s.mu.Unlock()

	resp, _, err := s.router.Execute(s.ctx, provider.Chat, &provider.Request{Messages: msgs})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.history = append(s.history,
		provider.Message{Role: "user", Content: text},
		provider.Message{Role: "assistant", Content: resp.Text})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()
	return resp.Text, nil
}

// speak synthesizes text and streams it to the device as ordered frames
// bounded by tts_start and tts_end. Playback blocks are serialized on
// playMu so an utterance reply and a meeting digest never interleave. cut
// is the abort sequence observed when this playback was requested; an
// abort arriving after that cancels the block. The end marker is emitted
// even when streaming fails mid-way, so the device never hangs.
func (s *Session) speak(text string, cut int64) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	if s.abortSeq.Load() != cut {
		s.logger.Debug("playback canceled before start")
		return nil
	}

	resp, _, err := s.router.Execute(s.ctx, provider.Synthesize, &provider.Request{Text: text})
	if err != nil {
		return err
	}

	frames, err := s.codec.Encode(resp.Audio, s.frameDur)
	if err != nil {
		return err
	}

	if err := s.sendJSON(protocol.NewTTSStart(text)); err != nil {
		return err
	}
	defer s.sendJSON(protocol.NewTTSEnd())

	for _, frame := range frames {
		if s.abortSeq.Load() != cut {
			s.logger.Debug("tts streaming aborted")
			return nil
		}
		if err := s.sendFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

// sendJSON writes one control message unless the session is closed.
func (s *Session) sendJSON(v any) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.transport.SendText(protocol.Marshal(v))
}

// sendFrame writes one binary frame unless the session is closed.
func (s *Session) sendFrame(frame []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.transport.SendFrame(frame)
}
