package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/echoear/voicegate/pkg/audio"
	"github.com/echoear/voicegate/pkg/meeting"
	"github.com/echoear/voicegate/pkg/protocol"
	"github.com/echoear/voicegate/pkg/provider"
)

// fakeTransport records everything the session writes, including the
// arrival order of text messages and frames. frameDelay slows frame writes
// down (outside the lock) so tests can overlap playback streams.
type fakeTransport struct {
	mu         sync.Mutex
	texts      [][]byte
	frames     [][]byte
	events     []string
	frameErr   error
	frameDelay time.Duration
	closed     bool
}

func (t *fakeTransport) SendText(msg []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	json.Unmarshal(msg, &head)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, append([]byte(nil), msg...))
	t.events = append(t.events, "text:"+head.Type)
	return nil
}

func (t *fakeTransport) SendFrame(frame []byte) error {
	if t.frameDelay > 0 {
		time.Sleep(t.frameDelay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frameErr != nil {
		return t.frameErr
	}
	t.frames = append(t.frames, append([]byte(nil), frame...))
	t.events = append(t.events, "frame")
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// types returns the "type" field of every text message sent so far.
func (t *fakeTransport) types() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, raw := range t.texts {
		var head struct {
			Type string `json:"type"`
		}
		json.Unmarshal(raw, &head)
		out = append(out, head.Type)
	}
	return out
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.texts) + len(t.frames)
}

func (t *fakeTransport) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func (t *fakeTransport) eventLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

// countEvent returns how many times ev appears in the ordered log.
func (t *fakeTransport) countEvent(ev string) int {
	n := 0
	for _, e := range t.eventLog() {
		if e == ev {
			n++
		}
	}
	return n
}

// fakeRouter serves the three capabilities with canned responses and
// records the transcribe audio it received.
type fakeRouter struct {
	mu        sync.Mutex
	asrAudio  [][]byte
	asrText   string
	asrErr    error
	chatText  string
	chatErr   error
	ttsAudio  []byte
	ttsErr    error
	chatSeen  []provider.Message
	callDelay time.Duration
}

func (r *fakeRouter) Execute(ctx context.Context, cap provider.Capability, req *provider.Request) (*provider.Response, []provider.Attempt, error) {
	if r.callDelay > 0 {
		select {
		case <-time.After(r.callDelay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch cap {
	case provider.Transcribe:
		if r.asrErr != nil {
			return nil, nil, r.asrErr
		}
		r.asrAudio = append(r.asrAudio, append([]byte(nil), req.Audio...))
		return &provider.Response{Text: r.asrText}, nil, nil
	case provider.Chat:
		if r.chatErr != nil {
			return nil, nil, r.chatErr
		}
		r.chatSeen = append(r.chatSeen, req.Messages...)
		return &provider.Response{Text: r.chatText}, nil, nil
	case provider.Synthesize:
		if r.ttsErr != nil {
			return nil, nil, r.ttsErr
		}
		return &provider.Response{Audio: r.ttsAudio}, nil, nil
	}
	return nil, nil, errors.New("unexpected capability")
}

func (r *fakeRouter) transcribed() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.asrAudio))
	copy(out, r.asrAudio)
	return out
}

func newTestSession(t *testing.T, transport *fakeTransport, router Caller, opts Options) *Session {
	t.Helper()
	opts.Router = router
	s := New(transport, &protocol.Hello{DeviceID: "dev-test", Firmware: "1.0.0"}, opts)
	t.Cleanup(s.Close)
	return s
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// pcmSeconds builds n seconds of PCM in the default format.
func pcmSeconds(n int) []byte {
	return make([]byte, n*audio.L16Mono16K.BytesPerSecond())
}

func TestHandshakeSendsServerHello(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr, &fakeRouter{}, Options{})

	types := tr.types()
	if len(types) != 1 || types[0] != "hello" {
		t.Fatalf("messages after handshake = %v; want [hello]", types)
	}
	var hello struct {
		SessionID  string `json:"session_id"`
		SampleRate int    `json:"sample_rate"`
		FrameMs    int    `json:"frame_duration_ms"`
	}
	json.Unmarshal(tr.texts[0], &hello)
	if hello.SessionID != s.ID() || hello.SampleRate != 16000 || hello.FrameMs != 60 {
		t.Errorf("hello = %+v", hello)
	}
}

func TestUtteranceRoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{
		asrText:  "what time is it",
		chatText: "half past three",
		ttsAudio: make([]byte, 3*1920), // three 60ms frames
	}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	f1 := bytes.Repeat([]byte{1}, 1920)
	f2 := bytes.Repeat([]byte{2}, 1920)
	s.HandleFrame(f1)
	s.HandleFrame(f2)
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))

	waitFor(t, func() bool { return s.State() == StateConnected && tr.frameCount() == 3 })

	got := router.transcribed()
	if len(got) != 1 {
		t.Fatalf("transcribe calls = %d; want 1 (whole utterance at once)", len(got))
	}
	if want := append(append([]byte(nil), f1...), f2...); !bytes.Equal(got[0], want) {
		t.Error("utterance audio not concatenated in arrival order")
	}

	types := tr.types()
	want := []string{"hello", "asr_text", "tts_start", "tts_end"}
	if len(types) != len(want) {
		t.Fatalf("messages = %v; want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("messages = %v; want %v", types, want)
		}
	}
}

func TestChatHistoryAccumulates(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{asrText: "hi", chatText: "hello", ttsAudio: make([]byte, 1920)}
	s := newTestSession(t, tr, router, Options{})

	for range 2 {
		before := tr.frameCount()
		s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
		s.HandleFrame(make([]byte, 1920))
		s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))
		waitFor(t, func() bool { return s.State() == StateConnected && tr.frameCount() > before })
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	// Second chat call must include the first exchange: 1 + 3 messages.
	if len(router.chatSeen) != 4 {
		t.Errorf("chat messages seen = %d; want 4 (history carried)", len(router.chatSeen))
	}
}

func TestTranscribeFailureReturnsToConnected(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{asrErr: &provider.ExhaustedError{Capability: provider.Transcribe}}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))

	waitFor(t, func() bool {
		types := tr.types()
		return len(types) == 2 && types[1] == "error"
	})
	waitFor(t, func() bool { return s.State() == StateConnected })
}

func TestFrameSendFailureStillEmitsEndMarker(t *testing.T) {
	tr := &fakeTransport{frameErr: errors.New("write: broken pipe")}
	router := &fakeRouter{asrText: "hi", chatText: "hello", ttsAudio: make([]byte, 2*1920)}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))

	waitFor(t, func() bool {
		types := tr.types()
		return len(types) > 0 && types[len(types)-1] == "tts_end"
	})
}

func TestAbortClosesListenWindow(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{asrText: "stop it", chatText: "ok", ttsAudio: make([]byte, 1920)}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"abort","reason":"wake_word"}`))

	waitFor(t, func() bool { return len(router.transcribed()) == 1 })
}

func TestFramesOutsideListeningAreDropped(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr, &fakeRouter{}, Options{})

	s.HandleFrame(make([]byte, 1920))
	s.HandleFrame(make([]byte, 1920))
	s.HandleFrame(nil) // empty frame is a no-op, not a drop

	if got := s.DroppedFrames(); got != 2 {
		t.Errorf("DroppedFrames = %d; want 2", got)
	}
}

func TestMalformedControlIsNonFatal(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{asrText: "hi", chatText: "hey", ttsAudio: make([]byte, 1920)}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{not json`))
	s.HandleControl([]byte(`{"type":"warp"}`))

	types := tr.types()
	if len(types) != 3 || types[1] != "error" || types[2] != "error" {
		t.Fatalf("messages = %v; want hello then two errors", types)
	}

	// Session still works.
	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	if s.State() != StateListening {
		t.Errorf("state = %v after violations; want listening", s.State())
	}
}

func TestCloseSuppressesAllWrites(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{asrText: "hi", chatText: "hey", ttsAudio: make([]byte, 1920), callDelay: 50 * time.Millisecond}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))

	s.Close()
	n := tr.writeCount()

	// Give the in-flight utterance goroutine time to try to write.
	time.Sleep(150 * time.Millisecond)
	if got := tr.writeCount(); got != n {
		t.Errorf("writes after close: %d -> %d; want none", n, got)
	}
	if !tr.closed {
		t.Error("transport not closed")
	}

	s.Close() // idempotent
	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	if tr.writeCount() != n {
		t.Error("closed session handled input")
	}
}

// fakeRunner is a meeting pipeline stand-in.
type fakeRunner struct {
	mu     sync.Mutex
	inputs []*meeting.Input
	result *meeting.Result
	err    error
	block  chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, in *meeting.Input) (*meeting.Result, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inputs)
}

func meetingAcks(tr *fakeTransport) []map[string]string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var acks []map[string]string
	for _, raw := range tr.texts {
		var m map[string]any
		json.Unmarshal(raw, &m)
		if m["type"] != "meeting" {
			continue
		}
		ack := map[string]string{}
		for _, k := range []string{"action", "meeting_id", "status", "message"} {
			if v, ok := m[k].(string); ok {
				ack[k] = v
			}
		}
		acks = append(acks, ack)
	}
	return acks
}

func TestMeetingLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{ttsAudio: make([]byte, 1920)}
	runner := &fakeRunner{result: &meeting.Result{MeetingID: "x", Transcript: "t", Digest: "the digest"}}
	s := newTestSession(t, tr, router, Options{Meetings: runner})

	s.HandleControl([]byte(`{"type":"meeting","action":"start","title":"standup"}`))
	acks := meetingAcks(tr)
	if len(acks) != 1 || acks[0]["status"] != "ok" || acks[0]["meeting_id"] == "" {
		t.Fatalf("start acks = %v", acks)
	}
	id := acks[0]["meeting_id"]

	// Frames are captured regardless of listen state.
	s.HandleFrame(pcmSeconds(2))
	if s.DroppedFrames() != 0 {
		t.Error("meeting frame counted as dropped")
	}

	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))
	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))

	waitFor(t, func() bool { return runner.calls() == 1 })
	runner.mu.Lock()
	in := runner.inputs[0]
	runner.mu.Unlock()
	if in.MeetingID != id {
		t.Errorf("pipeline meeting id = %q; want %q", in.MeetingID, id)
	}
	if got := audio.L16Mono16K.Duration(len(in.PCM)); got != 2*time.Second {
		t.Errorf("pipeline audio duration = %v; want 2s", got)
	}

	// Completion ack, then the spoken digest stream.
	waitFor(t, func() bool {
		acks := meetingAcks(tr)
		return len(acks) == 4 && acks[3]["message"] == "done"
	})
	waitFor(t, func() bool {
		types := tr.types()
		return len(types) >= 2 && types[len(types)-1] == "tts_end"
	})
}

func TestMeetingStartWhileRecordingKeepsBuffer(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr, &fakeRouter{}, Options{Meetings: &fakeRunner{}})

	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))
	s.HandleFrame(pcmSeconds(1))
	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))

	acks := meetingAcks(tr)
	if len(acks) != 2 || acks[1]["status"] != "error" {
		t.Fatalf("acks = %v; want second start rejected", acks)
	}

	s.mu.Lock()
	dur := s.meetingBuf.Duration()
	s.mu.Unlock()
	if dur != time.Second {
		t.Errorf("buffer duration = %v after rejected start; want 1s intact", dur)
	}
}

func TestMeetingStopWithoutStart(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr, &fakeRouter{}, Options{Meetings: &fakeRunner{}})

	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))
	acks := meetingAcks(tr)
	if len(acks) != 1 || acks[0]["status"] != "error" {
		t.Fatalf("acks = %v; want error", acks)
	}
}

func TestMeetingTranscribeTooShort(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr, &fakeRouter{}, Options{Meetings: &fakeRunner{}})

	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))
	s.HandleFrame(make([]byte, 1920)) // 60ms, under the 1s minimum
	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))
	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))

	acks := meetingAcks(tr)
	last := acks[len(acks)-1]
	if last["action"] != "transcribe" || last["status"] != "error" {
		t.Fatalf("transcribe ack = %v; want error for short recording", last)
	}
}

// assertContiguousPlayback fails if any frame falls outside a
// tts_start..tts_end block or if blocks nest.
func assertContiguousPlayback(t *testing.T, events []string) {
	t.Helper()
	streaming := false
	for i, ev := range events {
		switch ev {
		case "text:tts_start":
			if streaming {
				t.Fatalf("event %d: tts_start inside an open playback block:\n%v", i, events)
			}
			streaming = true
		case "text:tts_end":
			if !streaming {
				t.Fatalf("event %d: tts_end without tts_start:\n%v", i, events)
			}
			streaming = false
		case "frame":
			if !streaming {
				t.Fatalf("event %d: frame outside a playback block:\n%v", i, events)
			}
		}
	}
	if streaming {
		t.Fatalf("playback block left open:\n%v", events)
	}
}

func TestDigestAndUtterancePlaybackDoNotInterleave(t *testing.T) {
	tr := &fakeTransport{frameDelay: 10 * time.Millisecond}
	router := &fakeRouter{
		asrText:  "hi",
		chatText: "hello",
		ttsAudio: make([]byte, 5*1920),
	}
	runner := &fakeRunner{result: &meeting.Result{MeetingID: "x", Transcript: "t", Digest: "the digest"}}
	s := newTestSession(t, tr, router, Options{Meetings: runner})

	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))
	s.HandleFrame(pcmSeconds(2))
	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))
	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))

	// Wait until the digest stream is on the wire, then run an utterance
	// while it is still going.
	waitFor(t, func() bool { return tr.countEvent("text:tts_start") == 1 })
	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))

	waitFor(t, func() bool { return tr.countEvent("text:tts_end") == 2 })
	assertContiguousPlayback(t, tr.eventLog())
	if got := tr.frameCount(); got != 10 {
		t.Errorf("frames = %d; want 10 (5 digest + 5 reply)", got)
	}
}

func TestAbortStopsDigestPlayback(t *testing.T) {
	tr := &fakeTransport{frameDelay: 10 * time.Millisecond}
	router := &fakeRouter{ttsAudio: make([]byte, 30*1920)}
	runner := &fakeRunner{result: &meeting.Result{MeetingID: "x", Transcript: "t", Digest: "the digest"}}
	s := newTestSession(t, tr, router, Options{Meetings: runner})

	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))
	s.HandleFrame(pcmSeconds(2))
	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))
	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))

	waitFor(t, func() bool { return tr.countEvent("text:tts_start") == 1 })
	s.HandleControl([]byte(`{"type":"abort","reason":"user"}`))

	waitFor(t, func() bool { return tr.countEvent("text:tts_end") == 1 })
	if got := tr.frameCount(); got >= 30 {
		t.Errorf("frames = %d; want digest stream cut short by abort", got)
	}
	assertContiguousPlayback(t, tr.eventLog())
}

func TestChatFailureLeavesHistoryClean(t *testing.T) {
	tr := &fakeTransport{}
	router := &fakeRouter{
		asrText:  "hi",
		chatErr:  &provider.ExhaustedError{Capability: provider.Chat},
		ttsAudio: make([]byte, 1920),
	}
	s := newTestSession(t, tr, router, Options{})

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))
	waitFor(t, func() bool {
		types := tr.types()
		return len(types) > 0 && types[len(types)-1] == "error"
	})

	router.mu.Lock()
	router.chatErr = nil
	router.chatText = "hello"
	router.mu.Unlock()

	s.HandleControl([]byte(`{"type":"listen","state":"start"}`))
	s.HandleFrame(make([]byte, 1920))
	s.HandleControl([]byte(`{"type":"listen","state":"stop"}`))
	waitFor(t, func() bool { return tr.frameCount() == 1 })

	router.mu.Lock()
	defer router.mu.Unlock()
	// The failed exchange must leave no dangling user turn: the second
	// call sees exactly its own message.
	if len(router.chatSeen) != 1 {
		t.Fatalf("chat messages seen = %v; want just the second user turn", router.chatSeen)
	}
	if router.chatSeen[0].Role != "user" || router.chatSeen[0].Content != "hi" {
		t.Errorf("chat message = %+v", router.chatSeen[0])
	}
}

func TestMeetingTranscribeRejectsConcurrent(t *testing.T) {
	tr := &fakeTransport{}
	runner := &fakeRunner{block: make(chan struct{}), result: &meeting.Result{}}
	s := newTestSession(t, tr, &fakeRouter{}, Options{Meetings: runner})

	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))
	s.HandleFrame(pcmSeconds(2))
	s.HandleControl([]byte(`{"type":"meeting","action":"stop"}`))

	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))
	waitFor(t, func() bool { return runner.calls() == 1 })

	// Both a second transcribe and a new meeting must be rejected while
	// the first transcription is outstanding.
	s.HandleControl([]byte(`{"type":"meeting","action":"transcribe"}`))
	s.HandleControl([]byte(`{"type":"meeting","action":"start"}`))

	acks := meetingAcks(tr)
	n := len(acks)
	if acks[n-2]["status"] != "error" || acks[n-1]["status"] != "error" {
		t.Fatalf("acks = %v; want both rejected", acks)
	}
	close(runner.block)
	if runner.calls() != 1 {
		t.Errorf("pipeline runs = %d; want 1", runner.calls())
	}
}
