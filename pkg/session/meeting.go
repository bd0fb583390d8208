package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/echoear/voicegate/pkg/meeting"
	"github.com/echoear/voicegate/pkg/protocol"
	"github.com/echoear/voicegate/pkg/store"
)

// handleMeeting dispatches the meeting tool actions. Every action is
// acknowledged; state conflicts are reported as error acks, never fatal.
func (s *Session) handleMeeting(m *protocol.Meeting) {
	switch m.Action {
	case protocol.MeetingStart:
		s.meetingStartAction(m.Title)
	case protocol.MeetingStop:
		s.meetingStopAction()
	case protocol.MeetingTranscribe:
		s.meetingTranscribeAction()
	default:
		s.logger.Warn("protocol violation", "meeting_action", m.Action)
		s.sendJSON(protocol.NewMeetingAck(m.Action, "", "error", "unknown action"))
	}
}

func (s *Session) meetingStartAction(title string) {
	s.mu.Lock()
	if s.meetingActive {
		id := s.meetingID
		s.mu.Unlock()
		s.logger.Warn("meeting start rejected", "error", ErrAlreadyRecording, "meeting", id)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingStart, id, "error", ErrAlreadyRecording.Error()))
		return
	}
	if s.transcribing {
		id := s.transcribingID
		s.mu.Unlock()
		s.logger.Warn("meeting start rejected", "error", ErrTranscribeBusy, "meeting", id)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingStart, "", "error", ErrTranscribeBusy.Error()))
		return
	}

	id := uuid.NewString()[:8]
	s.meetingActive = true
	s.meetingID = id
	s.meetingTitle = title
	s.meetingStart = time.Now()
	s.meetingStop = time.Time{}
	s.meetingBuf.Reset()
	start := s.meetingStart
	s.mu.Unlock()

	s.putRecord(&store.Record{
		ID:        id,
		DeviceID:  s.deviceID,
		Title:     title,
		StartedAt: start,
		Status:    store.StatusRecording,
	})

	s.logger.Info("meeting started", "meeting", id, "title", title)
	s.sendJSON(protocol.NewMeetingAck(protocol.MeetingStart, id, "ok", ""))
}

func (s *Session) meetingStopAction() {
	s.mu.Lock()
	if !s.meetingActive {
		s.mu.Unlock()
		s.logger.Warn("meeting stop rejected", "error", ErrNotRecording)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingStop, "", "error", ErrNotRecording.Error()))
		return
	}
	s.meetingActive = false
	s.meetingStop = time.Now()
	id := s.meetingID
	title := s.meetingTitle
	start := s.meetingStart
	stop := s.meetingStop
	dur := s.meetingBuf.Duration()
	s.mu.Unlock()

	s.putRecord(&store.Record{
		ID:        id,
		DeviceID:  s.deviceID,
		Title:     title,
		StartedAt: start,
		StoppedAt: stop,
		Duration:  dur,
		Status:    store.StatusRecorded,
	})

	s.logger.Info("meeting stopped", "meeting", id, "duration", dur)
	s.sendJSON(protocol.NewMeetingAck(protocol.MeetingStop, id, "ok", ""))
}

// meetingTranscribeAction launches the meeting pipeline in its own
// goroutine, detached from the session's listen/process cycle. The spoken
// digest is delivered on completion unless the session closed meanwhile.
func (s *Session) meetingTranscribeAction() {
	s.mu.Lock()
	if s.meetings == nil {
		s.mu.Unlock()
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, "", "error", "meeting transcription not configured"))
		return
	}
	if s.meetingActive {
		id := s.meetingID
		s.mu.Unlock()
		s.logger.Warn("meeting transcribe rejected", "error", ErrAlreadyRecording, "meeting", id)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, id, "error", ErrAlreadyRecording.Error()))
		return
	}
	if s.transcribing {
		id := s.transcribingID
		s.mu.Unlock()
		s.logger.Warn("meeting transcribe rejected", "error", ErrTranscribeBusy, "meeting", id)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, id, "error", ErrTranscribeBusy.Error()))
		return
	}
	if s.meetingID == "" || s.meetingBuf.Duration() < MinMeetingDuration {
		id := s.meetingID
		s.mu.Unlock()
		s.logger.Warn("meeting transcribe rejected", "error", ErrNoMeetingData, "meeting", id)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, id, "error", ErrNoMeetingData.Error()))
		return
	}

	in := &meeting.Input{
		MeetingID: s.meetingID,
		DeviceID:  s.deviceID,
		Title:     s.meetingTitle,
		StartedAt: s.meetingStart,
		StoppedAt: s.meetingStop,
		PCM:       s.meetingBuf.Bytes(),
		Format:    s.format,
	}
	s.transcribing = true
	s.transcribingID = s.meetingID
	s.mu.Unlock()

	s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, in.MeetingID, "ok", "transcription started"))
	go s.runTranscription(in)
}

// runTranscription executes the pipeline and speaks the digest. It survives
// session closure: the pipeline runs on the session context, so a close
// cancels it, and results arriving after close are discarded by the send
// guards.
func (s *Session) runTranscription(in *meeting.Input) {
	defer func() {
		s.mu.Lock()
		s.transcribing = false
		s.transcribingID = ""
		s.mu.Unlock()
	}()

	res, err := s.meetings.Run(s.ctx, in)
	if err != nil {
		s.logger.Warn("meeting transcription failed", "meeting", in.MeetingID, "error", err)
		s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, in.MeetingID, "error", "transcription failed"))
		return
	}

	s.logger.Info("meeting transcription done",
		"meeting", in.MeetingID,
		"transcript_chars", len(res.Transcript),
		"gaps", len(res.Gaps))
	s.sendJSON(protocol.NewMeetingAck(protocol.MeetingTranscribe, in.MeetingID, "ok", "done"))

	if res.Digest != "" {
		if err := s.speak(res.Digest, s.abortSeq.Load()); err != nil {
			s.logger.Warn("digest playback failed", "meeting", in.MeetingID, "error", err)
		}
	}
}

// putRecord persists a meeting lifecycle record, best-effort.
func (s *Session) putRecord(rec *store.Record) {
	if s.records == nil {
		return
	}
	if err := s.records.Put(s.ctx, rec); err != nil {
		s.logger.Warn("meeting record persist failed", "meeting", rec.ID, "error", err)
	}
}
