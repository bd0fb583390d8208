// Package meeting turns a finalized meeting recording into a transcript and
// a structured summary. The audio is cut into fixed-duration segments,
// transcribed with bounded concurrency through the provider router,
// reassembled in segment order, summarized in one best-effort chat call,
// and persisted through the storage collaborators.
package meeting

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/echoear/voicegate/pkg/audio"
	"github.com/echoear/voicegate/pkg/blob"
	"github.com/echoear/voicegate/pkg/provider"
	"github.com/echoear/voicegate/pkg/store"
)

// Pipeline defaults.
const (
	// DefaultSegmentWindow is the fixed duration of one transcription
	// segment.
	DefaultSegmentWindow = 25 * time.Second

	// DefaultConcurrency bounds parallel segment transcription to avoid
	// overloading providers.
	DefaultConcurrency = 3

	// DefaultMinSummaryChars is the transcript length below which
	// summarization is skipped; summarizing near-empty content is both
	// wasteful and unreliable.
	DefaultMinSummaryChars = 100

	// digestLimit bounds the fallback spoken digest.
	digestLimit = 200
)

// Caller executes capability calls with fallback. *provider.Router
// satisfies this interface.
type Caller interface {
	Execute(ctx context.Context, cap provider.Capability, req *provider.Request) (*provider.Response, []provider.Attempt, error)
}

// Notifier pushes a finished transcript and summary to an external document
// destination. Push failures are reported but never invalidate the result.
type Notifier interface {
	Push(ctx context.Context, rec *store.Record) error
}

// Options configures a Pipeline. Zero values select the defaults above;
// Store, Archive, and Push are optional collaborators.
type Options struct {
	SegmentWindow   time.Duration
	Concurrency     int
	MinSummaryChars int

	Store   store.Store
	Archive blob.Store
	Push    Notifier

	Logger *slog.Logger
}

// Pipeline processes finalized meeting recordings.
type Pipeline struct {
	router  Caller
	window  time.Duration
	workers int
	minSum  int
	store   store.Store
	archive blob.Store
	push    Notifier
	logger  *slog.Logger
}

// New creates a meeting pipeline over the given capability router.
func New(router Caller, opts Options) *Pipeline {
	p := &Pipeline{
		router:  router,
		window:  opts.SegmentWindow,
		workers: opts.Concurrency,
		minSum:  opts.MinSummaryChars,
		store:   opts.Store,
		archive: opts.Archive,
		push:    opts.Push,
		logger:  opts.Logger,
	}
	if p.window <= 0 {
		p.window = DefaultSegmentWindow
	}
	if p.workers <= 0 {
		p.workers = DefaultConcurrency
	}
	if p.minSum <= 0 {
		p.minSum = DefaultMinSummaryChars
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Input is one finalized meeting recording.
type Input struct {
	MeetingID string
	DeviceID  string
	Title     string
	StartedAt time.Time
	StoppedAt time.Time

	PCM    []byte
	Format audio.Format
}

// Result is the outcome of one pipeline run. Transcript may be partial
// (see Gaps) and Summary may be nil when summarization was skipped or
// failed; neither aborts the run.
type Result struct {
	MeetingID  string
	Transcript string
	Gaps       []int
	Summary    *Summary
	Digest     string
}

// Run executes the pipeline on one recording. It returns an error only
// when the context is canceled before any transcript is assembled; all
// capability failures degrade per the result contract instead.
func (p *Pipeline) Run(ctx context.Context, in *Input) (*Result, error) {
	segs := audio.Segment(in.PCM, in.Format, p.window)
	p.logger.Info("meeting pipeline started",
		"meeting", in.MeetingID,
		"duration", in.Format.Duration(len(in.PCM)),
		"segments", len(segs))

	p.updateRecord(ctx, in, func(rec *store.Record) {
		rec.Status = store.StatusTranscribing
	})

	texts, gaps := p.transcribeSegments(ctx, segs, in.Format)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("meeting: transcription canceled: %w", err)
	}

	transcript := joinTranscripts(texts)
	res := &Result{
		MeetingID:  in.MeetingID,
		Transcript: transcript,
		Gaps:       gaps,
	}

	if len(transcript) >= p.minSum {
		summary, err := p.summarize(ctx, transcript)
		if err != nil {
			// Degrade to transcript-only, never abort.
			p.logger.Warn("meeting summarization failed", "meeting", in.MeetingID, "error", err)
		} else {
			res.Summary = summary
		}
	} else {
		p.logger.Info("meeting transcript too short, skipping summary",
			"meeting", in.MeetingID, "chars", len(transcript))
	}

	if res.Summary != nil {
		res.Digest = res.Summary.Digest()
	} else {
		res.Digest = digestFromTranscript(transcript, digestLimit)
	}

	p.persist(ctx, in, res)
	return res, nil
}

// transcribeSegments runs segment transcription with bounded concurrency
// and joins results by segment index, regardless of completion order. A
// segment whose provider chain is exhausted contributes empty text and a
// flagged gap.
func (p *Pipeline) transcribeSegments(ctx context.Context, segs [][]byte, format audio.Format) ([]string, []int) {
	texts := make([]string, len(segs))
	failed := make([]bool, len(segs))

	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup
	for i, seg := range segs {
		wg.Add(1)
		go func(i int, seg []byte) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, _, err := p.router.Execute(ctx, provider.Transcribe, &provider.Request{
				Audio:  seg,
				Format: format,
			})
			if err != nil {
				failed[i] = true
				p.logger.Warn("segment transcription failed", "segment", i, "error", err)
				return
			}
			texts[i] = resp.Text
		}(i, seg)
	}
	wg.Wait()

	var gaps []int
	for i, f := range failed {
		if f {
			gaps = append(gaps, i)
		}
	}
	return texts, gaps
}

// joinTranscripts concatenates per-segment texts in segment order, skipping
// empty entries.
func joinTranscripts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// summarize performs the single best-effort summary call. Fallback within
// the call is the router's own chain; there is no retry beyond it.
func (p *Pipeline) summarize(ctx context.Context, transcript string) (*Summary, error) {
	resp, _, err := p.router.Execute(ctx, provider.Chat, &provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: summaryInstruction},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return nil, err
	}
	summary, err := decodeSummary(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("meeting: decode summary: %w", err)
	}
	return summary, nil
}

// persist updates the meeting record, archives the audio, and pushes the
// document. Each step's failure is reported and the rest continue; the
// produced transcript and summary are never invalidated.
func (p *Pipeline) persist(ctx context.Context, in *Input, res *Result) {
	audioPath := ""
	if p.archive != nil {
		audioPath = fmt.Sprintf("meetings/%s/audio.wav", in.MeetingID)
		wav := audio.WAV(in.PCM, in.Format)
		if err := p.archive.Put(ctx, audioPath, bytes.NewReader(wav)); err != nil {
			p.logger.Warn("meeting audio archive failed", "meeting", in.MeetingID, "error", err)
			audioPath = ""
		}
	}

	var rec *store.Record
	p.updateRecord(ctx, in, func(r *store.Record) {
		r.Status = store.StatusDone
		r.Transcript = res.Transcript
		r.Gaps = res.Gaps
		if res.Summary != nil {
			r.Summary = res.Summary.Render()
		}
		if audioPath != "" {
			r.AudioPath = audioPath
		}
		rec = r
	})

	if p.push != nil && rec != nil {
		if err := p.push.Push(ctx, rec); err != nil {
			p.logger.Warn("meeting document push failed", "meeting", in.MeetingID, "error", err)
		}
	}
}

// updateRecord loads, mutates, and stores the meeting record, creating it
// if the session never persisted one. Store failures are logged only.
func (p *Pipeline) updateRecord(ctx context.Context, in *Input, mutate func(*store.Record)) {
	if p.store == nil {
		return
	}
	rec, err := p.store.Get(ctx, in.MeetingID)
	if err != nil {
		rec = &store.Record{
			ID:        in.MeetingID,
			DeviceID:  in.DeviceID,
			Title:     in.Title,
			StartedAt: in.StartedAt,
			StoppedAt: in.StoppedAt,
			Duration:  in.Format.Duration(len(in.PCM)),
		}
	}
	mutate(rec)
	if err := p.store.Put(ctx, rec); err != nil {
		p.logger.Warn("meeting record update failed", "meeting", in.MeetingID, "error", err)
	}
}
