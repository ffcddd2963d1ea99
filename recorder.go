package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/thesyncim/recorder"

// Option configures a Recorder.
type Option func(*Recorder)

// WithTracerProvider sets the provider used for session spans. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Recorder) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the coordinator's logger. Defaults to the package logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) {
		r.log = l.With().Str("component", "recorder").Logger()
	}
}

// Recorder coordinates one video and one audio worker behind a single
// start/stop/progress surface. Sessions run one at a time; a new session
// can start once the previous one has finished.
type Recorder struct {
	video  *VideoRecorder
	audio  *AudioRecorder
	tracer trace.Tracer
	log    zerolog.Logger

	mu      sync.Mutex
	session *Session
	acks    int // start acknowledgements; reset to zero at two
	stops   int // effective stop requests, across sessions
	closed  bool
}

// NewRecorder creates both workers on p.
func NewRecorder(p Platform, opts ...Option) (*Recorder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		log:    componentLogger("recorder"),
	}
	for _, opt := range opts {
		opt(r)
	}

	l := coordinatorListener{r}
	r.video = NewVideoRecorder(p, l)
	r.audio = NewAudioRecorder(p, l)
	return r, nil
}

// StartRecord starts a session with both workers. If a session is already
// active it is returned unchanged and the configs are ignored.
func (r *Recorder) StartRecord(video VideoConfig, audio AudioConfig) (*Session, error) {
	video.normalize()
	audio.normalize()
	if err := video.Validate(); err != nil {
		return nil, err
	}
	if err := audio.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrWorkerClosed
	}
	if r.session != nil && r.session.state.Active() {
		return r.session, nil
	}

	from := SessionIdle
	if r.session != nil {
		from = r.session.state
	}
	tr, ok := transitionFor(from, evStartRequested)
	if !ok {
		return nil, fmt.Errorf("start from %s not allowed", from)
	}

	s := newSession(uuid.NewString(), video, audio)
	s.setState(tr.To)
	s.log = r.log.With().Str("session_id", s.id).Logger()
	_, s.span = r.tracer.Start(context.Background(), "recorder.session",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("video.path", video.OutputPath),
			attribute.String("video.codec", video.Codec.String()),
			attribute.Int("video.width", video.Width),
			attribute.Int("video.height", video.Height),
			attribute.String("audio.path", audio.OutputPath),
			attribute.Int("audio.sample_rate", audio.SampleRate),
		))
	r.session = s
	r.acks = 0

	if err := r.video.Start(video); err != nil {
		s.fail(MediaKindVideo, err)
	}
	if err := r.audio.Start(audio); err != nil {
		s.fail(MediaKindAudio, err)
	}

	s.log.Info().Str("video", video.OutputPath).Str("audio", audio.OutputPath).Msg("session starting")
	return s, nil
}

// StopRecord asks both workers to finalize. It is a no-op when no session
// is active or a stop is already in progress.
func (r *Recorder) StopRecord() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked("stop requested", evStopRequested)
}

func (r *Recorder) stopLocked(reason string, ev sessionEvent) bool {
	s := r.session
	if s == nil {
		return false
	}
	tr, ok := transitionFor(s.state, ev)
	if !ok {
		return false
	}
	s.setState(tr.To)
	r.stops++
	s.span.AddEvent("stop_requested", trace.WithAttributes(attribute.String("reason", reason)))
	s.log.Info().Str("reason", reason).Msg("session stopping")

	if err := r.video.Stop(); err != nil {
		s.fail(MediaKindVideo, err)
	}
	if err := r.audio.Stop(); err != nil {
		s.fail(MediaKindAudio, err)
	}
	r.checkFinishedLocked()
	return true
}

// FrameAvailable forwards a composited frame to the video worker. Frames
// are dropped unless the session is recording; frames with a zero
// timestamp are dropped because the texture source has not produced real
// content yet. It reports whether the frame was forwarded.
func (r *Recorder) FrameAvailable(sample FrameSample) bool {
	if sample.TimestampNs == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.state != SessionRecording || !r.video.IsRecording() {
		return false
	}
	return r.video.FrameAvailable(sample) == nil
}

// Session returns the most recent session, or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// VideoStats returns the video worker statistics.
func (r *Recorder) VideoStats() VideoRecorderStats {
	return r.video.Stats()
}

// AudioStats returns the audio worker statistics.
func (r *Recorder) AudioStats() AudioRecorderStats {
	return r.audio.Stats()
}

// Close stops any active session and joins both workers. Workers finalize
// their streams before exiting, so the session is finished on return.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopLocked("recorder closed", evStopRequested)
	r.mu.Unlock()

	var g errgroup.Group
	g.Go(r.video.Close)
	g.Go(r.audio.Close)
	return g.Wait()
}

func (r *Recorder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *Recorder) onStart(kind MediaKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil || s.state != SessionStarting {
		return
	}
	s.span.AddEvent("start_acked", trace.WithAttributes(attribute.String("media", kind.String())))

	r.acks++
	if r.acks < 2 {
		s.log.Debug().Str("media", kind.String()).Msg("start acknowledged")
		return
	}
	r.acks = 0

	tr, ok := transitionFor(s.state, evStartAcked)
	if !ok {
		return
	}
	s.setState(tr.To)
	close(s.started)
	s.log.Info().Msg("session recording")
}

func (r *Recorder) onRecording(kind MediaKind, elapsed time.Duration) {
	if kind != MediaKindVideo {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil || s.state != SessionRecording {
		return
	}
	s.mu.Lock()
	s.elapsed = elapsed
	s.mu.Unlock()

	maxDur := s.video.MaxDuration
	ratio := 0.0
	if maxDur > 0 {
		ratio = float64(elapsed) / float64(maxDur)
		if ratio > 1 {
			ratio = 1
		}
	}
	s.publishProgress(ratio)

	if maxDur > 0 && elapsed >= maxDur {
		r.stopLocked("max duration reached", evStopRequested)
	}
}

func (r *Recorder) onFinish(result RecordResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil || !s.state.Active() {
		return
	}
	if !s.report(result.Kind, result, nil) {
		return
	}
	s.span.AddEvent("stream_finished", trace.WithAttributes(
		attribute.String("media", result.Kind.String()),
		attribute.String("path", result.Path),
		attribute.Int64("duration_us", result.Duration.Microseconds()),
	))
	s.log.Info().Str("media", result.Kind.String()).Str("path", result.Path).Dur("duration", result.Duration).Msg("stream finished")
	r.checkFinishedLocked()
}

func (r *Recorder) onError(kind MediaKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil || !s.state.Active() {
		return
	}
	if !s.report(kind, RecordResult{}, err) {
		return
	}
	s.span.RecordError(err, trace.WithAttributes(attribute.String("media", kind.String())))
	s.span.AddEvent("stream_failed", trace.WithAttributes(attribute.String("media", kind.String())))
	s.log.Error().Err(err).Str("media", kind.String()).Msg("stream failed")

	// The surviving stream is finalized rather than left running.
	if !r.stopLocked(kind.String()+" stream failed", evStreamFailed) {
		r.checkFinishedLocked()
	}
}

func (r *Recorder) checkFinishedLocked() {
	s := r.session
	if s == nil || !s.reportedAll() {
		return
	}
	tr, ok := transitionFor(s.state, evStreamsReported)
	if !ok {
		return
	}
	s.setState(tr.To)
	s.finish()
}

// coordinatorListener adapts worker callbacks to the Recorder without
// exporting them on Recorder itself.
type coordinatorListener struct{ r *Recorder }

func (l coordinatorListener) OnRecordStart(kind MediaKind) { l.r.onStart(kind) }

func (l coordinatorListener) OnRecording(kind MediaKind, elapsed time.Duration) {
	l.r.onRecording(kind, elapsed)
}

func (l coordinatorListener) OnRecordFinish(result RecordResult) { l.r.onFinish(result) }

func (l coordinatorListener) OnRecordError(kind MediaKind, err error) { l.r.onError(kind, err) }

// Session is the observable handle of one recording. Transitions happen
// under the owning Recorder's mutex; accessors are safe for concurrent use.
type Session struct {
	id    string
	video VideoConfig
	audio AudioConfig
	log   zerolog.Logger
	span  trace.Span

	mu       sync.Mutex
	state    SessionState
	elapsed  time.Duration
	reported [2]bool
	results  [2]RecordResult
	errs     [2]error

	progress chan float64
	resultCh chan RecordResult
	started  chan struct{}
	done     chan struct{}
}

func newSession(id string, video VideoConfig, audio AudioConfig) *Session {
	return &Session{
		id:       id,
		video:    video,
		audio:    audio,
		progress: make(chan float64, 1),
		resultCh: make(chan RecordResult, 2),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// VideoConfig returns the normalized video configuration.
func (s *Session) VideoConfig() VideoConfig { return s.video }

// AudioConfig returns the normalized audio configuration.
func (s *Session) AudioConfig() AudioConfig { return s.audio }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns the video duration last reported by the worker.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Progress delivers elapsed/MaxDuration in [0,1]. Only the most recent
// value is kept; a slow reader skips intermediate values. It reports 0 when
// MaxDuration is unset.
func (s *Session) Progress() <-chan float64 { return s.progress }

// Results delivers one RecordResult per successfully finalized stream and
// is closed when the session finishes. A failed stream delivers nothing;
// see Err.
func (s *Session) Results() <-chan RecordResult { return s.resultCh }

// Started is closed once both workers acknowledged the start.
func (s *Session) Started() <-chan struct{} { return s.started }

// Done is closed once both streams reported a result or an error.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the finalized result for kind, if any.
func (s *Session) Result(kind MediaKind) (RecordResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(kind)
	if i < 0 || i >= len(s.results) || !s.reported[i] || s.errs[i] != nil {
		return RecordResult{}, false
	}
	return s.results[i], true
}

// Err returns the joined stream errors, or nil if every reported stream
// finished cleanly.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs[:]...)
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// fail records an error for a stream whose worker rejected a command.
func (s *Session) fail(kind MediaKind, err error) {
	s.report(kind, RecordResult{}, err)
}

// report stores the outcome of a stream. It returns false if the stream
// already reported.
func (s *Session) report(kind MediaKind, result RecordResult, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := int(kind)
	if i < 0 || i >= len(s.reported) || s.reported[i] {
		return false
	}
	s.reported[i] = true
	s.errs[i] = err
	if err == nil {
		s.results[i] = result
		s.resultCh <- result
	}
	return true
}

func (s *Session) reportedAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reported[MediaKindVideo] && s.reported[MediaKindAudio]
}

// publishProgress replaces any unread progress value with ratio.
func (s *Session) publishProgress(ratio float64) {
	select {
	case s.progress <- ratio:
		return
	default:
	}
	select {
	case <-s.progress:
	default:
	}
	select {
	case s.progress <- ratio:
	default:
	}
}

func (s *Session) finish() {
	s.mu.Lock()
	errs := s.errs
	s.mu.Unlock()

	outcome := "complete"
	if err := errors.Join(errs[:]...); err != nil {
		outcome = "partial"
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	sessionsTotal.WithLabelValues(outcome).Inc()
	s.span.End()
	s.log.Info().Str("outcome", outcome).Msg("session finished")

	close(s.resultCh)
	close(s.done)
}
