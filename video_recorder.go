package recorder

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RecordListener receives worker lifecycle events. Callbacks run on the
// worker's goroutine and must not block.
type RecordListener interface {
	// OnRecordStart acknowledges a successful start.
	OnRecordStart(kind MediaKind)

	// OnRecording reports the stream duration after each written sample.
	OnRecording(kind MediaKind, elapsed time.Duration)

	// OnRecordFinish reports a finalized output file.
	OnRecordFinish(result RecordResult)

	// OnRecordError reports a failed start or an aborted stream. No
	// RecordResult follows for that stream.
	OnRecordError(kind MediaKind, err error)
}

type videoCommandKind int

const (
	videoCmdStart videoCommandKind = iota
	videoCmdFrame
	videoCmdStop
	videoCmdQuit
)

type videoCommand struct {
	kind   videoCommandKind
	config VideoConfig
	frame  FrameSample
}

// VideoRecorderStats provides video worker statistics.
type VideoRecorderStats struct {
	FramesDrawn     uint64
	FramesDropped   uint64 // Superseded in the mailbox or arrived while idle
	FramesCoalesced uint64 // Superseded in the mailbox by a newer frame
	DrawErrors      uint64
	CommandsPosted  uint64
}

// VideoRecorder owns one hardware video encoder, its input surface and a
// container writer. It is an actor: commands are posted without blocking
// and applied in order on a single goroutine locked to its OS thread.
type VideoRecorder struct {
	platform Platform
	listener RecordListener
	baseLog  zerolog.Logger

	mailbox   *mailbox[videoCommand]
	done      chan struct{}
	recording atomic.Bool
	closed    atomic.Bool

	stats   VideoRecorderStats
	statsMu sync.Mutex

	// Owned by the worker goroutine.
	log     zerolog.Logger
	cfg     VideoConfig
	encoder VideoEncoder
	gpu     GPUContext
	surface Surface
	filter  *ImageFilter
	writer  ContainerWriter
	drainer *drainer
}

// NewVideoRecorder creates the worker and starts its goroutine.
func NewVideoRecorder(p Platform, listener RecordListener) *VideoRecorder {
	r := &VideoRecorder{
		platform: p,
		listener: listener,
		baseLog:  componentLogger("video-recorder"),
		mailbox: newMailbox(func(pending, next videoCommand) bool {
			return pending.kind == videoCmdFrame && next.kind == videoCmdFrame
		}),
		done: make(chan struct{}),
	}
	r.log = r.baseLog
	go r.run()
	return r
}

// Start posts a start command.
func (r *VideoRecorder) Start(cfg VideoConfig) error {
	return r.post(videoCommand{kind: videoCmdStart, config: cfg})
}

// FrameAvailable posts a composited frame. A frame still waiting in the
// mailbox is replaced by the newer one.
func (r *VideoRecorder) FrameAvailable(sample FrameSample) error {
	return r.post(videoCommand{kind: videoCmdFrame, frame: sample})
}

// Stop posts a stop command. Frames posted earlier are encoded first.
func (r *VideoRecorder) Stop() error {
	return r.post(videoCommand{kind: videoCmdStop})
}

// IsRecording reports whether the encoder is running.
func (r *VideoRecorder) IsRecording() bool {
	return r.recording.Load()
}

// Stats returns worker statistics. FramesDropped includes FramesCoalesced.
func (r *VideoRecorder) Stats() VideoRecorderStats {
	r.statsMu.Lock()
	s := r.stats
	r.statsMu.Unlock()

	posted, coalesced := r.mailbox.stats()
	s.CommandsPosted = posted
	s.FramesCoalesced = coalesced
	s.FramesDropped += coalesced
	return s
}

// Close stops any active recording, then joins the worker goroutine.
func (r *VideoRecorder) Close() error {
	if r.closed.Swap(true) {
		<-r.done
		return nil
	}
	r.mailbox.post(videoCommand{kind: videoCmdQuit})
	<-r.done
	return nil
}

func (r *VideoRecorder) post(cmd videoCommand) error {
	if r.closed.Load() {
		return ErrWorkerClosed
	}
	ok, replaced := r.mailbox.post(cmd)
	if !ok {
		return ErrWorkerClosed
	}
	if replaced {
		videoFramesTotal.WithLabelValues("dropped").Inc()
	}
	return nil
}

func (r *VideoRecorder) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	defer r.mailbox.close()

	for {
		cmd, ok := r.mailbox.take()
		if !ok {
			return
		}
		switch cmd.kind {
		case videoCmdStart:
			r.handleStart(cmd.config)
		case videoCmdFrame:
			r.handleFrame(cmd.frame)
		case videoCmdStop:
			r.handleStop()
		case videoCmdQuit:
			r.handleStop()
			return
		}
	}
}

func (r *VideoRecorder) handleStart(cfg VideoConfig) {
	if r.encoder != nil {
		r.log.Warn().Msg("start ignored: already recording")
		return
	}

	cfg.normalize()
	r.cfg = cfg
	r.log = r.baseLog.With().Str("path", cfg.OutputPath).Logger()
	r.log.Debug().Int("width", cfg.Width).Int("height", cfg.Height).Str("codec", cfg.Codec.String()).Msg("start received")

	if err := r.acquire(cfg); err != nil {
		r.log.Error().Err(err).Msg("video start failed")
		r.teardown(false)
		r.listener.OnRecordError(MediaKindVideo, err)
		return
	}

	r.recording.Store(true)
	r.listener.OnRecordStart(MediaKindVideo)
}

func (r *VideoRecorder) acquire(cfg VideoConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	enc, err := r.platform.Codecs.NewVideoEncoder(videoFormat(cfg))
	if err != nil {
		return fmt.Errorf("create video encoder: %w", err)
	}
	r.encoder = enc

	window, err := enc.CreateInputSurface()
	if err != nil {
		return fmt.Errorf("create encoder input surface: %w", err)
	}

	gpu, err := r.platform.Display.NewContext(cfg.SharedContext, true)
	if err != nil {
		return fmt.Errorf("create recording context: %w", err)
	}
	r.gpu = gpu

	surface, err := gpu.CreateWindowSurface(window)
	if err != nil {
		return fmt.Errorf("create encoder window surface: %w", err)
	}
	r.surface = surface

	if err := gpu.MakeCurrent(surface); err != nil {
		return fmt.Errorf("make encoder surface current: %w", err)
	}

	filter := NewImageFilter(r.platform.GL)
	if err := filter.Init(); err != nil {
		return fmt.Errorf("init encoder filter: %w", err)
	}
	filter.SetDisplaySize(cfg.Width, cfg.Height)
	r.filter = filter

	writer, err := r.platform.writers()(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create video writer: %w", err)
	}
	r.writer = writer

	if err := enc.Start(); err != nil {
		return fmt.Errorf("start video encoder: %w", err)
	}

	r.drainer = newDrainer(MediaKindVideo, enc, writer, cfg.DrainTimeout, cfg.EOSTimeout, r.log)
	r.drainer.onSample = func(elapsed time.Duration) {
		r.listener.OnRecording(MediaKindVideo, elapsed)
	}
	return nil
}

func (r *VideoRecorder) handleFrame(sample FrameSample) {
	if r.encoder == nil || !r.recording.Load() {
		r.countDropped()
		return
	}

	target := renderTarget{ctx: r.gpu, surface: r.surface, encoder: true}
	if err := present(target, r.filter, sample.TextureID, sample.TimestampNs); err != nil {
		r.log.Warn().Err(err).Int64("timestamp_ns", sample.TimestampNs).Msg("draw to encoder surface failed")
		r.statsMu.Lock()
		r.stats.DrawErrors++
		r.statsMu.Unlock()
		return
	}
	videoFramesTotal.WithLabelValues("drawn").Inc()
	r.statsMu.Lock()
	r.stats.FramesDrawn++
	r.statsMu.Unlock()

	if err := r.drainer.drain(false); err != nil {
		r.abort(err)
	}
}

func (r *VideoRecorder) handleStop() {
	if r.encoder == nil {
		return
	}
	r.recording.Store(false)
	r.log.Debug().Msg("stop received")

	if err := r.encoder.SignalEndOfInputStream(); err != nil {
		r.log.Warn().Err(err).Msg("signal end of input stream")
	}
	if err := r.drainer.drain(true); err != nil {
		if !errors.Is(err, ErrEndOfStreamTimeout) {
			r.abort(err)
			return
		}
		r.log.Warn().Err(err).Msg("final drain incomplete")
	}

	result := RecordResult{
		Kind:     MediaKindVideo,
		Path:     r.cfg.OutputPath,
		Duration: r.drainer.duration(),
		MimeType: r.cfg.Codec.MimeType(),
		Samples:  r.drainer.samples,
	}
	if result.Samples == 0 {
		// The writer discards an empty file on release.
		result.Path = ""
	}
	if err := r.teardown(true); err != nil {
		r.log.Error().Err(err).Msg("finalize video file")
		r.listener.OnRecordError(MediaKindVideo, err)
		return
	}

	r.log.Info().Dur("duration", result.Duration).Int("samples", result.Samples).Msg("video recording finished")
	r.listener.OnRecordFinish(result)
}

// abort tears the session down without finalizing the output file.
func (r *VideoRecorder) abort(err error) {
	r.log.Error().Err(err).Msg("video recording aborted")
	r.recording.Store(false)
	r.teardown(false)
	r.listener.OnRecordError(MediaKindVideo, err)
}

// teardown releases every handle, best effort, and nulls it so a repeated
// stop is a no-op. With finalize set a started writer holding samples is
// stopped first; the returned error is the writer's Stop error.
func (r *VideoRecorder) teardown(finalize bool) error {
	log := r.log
	var finalizeErr error

	if r.encoder != nil {
		if r.drainer != nil {
			releaseQuietly(log, "stop video encoder", r.encoder.Stop)
		}
		releaseQuietly(log, "release video encoder", r.encoder.Release)
		r.encoder = nil
	}

	if r.filter != nil {
		if r.gpu != nil && r.surface != nil {
			releaseQuietly(log, "make encoder surface current", func() error { return r.gpu.MakeCurrent(r.surface) })
		}
		r.filter.Release()
		r.filter = nil
	}
	if r.gpu != nil {
		releaseQuietly(log, "release current context", r.gpu.ReleaseCurrent)
	}
	if r.surface != nil {
		releaseQuietly(log, "release encoder surface", r.surface.Release)
		r.surface = nil
	}
	if r.gpu != nil {
		releaseQuietly(log, "release recording context", r.gpu.Release)
		r.gpu = nil
	}

	if r.writer != nil {
		if finalize && r.drainer != nil && r.drainer.writerStarted && r.drainer.samples > 0 {
			if err := r.writer.Stop(); err != nil {
				finalizeErr = err
			}
		}
		releaseQuietly(log, "release video writer", r.writer.Release)
		r.writer = nil
	}

	r.drainer = nil
	r.recording.Store(false)
	return finalizeErr
}

func (r *VideoRecorder) countDropped() {
	videoFramesTotal.WithLabelValues("dropped").Inc()
	r.statsMu.Lock()
	r.stats.FramesDropped++
	r.statsMu.Unlock()
}

// releaseQuietly runs a release step, logging failures and panics instead of
// propagating them so the remaining steps still run.
func releaseQuietly(log zerolog.Logger, what string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Interface("panic", p).Msg(what)
		}
	}()
	if err := fn(); err != nil {
		log.Warn().Err(err).Msg(what)
	}
}
