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

var errEmptyInputBuffer = errors.New("encoder returned empty input buffer")

type audioCommandKind int

const (
	audioCmdStart audioCommandKind = iota
	audioCmdStop
	audioCmdQuit
)

type audioCommand struct {
	kind   audioCommandKind
	config AudioConfig
}

// AudioRecorderStats provides audio worker statistics.
type AudioRecorderStats struct {
	BytesCaptured uint64
	ChunksQueued  uint64
	EmptyReads    uint64
}

// AudioRecorder owns a microphone stream, a hardware audio encoder and its
// own container writer. Its goroutine is a plain run loop: while idle it
// blocks on the command queue, while recording it alternates between one
// capture-encode-drain step and a non-blocking command check.
type AudioRecorder struct {
	platform Platform
	listener RecordListener
	baseLog  zerolog.Logger

	mailbox   *mailbox[audioCommand]
	done      chan struct{}
	recording atomic.Bool
	closed    atomic.Bool

	stats   AudioRecorderStats
	statsMu sync.Mutex

	// Owned by the worker goroutine.
	log        zerolog.Logger
	cfg        AudioConfig
	capture    AudioCapture
	encoder    AudioEncoder
	writer     ContainerWriter
	drainer    *drainer
	pcm        []byte
	frameSize  int
	totalBytes int64
}

// NewAudioRecorder creates the worker and starts its goroutine.
func NewAudioRecorder(p Platform, listener RecordListener) *AudioRecorder {
	r := &AudioRecorder{
		platform: p,
		listener: listener,
		baseLog:  componentLogger("audio-recorder"),
		mailbox:  newMailbox[audioCommand](nil),
		done:     make(chan struct{}),
	}
	r.log = r.baseLog
	go r.run()
	return r
}

// Start posts a start command.
func (r *AudioRecorder) Start(cfg AudioConfig) error {
	return r.post(audioCommand{kind: audioCmdStart, config: cfg})
}

// Stop posts a stop command.
func (r *AudioRecorder) Stop() error {
	return r.post(audioCommand{kind: audioCmdStop})
}

// IsRecording reports whether the capture loop is running.
func (r *AudioRecorder) IsRecording() bool {
	return r.recording.Load()
}

// Stats returns worker statistics.
func (r *AudioRecorder) Stats() AudioRecorderStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Close stops any active recording, then joins the worker goroutine.
func (r *AudioRecorder) Close() error {
	if r.closed.Swap(true) {
		<-r.done
		return nil
	}
	r.mailbox.post(audioCommand{kind: audioCmdQuit})
	<-r.done
	return nil
}

func (r *AudioRecorder) post(cmd audioCommand) error {
	if r.closed.Load() {
		return ErrWorkerClosed
	}
	if ok, _ := r.mailbox.post(cmd); !ok {
		return ErrWorkerClosed
	}
	return nil
}

func (r *AudioRecorder) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.done)
	defer r.mailbox.close()

	for {
		var (
			cmd audioCommand
			ok  bool
		)
		if r.encoder != nil {
			cmd, ok = r.mailbox.tryTake()
			if !ok {
				r.step()
				continue
			}
		} else {
			cmd, ok = r.mailbox.take()
			if !ok {
				return
			}
		}

		switch cmd.kind {
		case audioCmdStart:
			r.handleStart(cmd.config)
		case audioCmdStop:
			r.handleStop()
		case audioCmdQuit:
			r.handleStop()
			return
		}
	}
}

func (r *AudioRecorder) handleStart(cfg AudioConfig) {
	if r.encoder != nil {
		r.log.Warn().Msg("start ignored: already recording")
		return
	}

	cfg.normalize()
	r.cfg = cfg
	r.log = r.baseLog.With().Str("path", cfg.OutputPath).Logger()
	r.log.Debug().Int("sample_rate", cfg.SampleRate).Int("channels", cfg.Channels.Channels()).Msg("start received")

	if err := r.acquire(cfg); err != nil {
		r.log.Error().Err(err).Msg("audio start failed")
		r.teardown(false)
		r.listener.OnRecordError(MediaKindAudio, err)
		return
	}

	r.recording.Store(true)
	r.listener.OnRecordStart(MediaKindAudio)
}

func (r *AudioRecorder) acquire(cfg AudioConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	capture, err := r.platform.Capture.OpenMicrophone(AudioCaptureConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels.Channels(),
		Format:     cfg.Format,
		BufferSize: cfg.CaptureBufferSize(),
	})
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	r.capture = capture

	enc, err := r.platform.Codecs.NewAudioEncoder(audioFormat(cfg))
	if err != nil {
		return fmt.Errorf("create audio encoder: %w", err)
	}
	r.encoder = enc

	writer, err := r.platform.writers()(cfg.OutputPath)
	if err != nil {
		return fmt.Errorf("create audio writer: %w", err)
	}
	r.writer = writer

	if err := enc.Start(); err != nil {
		return fmt.Errorf("start audio encoder: %w", err)
	}
	r.drainer = newDrainer(MediaKindAudio, enc, writer, cfg.DrainTimeout, cfg.EOSTimeout, r.log)
	r.drainer.onSample = func(elapsed time.Duration) {
		r.listener.OnRecording(MediaKindAudio, elapsed)
	}

	if err := capture.Start(); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}

	r.frameSize = cfg.FrameSize()
	r.pcm = make([]byte, cfg.ChunkSize())
	r.totalBytes = 0
	return nil
}

// step captures one chunk, feeds it to the encoder and drains the output.
func (r *AudioRecorder) step() {
	n, err := r.capture.Read(r.pcm)
	if err != nil {
		r.abort(fmt.Errorf("read microphone: %w", err))
		return
	}
	if n == 0 {
		r.statsMu.Lock()
		r.stats.EmptyReads++
		r.statsMu.Unlock()
	} else if err := r.feed(r.pcm[:n], 0); err != nil {
		r.abort(err)
		return
	}

	if err := r.drainer.drain(false); err != nil {
		r.abort(err)
	}
}

// feed copies pcm into encoder input buffers. Input timestamps derive from
// the number of PCM frames submitted so far, so the audio clock never
// depends on capture callback jitter. An end-of-stream feed queues one
// (possibly empty) buffer carrying the flag.
func (r *AudioRecorder) feed(pcm []byte, flags BufferFlags) error {
	eos := flags.Has(BufferFlagEndOfStream)
	deadline := time.Now().Add(r.cfg.EOSTimeout)

	for {
		index := r.encoder.DequeueInputBuffer(r.cfg.DrainTimeout)
		if index < 0 {
			// Free input buffers by draining. Give up on this chunk if a
			// command is waiting so stop stays responsive.
			if err := r.drainer.drain(false); err != nil {
				return err
			}
			if eos {
				if time.Now().After(deadline) {
					return fmt.Errorf("%w: no input buffer for end of stream", ErrEndOfStreamTimeout)
				}
				continue
			}
			if r.mailbox.pending() > 0 {
				r.log.Debug().Int("bytes", len(pcm)).Msg("dropping pcm: command pending")
				return nil
			}
			continue
		}

		buf := r.encoder.InputBuffer(index)
		if len(buf) == 0 {
			return fmt.Errorf("input buffer %d: %w", index, errEmptyInputBuffer)
		}
		size := copy(buf, pcm)
		if err := r.encoder.QueueInputBuffer(index, 0, size, r.presentationTimeUs(), flags); err != nil {
			return fmt.Errorf("queue input buffer: %w", err)
		}
		pcm = pcm[size:]
		r.totalBytes += int64(size)

		if size > 0 {
			r.statsMu.Lock()
			r.stats.BytesCaptured += uint64(size)
			r.stats.ChunksQueued++
			r.statsMu.Unlock()
		}

		if len(pcm) == 0 {
			return nil
		}
	}
}

func (r *AudioRecorder) presentationTimeUs() int64 {
	if r.frameSize == 0 {
		return 0
	}
	frames := r.totalBytes / int64(r.frameSize)
	return frames * int64(time.Second/time.Microsecond) / int64(r.cfg.SampleRate)
}

func (r *AudioRecorder) handleStop() {
	if r.encoder == nil {
		return
	}
	r.recording.Store(false)
	r.log.Debug().Msg("stop received")

	releaseQuietly(r.log, "stop microphone", r.capture.Stop)

	if err := r.feed(nil, BufferFlagEndOfStream); err != nil {
		if !errors.Is(err, ErrEndOfStreamTimeout) {
			r.abort(err)
			return
		}
		r.log.Warn().Err(err).Msg("end of stream not queued")
	}
	if err := r.drainer.drain(true); err != nil {
		if !errors.Is(err, ErrEndOfStreamTimeout) {
			r.abort(err)
			return
		}
		r.log.Warn().Err(err).Msg("final drain incomplete")
	}

	result := RecordResult{
		Kind:     MediaKindAudio,
		Path:     r.cfg.OutputPath,
		Duration: r.drainer.duration(),
		MimeType: AudioCodecAAC.MimeType(),
		Samples:  r.drainer.samples,
	}
	if result.Samples == 0 {
		// The writer discards an empty file on release.
		result.Path = ""
	}
	if err := r.teardown(true); err != nil {
		r.log.Error().Err(err).Msg("finalize audio file")
		r.listener.OnRecordError(MediaKindAudio, err)
		return
	}

	r.log.Info().Dur("duration", result.Duration).Int("samples", result.Samples).Msg("audio recording finished")
	r.listener.OnRecordFinish(result)
}

// abort tears the session down without finalizing the output file.
func (r *AudioRecorder) abort(err error) {
	r.log.Error().Err(err).Msg("audio recording aborted")
	r.recording.Store(false)
	r.teardown(false)
	r.listener.OnRecordError(MediaKindAudio, err)
}

// teardown releases every handle and nulls it. With finalize set a started
// writer holding samples is stopped first; the returned error is the
// writer's Stop error.
func (r *AudioRecorder) teardown(finalize bool) error {
	log := r.log
	var finalizeErr error

	if r.capture != nil {
		releaseQuietly(log, "release microphone", r.capture.Release)
		r.capture = nil
	}
	if r.encoder != nil {
		if r.drainer != nil {
			releaseQuietly(log, "stop audio encoder", r.encoder.Stop)
		}
		releaseQuietly(log, "release audio encoder", r.encoder.Release)
		r.encoder = nil
	}
	if r.writer != nil {
		if finalize && r.drainer != nil && r.drainer.writerStarted && r.drainer.samples > 0 {
			if err := r.writer.Stop(); err != nil {
				finalizeErr = err
			}
		}
		releaseQuietly(log, "release audio writer", r.writer.Release)
		r.writer = nil
	}

	r.drainer = nil
	r.pcm = nil
	r.recording.Store(false)
	return finalizeErr
}
