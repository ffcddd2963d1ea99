package recorder

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// timestampCorrector keeps presentation timestamps strictly increasing.
// Encoders and cameras occasionally hand out repeated or backwards
// timestamps; those are forced to last+epsilon instead of being dropped.
type timestampCorrector struct {
	epsilonUs int64
	firstUs   int64
	lastUs    int64
	started   bool
}

func newTimestampCorrector(epsilon time.Duration) timestampCorrector {
	return timestampCorrector{epsilonUs: epsilon.Microseconds()}
}

// correct returns the accepted timestamp and whether it was forced forward.
func (c *timestampCorrector) correct(ptsUs int64) (int64, bool) {
	if !c.started {
		c.started = true
		c.firstUs = ptsUs
		c.lastUs = ptsUs
		return ptsUs, false
	}
	forced := false
	if ptsUs <= c.lastUs {
		ptsUs = c.lastUs + c.epsilonUs
		forced = true
	}
	c.lastUs = ptsUs
	return ptsUs, forced
}

// duration is the span between the first and the last accepted timestamp.
func (c *timestampCorrector) duration() time.Duration {
	if !c.started {
		return 0
	}
	return time.Duration(c.lastUs-c.firstUs) * time.Microsecond
}

// drainer moves encoded buffers from an encoder's output queue into a
// container writer. It is owned by exactly one worker goroutine.
type drainer struct {
	kind       MediaKind
	encoder    Encoder
	writer     ContainerWriter
	timeout    time.Duration
	eosTimeout time.Duration
	clock      timestampCorrector
	log        zerolog.Logger

	// onSample is called after every sample written with the current
	// stream duration.
	onSample func(elapsed time.Duration)

	track         int
	formatChanged bool
	writerStarted bool
	samples       int
	bytes         int64
}

func newDrainer(kind MediaKind, enc Encoder, w ContainerWriter, timeout, eosTimeout time.Duration, log zerolog.Logger) *drainer {
	return &drainer{
		kind:       kind,
		encoder:    enc,
		writer:     w,
		timeout:    timeout,
		eosTimeout: eosTimeout,
		clock:      newTimestampCorrector(timeout),
		log:        log,
		track:      -1,
	}
}

// drain polls the output queue until it runs dry. With endOfStream set it
// keeps polling until the end-of-stream buffer arrives or eosTimeout
// elapses.
func (d *drainer) drain(endOfStream bool) error {
	start := time.Now()
	defer func() {
		drainDuration.WithLabelValues(d.kind.String()).Observe(time.Since(start).Seconds())
	}()

	deadline := start.Add(d.eosTimeout)
	for {
		index, info := d.encoder.DequeueOutputBuffer(d.timeout)
		switch {
		case index == InfoTryAgainLater:
			if !endOfStream {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w after %s", ErrEndOfStreamTimeout, d.eosTimeout)
			}

		case index == InfoOutputBuffersChanged:
			// Buffers are looked up per index; nothing is cached.

		case index == InfoOutputFormatChanged:
			if err := d.formatChange(); err != nil {
				return err
			}

		case index < 0:
			d.log.Warn().Int("status", index).Msg("unexpected dequeue status")
			if endOfStream && time.Now().After(deadline) {
				return fmt.Errorf("%w after %s", ErrEndOfStreamTimeout, d.eosTimeout)
			}

		default:
			eos, err := d.writeBuffer(index, info)
			if err != nil {
				return err
			}
			if eos {
				if !endOfStream {
					d.log.Warn().Msg("reached end of stream unexpectedly")
				} else {
					d.log.Debug().Int("samples", d.samples).Msg("end of stream reached")
				}
				return nil
			}
		}
	}
}

func (d *drainer) formatChange() error {
	if d.formatChanged {
		return d.violation(ErrFormatChangedTwice)
	}
	format, err := d.encoder.OutputFormat()
	if err != nil {
		return fmt.Errorf("read output format: %w", err)
	}
	track, err := d.writer.AddTrack(format)
	if err != nil {
		return fmt.Errorf("add %s track: %w", d.kind, err)
	}
	if err := d.writer.Start(); err != nil {
		return fmt.Errorf("start container writer: %w", err)
	}
	d.track = track
	d.formatChanged = true
	d.writerStarted = true
	d.log.Debug().Str("mime", format.MimeType).Int("track", track).Msg("output format changed")
	return nil
}

func (d *drainer) writeBuffer(index int, info BufferInfo) (bool, error) {
	data := d.encoder.OutputBuffer(index)
	if data == nil {
		return false, fmt.Errorf("%w: index %d", ErrNilOutputBuffer, index)
	}

	// Codec config travels in the output format; the buffer itself is not a sample.
	if info.Flags.Has(BufferFlagCodecConfig) {
		info.Size = 0
	}

	if info.Size > 0 {
		if !d.writerStarted {
			d.release(index)
			return false, d.violation(ErrWriterNotStarted)
		}
		if info.Offset < 0 || info.Offset+info.Size > len(data) {
			d.release(index)
			return false, fmt.Errorf("output buffer %d: range [%d:%d] exceeds %d bytes",
				index, info.Offset, info.Offset+info.Size, len(data))
		}

		pts, forced := d.clock.correct(info.PresentationTimeUs)
		if forced {
			timestampCorrectionsTotal.WithLabelValues(d.kind.String()).Inc()
			d.log.Debug().Int64("pts_us", info.PresentationTimeUs).Int64("corrected_us", pts).Msg("timestamp forced forward")
		}
		info.PresentationTimeUs = pts

		if err := d.writer.WriteSampleData(d.track, data[info.Offset:info.Offset+info.Size], info); err != nil {
			d.release(index)
			return false, fmt.Errorf("write %s sample: %w", d.kind, err)
		}
		d.samples++
		d.bytes += int64(info.Size)
		samplesWrittenTotal.WithLabelValues(d.kind.String()).Inc()
		encodedBytesTotal.WithLabelValues(d.kind.String()).Add(float64(info.Size))

		if d.onSample != nil {
			d.onSample(d.clock.duration())
		}
	}

	d.release(index)
	return info.Flags.Has(BufferFlagEndOfStream), nil
}

func (d *drainer) release(index int) {
	if err := d.encoder.ReleaseOutputBuffer(index); err != nil {
		d.log.Warn().Err(err).Int("index", index).Msg("release output buffer")
	}
}

func (d *drainer) violation(err error) error {
	protocolViolationsTotal.WithLabelValues(d.kind.String()).Inc()
	return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
}

// duration returns the current stream duration.
func (d *drainer) duration() time.Duration {
	return d.clock.duration()
}
