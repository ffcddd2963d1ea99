package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compositorFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "compositor_frames_total",
		Help:      "Compositor draw ticks by result (rendered, skipped).",
	}, []string{"result"})

	videoFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "video_frames_total",
		Help:      "Frames offered to the video worker by result (drawn, dropped).",
	}, []string{"result"})

	samplesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "samples_written_total",
		Help:      "Encoded samples written to a container.",
	}, []string{"media"})

	encodedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "encoded_bytes_total",
		Help:      "Encoded payload bytes written to a container.",
	}, []string{"media"})

	timestampCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "timestamp_corrections_total",
		Help:      "Presentation timestamps forced forward to keep the sequence increasing.",
	}, []string{"media"})

	protocolViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "protocol_violations_total",
		Help:      "Fatal encoder protocol violations.",
	}, []string{"media"})

	drainDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recorder",
		Name:      "drain_duration_seconds",
		Help:      "Time spent in one encoder drain pass.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .5, 1, 3},
	}, []string{"media"})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recorder",
		Name:      "sessions_total",
		Help:      "Finished recording sessions by outcome (complete, partial).",
	}, []string{"outcome"})
)
