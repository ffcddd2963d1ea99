package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAudioRecorder(t *testing.T, fp *fakePlatform) (*AudioRecorder, *recordingListener) {
	t.Helper()
	l := newRecordingListener()
	r := NewAudioRecorder(fp.Platform(), l)
	t.Cleanup(func() { r.Close() })
	return r, l
}

func testAudioConfig(t *testing.T) AudioConfig {
	return AudioConfig{
		OutputPath:   filepath.Join(t.TempDir(), "audio.m4a"),
		DrainTimeout: 10 * time.Millisecond,
		EOSTimeout:   200 * time.Millisecond,
	}
}

func waitChunks(t *testing.T, r *AudioRecorder, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Stats().ChunksQueued >= n }, testWait, time.Millisecond)
}

func TestAudioRecorder_RecordsChunks(t *testing.T) {
	fp := newFakePlatform()
	r, l := newTestAudioRecorder(t, fp)
	cfg := testAudioConfig(t)

	require.NoError(t, r.Start(cfg))
	assert.Equal(t, MediaKindAudio, waitStart(t, l))
	assert.True(t, r.IsRecording())

	capture := fp.capture.capture(0)
	require.NotNil(t, capture)
	assert.Equal(t, AudioCaptureConfig{
		SampleRate: 44100,
		Channels:   2,
		Format:     AudioFormatS16,
		BufferSize: 3528,
	}, capture.cfg)

	waitChunks(t, r, 3)
	require.NoError(t, r.Stop())
	res := waitFinish(t, l)
	assert.False(t, r.IsRecording())

	assert.Equal(t, MediaKindAudio, res.Kind)
	assert.Equal(t, cfg.OutputPath, res.Path)
	assert.Equal(t, "audio/mp4a-latm", res.MimeType)
	require.GreaterOrEqual(t, res.Samples, 3)

	// 1764-byte chunks of 16-bit stereo at 44.1kHz are 10ms each.
	enc := fp.codecs.audio(0)
	require.NotNil(t, enc)
	queued := enc.queuedTimestamps()
	assert.Equal(t, []int64{0, 10000, 20000}, queued[:3])

	w := fp.writers.get(cfg.OutputPath)
	assert.Equal(t, queued, w.timestamps())
	assert.Equal(t, time.Duration(res.Samples-1)*10*time.Millisecond, res.Duration)

	_, stopped, released := w.snapshot()
	assert.True(t, stopped)
	assert.True(t, released)

	started, captureStopped, captureReleased := capture.state()
	assert.True(t, started)
	assert.True(t, captureStopped)
	assert.True(t, captureReleased)

	stops, releases := enc.lifecycle()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, releases)
	assert.Zero(t, enc.outstanding())

	stats := r.Stats()
	assert.Equal(t, stats.ChunksQueued*1764, stats.BytesCaptured)
}

func TestAudioRecorder_MonoTimestamps(t *testing.T) {
	fp := newFakePlatform()
	r, l := newTestAudioRecorder(t, fp)
	cfg := testAudioConfig(t)
	cfg.SampleRate = 48000
	cfg.Channels = ChannelLayoutMono

	require.NoError(t, r.Start(cfg))
	waitStart(t, l)
	waitChunks(t, r, 2)
	require.NoError(t, r.Stop())
	waitFinish(t, l)

	// 1920-byte chunks of 16-bit mono at 48kHz are 20ms each.
	queued := fp.codecs.audio(0).queuedTimestamps()
	assert.Equal(t, []int64{0, 20000}, queued[:2])
}

func TestAudioRecorder_OpenMicrophoneFailure(t *testing.T) {
	fp := newFakePlatform()
	fp.capture.openErr = errInjected
	r, l := newTestAudioRecorder(t, fp)

	require.NoError(t, r.Start(testAudioConfig(t)))
	ke := waitError(t, l)
	assert.Equal(t, MediaKindAudio, ke.kind)
	require.ErrorIs(t, ke.err, errInjected)
	assert.Nil(t, fp.codecs.audio(0))
}

func TestAudioRecorder_EncoderFailureReleasesMicrophone(t *testing.T) {
	fp := newFakePlatform()
	fp.codecs.audioErr = errInjected
	r, l := newTestAudioRecorder(t, fp)

	require.NoError(t, r.Start(testAudioConfig(t)))
	require.ErrorIs(t, waitError(t, l).err, errInjected)

	_, _, released := fp.capture.capture(0).state()
	assert.True(t, released)
}

func TestAudioRecorder_ReadErrorAborts(t *testing.T) {
	fp := newFakePlatform()
	r, l := newTestAudioRecorder(t, fp)
	cfg := testAudioConfig(t)

	require.NoError(t, r.Start(cfg))
	waitStart(t, l)
	waitChunks(t, r, 1)

	fp.capture.capture(0).setReadErr(errInjected)
	ke := waitError(t, l)
	require.ErrorIs(t, ke.err, errInjected)
	assert.False(t, r.IsRecording())

	_, stopped, released := fp.writers.get(cfg.OutputPath).snapshot()
	assert.False(t, stopped)
	assert.True(t, released)

	// A stop after the abort has nothing left to do.
	require.NoError(t, r.Stop())
	assertQuiet(t, l)
}

func TestAudioRecorder_EmptyReads(t *testing.T) {
	fp := newFakePlatform()
	fp.capture.empty = true
	r, l := newTestAudioRecorder(t, fp)

	require.NoError(t, r.Start(testAudioConfig(t)))
	waitStart(t, l)
	require.Eventually(t, func() bool { return r.Stats().EmptyReads >= 2 }, testWait, time.Millisecond)
	require.NoError(t, r.Stop())

	res := waitFinish(t, l)
	assert.Zero(t, res.Samples)
	assert.Empty(t, res.Path)
	assert.Zero(t, r.Stats().ChunksQueued)
}

func TestAudioRecorder_StopWhileEncoderStarved(t *testing.T) {
	fp := newFakePlatform()
	fp.codecs.audioStarved = true
	r, l := newTestAudioRecorder(t, fp)
	cfg := testAudioConfig(t)
	cfg.EOSTimeout = 30 * time.Millisecond

	require.NoError(t, r.Start(cfg))
	waitStart(t, l)
	require.NoError(t, r.Stop())

	res := waitFinish(t, l)
	assert.Zero(t, res.Samples)
	assert.Zero(t, r.Stats().ChunksQueued)
}

func TestAudioRecorder_CloseFinalizes(t *testing.T) {
	fp := newFakePlatform()
	r, l := newTestAudioRecorder(t, fp)

	require.NoError(t, r.Start(testAudioConfig(t)))
	waitStart(t, l)
	waitChunks(t, r, 1)

	require.NoError(t, r.Close())
	waitFinish(t, l)
	require.ErrorIs(t, r.Start(testAudioConfig(t)), ErrWorkerClosed)
}
