// Package recorder is a camera-to-file recording engine for Android, driven
// from Go through the NDK (libmediandk, libEGL, libGLESv2, libandroid,
// libaaudio) without cgo.
//
// Key pieces include:
//   - Compositor: owns a GPU context on a locked OS thread and turns the
//     camera's external texture into a recording-sized texture
//   - VideoRecorder: actor owning a hardware video encoder, its input
//     surface and a container writer
//   - AudioRecorder: run loop owning the microphone, a hardware audio
//     encoder and a second container writer
//   - Recorder: session coordinator with start/stop barriers, progress
//     and max-duration auto-stop
//
// # Architecture
//
//	Video: TextureSource -> Compositor -> Recorder.FrameAvailable -> VideoRecorder -> encoder surface -> drain -> MP4Writer
//	Audio: AudioCapture -> AudioRecorder -> encoder input buffers -> drain -> MP4Writer
//
// Video and audio are written to two independent fragmented MP4 files. Only
// their metadata (path, duration) is reconciled when the session finishes.
//
// # Threading
//
// Every goroutine that touches a GPU context or codec handle locks itself to
// an OS thread for its whole lifetime. Commands cross threads only through
// the workers' mailboxes, so GPU and codec handles are never shared.
//
// # Native Libraries
//
// On android the package registers a Platform backed by purego bindings at
// init. Elsewhere DefaultPlatform returns ErrPlatformUnavailable and callers
// supply their own Platform (tests use in-process fakes).
//
// # Observability
//
// Logging uses zerolog and is silent until SetLogger is called. Prometheus
// collectors are registered under the "recorder" namespace and every session
// opens an OpenTelemetry span.
package recorder
