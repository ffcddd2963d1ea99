package recorder

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// H.264 parameter sets for a 1920x1080 stream, Annex-B framed the way
// MediaCodec reports them in csd-0 and csd-1.
var (
	testSPS = []byte{
		0x00, 0x00, 0x00, 0x01,
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS      = []byte{0x00, 0x00, 0x00, 0x01, 0x08, 0x06, 0x07, 0x08}
	testKeyFrame = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21, 0xa0}
	testDelta    = []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9a, 0x24, 0x6c}
)

var errInjected = errors.New("injected failure")

// =============================================================================
// GLES
// =============================================================================

// fakeGL records the GL calls the filters make. IDs are handed out from a
// single counter so textures, framebuffers, shaders and programs never
// collide.
type fakeGL struct {
	mu sync.Mutex

	nextID      uint32
	textures    map[uint32]bool
	framebuffer map[uint32]bool
	programs    map[uint32]bool
	shaders     map[uint32]bool

	failCompile    bool
	failLink       bool
	fbStatus       uint32
	drawErr        uint32
	texImageW      int32
	texImageH      int32
	draws          int
	matrixUploads  int
	genFramebuffer int
}

func newFakeGL() *fakeGL {
	return &fakeGL{
		textures:    make(map[uint32]bool),
		framebuffer: make(map[uint32]bool),
		programs:    make(map[uint32]bool),
		shaders:     make(map[uint32]bool),
		fbStatus:    glFramebufferComplete,
	}
}

func (g *fakeGL) id() uint32 {
	g.nextID++
	return g.nextID
}

func (g *fakeGL) CreateShader(uint32) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id()
	g.shaders[id] = true
	return id
}

func (g *fakeGL) ShaderSource(uint32, string) {}
func (g *fakeGL) CompileShader(uint32)        {}

func (g *fakeGL) GetShaderiv(_, pname uint32) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pname == glCompileStatus && g.failCompile {
		return 0
	}
	return 1
}

func (g *fakeGL) GetShaderInfoLog(uint32) string { return "syntax error" }

func (g *fakeGL) DeleteShader(shader uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.shaders, shader)
}

func (g *fakeGL) CreateProgram() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id()
	g.programs[id] = true
	return id
}

func (g *fakeGL) AttachShader(_, _ uint32) {}
func (g *fakeGL) LinkProgram(uint32)       {}

func (g *fakeGL) GetProgramiv(_, pname uint32) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if pname == glLinkStatus && g.failLink {
		return 0
	}
	return 1
}

func (g *fakeGL) GetProgramInfoLog(uint32) string { return "link error" }

func (g *fakeGL) DeleteProgram(program uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.programs, program)
}

func (g *fakeGL) UseProgram(uint32) {}

func (g *fakeGL) GetAttribLocation(_ uint32, name string) int32 {
	if name == "aPosition" {
		return 0
	}
	return 1
}

func (g *fakeGL) GetUniformLocation(_ uint32, name string) int32 {
	if name == "transformMatrix" {
		return 3
	}
	return 2
}

func (g *fakeGL) VertexAttribPointer(uint32, int32, []float32) {}
func (g *fakeGL) EnableVertexAttribArray(uint32)               {}
func (g *fakeGL) DisableVertexAttribArray(uint32)              {}
func (g *fakeGL) Uniform1i(int32, int32)                       {}

func (g *fakeGL) UniformMatrix4fv(int32, *[16]float32) {
	g.mu.Lock()
	g.matrixUploads++
	g.mu.Unlock()
}

func (g *fakeGL) ActiveTexture(uint32) {}

func (g *fakeGL) GenTexture() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id()
	g.textures[id] = true
	return id
}

func (g *fakeGL) DeleteTexture(tex uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.textures, tex)
}

func (g *fakeGL) BindTexture(uint32, uint32) {}

func (g *fakeGL) TexImage2D(_ uint32, width, height int32) {
	g.mu.Lock()
	g.texImageW, g.texImageH = width, height
	g.mu.Unlock()
}

func (g *fakeGL) TexParameteri(uint32, uint32, int32) {}

func (g *fakeGL) GenFramebuffer() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.id()
	g.framebuffer[id] = true
	g.genFramebuffer++
	return id
}

func (g *fakeGL) DeleteFramebuffer(fb uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.framebuffer, fb)
}

func (g *fakeGL) BindFramebuffer(uint32, uint32)                             {}
func (g *fakeGL) FramebufferTexture2D(uint32, uint32, uint32, uint32, int32) {}

func (g *fakeGL) CheckFramebufferStatus(uint32) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fbStatus
}

func (g *fakeGL) Viewport(int32, int32, int32, int32)           {}
func (g *fakeGL) ClearColor(float32, float32, float32, float32) {}
func (g *fakeGL) Clear(uint32)                                  {}

func (g *fakeGL) DrawArrays(uint32, int32, int32) {
	g.mu.Lock()
	g.draws++
	g.mu.Unlock()
}

func (g *fakeGL) GetError() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drawErr
}

// live returns the number of GL objects not yet deleted.
func (g *fakeGL) live() (textures, framebuffers, programs, shaders int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.textures), len(g.framebuffer), len(g.programs), len(g.shaders)
}

func (g *fakeGL) texImageSize() (int32, int32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.texImageW, g.texImageH
}

// =============================================================================
// Display, contexts and surfaces
// =============================================================================

type fakeDisplay struct {
	mu       sync.Mutex
	platform *fakePlatform
	contexts []*fakeContext
	failNew  bool
}

func (d *fakeDisplay) NewContext(shared GPUContext, recordable bool) (GPUContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNew {
		return nil, errInjected
	}
	c := &fakeContext{platform: d.platform, shared: shared, recordable: recordable}
	d.contexts = append(d.contexts, c)
	return c, nil
}

func (d *fakeDisplay) allReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.contexts {
		if !c.isReleased() {
			return false
		}
	}
	return true
}

type fakeContext struct {
	platform   *fakePlatform
	shared     GPUContext
	recordable bool

	mu       sync.Mutex
	surfaces []*fakeSurface
	current  Surface
	released bool
}

func (c *fakeContext) CreateWindowSurface(window NativeWindow) (Surface, error) {
	s := &fakeSurface{platform: c.platform, window: window}
	c.mu.Lock()
	c.surfaces = append(c.surfaces, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeContext) CreateOffscreenSurface(int, int) (Surface, error) {
	s := &fakeSurface{platform: c.platform}
	c.mu.Lock()
	c.surfaces = append(c.surfaces, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeContext) MakeCurrent(s Surface) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errors.New("context released")
	}
	c.current = s
	return nil
}

func (c *fakeContext) ReleaseCurrent() error {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	return nil
}

func (c *fakeContext) Release() error {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
	return nil
}

func (c *fakeContext) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.released {
		return false
	}
	for _, s := range c.surfaces {
		if !s.isReleased() {
			return false
		}
	}
	return true
}

func (c *fakeContext) windowSurfaces() []*fakeSurface {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeSurface
	for _, s := range c.surfaces {
		if s.window != 0 {
			out = append(out, s)
		}
	}
	return out
}

type fakeSurface struct {
	platform *fakePlatform
	window   NativeWindow

	mu       sync.Mutex
	pts      int64
	stamps   []int64
	swaps    int
	released bool
}

func (s *fakeSurface) SwapBuffers() error {
	s.mu.Lock()
	s.swaps++
	pts := s.pts
	s.mu.Unlock()

	if s.window != 0 {
		if enc := s.platform.codecs.encoderFor(s.window); enc != nil {
			enc.frame(pts)
		}
	}
	return nil
}

func (s *fakeSurface) SetPresentationTime(ns int64) error {
	s.mu.Lock()
	s.pts = ns
	s.stamps = append(s.stamps, ns)
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Release() error {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *fakeSurface) swapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps
}

func (s *fakeSurface) presentationTimes() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.stamps...)
}

// =============================================================================
// Texture source
// =============================================================================

type fakeTextureSource struct {
	mu          sync.Mutex
	texture     uint32
	timestamp   int64
	attachFails int
	attaches    int
	detaches    int
	updates     int
}

func (s *fakeTextureSource) AttachToGLContext(texture uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachFails > 0 {
		s.attachFails--
		return errInjected
	}
	s.texture = texture
	s.attaches++
	return nil
}

func (s *fakeTextureSource) DetachFromGLContext() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texture = 0
	s.detaches++
	return nil
}

func (s *fakeTextureSource) UpdateTexImage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.texture == 0 {
		return ErrNotAttached
	}
	s.updates++
	return nil
}

func (s *fakeTextureSource) TransformMatrix() [16]float32 { return identityMatrix }

func (s *fakeTextureSource) Timestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timestamp
}

func (s *fakeTextureSource) setTimestamp(ns int64) {
	s.mu.Lock()
	s.timestamp = ns
	s.mu.Unlock()
}

func (s *fakeTextureSource) counts() (attaches, detaches, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches, s.detaches, s.updates
}

// =============================================================================
// Encoders
// =============================================================================

// fakeOutput is one entry of a fake encoder's output queue: either a status
// code (< 0) or a buffer.
type fakeOutput struct {
	status int
	info   BufferInfo
	data   []byte
	nilBuf bool
}

// fakeCodec is the output side shared by the fake encoders. Tests can also
// drive it directly by scripting the output queue.
type fakeCodec struct {
	mu       sync.Mutex
	format   MediaFormat
	queue    []fakeOutput
	buffers  map[int]fakeOutput
	nextBuf  int
	formatOK bool

	started   bool
	stops     int
	releases  int
	releasedN int // output buffers handed back
	startErr  error
}

func newFakeCodec(format MediaFormat) *fakeCodec {
	return &fakeCodec{format: format, buffers: make(map[int]fakeOutput)}
}

func (c *fakeCodec) push(out ...fakeOutput) {
	c.mu.Lock()
	c.queue = append(c.queue, out...)
	c.mu.Unlock()
}

func (c *fakeCodec) pushLocked(out ...fakeOutput) {
	c.queue = append(c.queue, out...)
}

// pushSampleLocked queues a format change before the first sample.
func (c *fakeCodec) pushSampleLocked(data []byte, ptsUs int64, flags BufferFlags) {
	if !c.formatOK {
		c.formatOK = true
		c.pushLocked(fakeOutput{status: InfoOutputFormatChanged})
	}
	c.pushLocked(fakeOutput{
		info: BufferInfo{Size: len(data), PresentationTimeUs: ptsUs, Flags: flags},
		data: data,
	})
}

func (c *fakeCodec) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.started = true
	return nil
}

func (c *fakeCodec) DequeueOutputBuffer(time.Duration) (int, BufferInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return InfoTryAgainLater, BufferInfo{}
	}
	out := c.queue[0]
	c.queue = c.queue[1:]
	if out.status < 0 {
		return out.status, BufferInfo{}
	}
	index := c.nextBuf
	c.nextBuf++
	c.buffers[index] = out
	return index, out.info
}

func (c *fakeCodec) OutputBuffer(index int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.buffers[index]
	if !ok || out.nilBuf {
		return nil
	}
	if out.data == nil {
		return []byte{}
	}
	return out.data
}

func (c *fakeCodec) ReleaseOutputBuffer(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.buffers[index]; !ok {
		return errors.New("unknown buffer")
	}
	delete(c.buffers, index)
	c.releasedN++
	return nil
}

func (c *fakeCodec) OutputFormat() (MediaFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format, nil
}

func (c *fakeCodec) Stop() error {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
	return nil
}

func (c *fakeCodec) Release() error {
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
	return nil
}

// outstanding returns the number of dequeued buffers not yet released.
func (c *fakeCodec) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffers)
}

func (c *fakeCodec) lifecycle() (stops, releases int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops, c.releases
}

// fakeVideoEncoder turns every swap of its input surface into one encoded
// access unit carrying the swap's presentation time.
type fakeVideoEncoder struct {
	*fakeCodec
	window NativeWindow

	frames     int
	eosSignals int
	noEOS      bool
	formatEach bool
}

func (e *fakeVideoEncoder) CreateInputSurface() (NativeWindow, error) {
	return e.window, nil
}

func (e *fakeVideoEncoder) frame(ptsNs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.formatEach {
		e.formatOK = false
	}
	if !e.formatOK {
		e.formatOK = true
		e.pushLocked(
			fakeOutput{status: InfoOutputFormatChanged},
			fakeOutput{info: BufferInfo{Size: len(testSPS), Flags: BufferFlagCodecConfig}, data: testSPS},
		)
	}
	data, flags := testDelta, BufferFlags(0)
	if e.frames == 0 {
		data, flags = testKeyFrame, BufferFlagKeyFrame
	}
	e.frames++
	e.pushLocked(fakeOutput{
		info: BufferInfo{Size: len(data), PresentationTimeUs: ptsNs / 1000, Flags: flags},
		data: data,
	})
}

func (e *fakeVideoEncoder) SignalEndOfInputStream() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eosSignals++
	if !e.noEOS {
		e.pushLocked(fakeOutput{info: BufferInfo{Flags: BufferFlagEndOfStream}})
	}
	return nil
}

// fakeAudioEncoder produces one encoded frame per non-empty input buffer.
type fakeAudioEncoder struct {
	*fakeCodec
	inputSize int
	starved   bool
	queued    []int64
	eosQueued bool
}

func (e *fakeAudioEncoder) DequeueInputBuffer(time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.starved {
		return InfoTryAgainLater
	}
	return 0
}

func (e *fakeAudioEncoder) InputBuffer(int) []byte {
	return make([]byte, e.inputSize)
}

func (e *fakeAudioEncoder) QueueInputBuffer(_, _, size int, ptsUs int64, flags BufferFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size > 0 {
		e.queued = append(e.queued, ptsUs)
		e.pushSampleLocked([]byte{0x21, 0x10, 0x05, 0x00, 0x40}, ptsUs, 0)
	}
	if flags.Has(BufferFlagEndOfStream) {
		e.eosQueued = true
		e.pushLocked(fakeOutput{info: BufferInfo{Flags: BufferFlagEndOfStream}})
	}
	return nil
}

func (e *fakeAudioEncoder) queuedTimestamps() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.queued...)
}

type fakeCodecProvider struct {
	mu       sync.Mutex
	nextWin  NativeWindow
	videos   []*fakeVideoEncoder
	audios   []*fakeAudioEncoder
	byWindow map[NativeWindow]*fakeVideoEncoder

	videoErr     error
	audioErr     error
	videoNoEOS   bool
	formatEach   bool
	audioStarved bool
	videoGate    chan struct{} // when set, NewVideoEncoder blocks until it is closed
}

func (p *fakeCodecProvider) NewVideoEncoder(format MediaFormat) (VideoEncoder, error) {
	if p.videoGate != nil {
		<-p.videoGate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videoErr != nil {
		return nil, p.videoErr
	}
	out := MediaFormat{
		MimeType:  format.MimeType,
		Width:     format.Width,
		Height:    format.Height,
		FrameRate: format.FrameRate,
		CSD:       [][]byte{testSPS, testPPS},
	}
	p.nextWin += 0x100
	e := &fakeVideoEncoder{
		fakeCodec:  newFakeCodec(out),
		window:     p.nextWin,
		noEOS:      p.videoNoEOS,
		formatEach: p.formatEach,
	}
	if p.byWindow == nil {
		p.byWindow = make(map[NativeWindow]*fakeVideoEncoder)
	}
	p.byWindow[e.window] = e
	p.videos = append(p.videos, e)
	return e, nil
}

func (p *fakeCodecProvider) NewAudioEncoder(format MediaFormat) (AudioEncoder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audioErr != nil {
		return nil, p.audioErr
	}
	out := MediaFormat{
		MimeType:     format.MimeType,
		SampleRate:   format.SampleRate,
		ChannelCount: format.ChannelCount,
	}
	e := &fakeAudioEncoder{
		fakeCodec: newFakeCodec(out),
		inputSize: 4096,
		starved:   p.audioStarved,
	}
	p.audios = append(p.audios, e)
	return e, nil
}

func (p *fakeCodecProvider) encoderFor(window NativeWindow) *fakeVideoEncoder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byWindow[window]
}

func (p *fakeCodecProvider) video(i int) *fakeVideoEncoder {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.videos) {
		return nil
	}
	return p.videos[i]
}

func (p *fakeCodecProvider) audio(i int) *fakeAudioEncoder {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.audios) {
		return nil
	}
	return p.audios[i]
}

// =============================================================================
// Capture
// =============================================================================

type fakeCapture struct {
	mu       sync.Mutex
	cfg      AudioCaptureConfig
	started  bool
	stopped  bool
	released bool
	reads    int
	readErr  error
	empty    bool
}

func (c *fakeCapture) Start() error {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) Read(buf []byte) (int, error) {
	// Pace reads like a real microphone would, a little faster.
	time.Sleep(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return 0, c.readErr
	}
	if c.empty {
		return 0, nil
	}
	for i := range buf {
		buf[i] = byte(i)
	}
	return len(buf), nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) Release() error {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) state() (started, stopped, released bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started, c.stopped, c.released
}

func (c *fakeCapture) setReadErr(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}

type fakeCaptureProvider struct {
	mu       sync.Mutex
	captures []*fakeCapture
	openErr  error
	empty    bool
	gate     chan struct{} // when set, OpenMicrophone blocks until it is closed
}

func (p *fakeCaptureProvider) OpenMicrophone(cfg AudioCaptureConfig) (AudioCapture, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	c := &fakeCapture{cfg: cfg, empty: p.empty}
	p.captures = append(p.captures, c)
	return c, nil
}

func (p *fakeCaptureProvider) capture(i int) *fakeCapture {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.captures) {
		return nil
	}
	return p.captures[i]
}

// =============================================================================
// Container writers
// =============================================================================

type writtenSample struct {
	track int
	data  []byte
	info  BufferInfo
}

type fakeWriter struct {
	mu       sync.Mutex
	path     string
	tracks   []MediaFormat
	samples  []writtenSample
	started  bool
	stopped  bool
	released bool
	stopErr  error
	writeErr error
}

func (w *fakeWriter) AddTrack(format MediaFormat) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return -1, ErrWriterState
	}
	w.tracks = append(w.tracks, format)
	return len(w.tracks) - 1, nil
}

func (w *fakeWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrWriterState
	}
	w.started = true
	return nil
}

func (w *fakeWriter) WriteSampleData(track int, data []byte, info BufferInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return ErrWriterState
	}
	if w.writeErr != nil {
		return w.writeErr
	}
	w.samples = append(w.samples, writtenSample{
		track: track,
		data:  append([]byte(nil), data...),
		info:  info,
	})
	return nil
}

func (w *fakeWriter) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopErr != nil {
		return w.stopErr
	}
	if !w.started {
		return ErrWriterState
	}
	w.stopped = true
	return nil
}

func (w *fakeWriter) Release() error {
	w.mu.Lock()
	w.released = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) snapshot() (samples []writtenSample, stopped, released bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writtenSample(nil), w.samples...), w.stopped, w.released
}

func (w *fakeWriter) timestamps() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]int64, 0, len(w.samples))
	for _, s := range w.samples {
		out = append(out, s.info.PresentationTimeUs)
	}
	return out
}

type fakeWriters struct {
	mu      sync.Mutex
	byPath  map[string]*fakeWriter
	stopErr error
}

func (f *fakeWriters) factory() WriterFactory {
	return func(path string) (ContainerWriter, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.byPath == nil {
			f.byPath = make(map[string]*fakeWriter)
		}
		w := &fakeWriter{path: path, stopErr: f.stopErr}
		f.byPath[path] = w
		return w, nil
	}
}

func (f *fakeWriters) get(path string) *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byPath[path]
}

// =============================================================================
// Platform and listener
// =============================================================================

type fakePlatform struct {
	gl      *fakeGL
	display *fakeDisplay
	codecs  *fakeCodecProvider
	capture *fakeCaptureProvider
	writers *fakeWriters
}

func newFakePlatform() *fakePlatform {
	p := &fakePlatform{
		gl:      newFakeGL(),
		codecs:  &fakeCodecProvider{},
		capture: &fakeCaptureProvider{},
		writers: &fakeWriters{},
	}
	p.display = &fakeDisplay{platform: p}
	return p
}

func (p *fakePlatform) Platform() Platform {
	return Platform{
		Name:    "fake",
		GL:      p.gl,
		Display: p.display,
		Codecs:  p.codecs,
		Capture: p.capture,
		Writers: p.writers.factory(),
	}
}

type kindError struct {
	kind MediaKind
	err  error
}

// recordingListener buffers worker callbacks for assertions.
type recordingListener struct {
	starts   chan MediaKind
	finishes chan RecordResult
	errs     chan kindError

	mu      sync.Mutex
	elapsed []time.Duration
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		starts:   make(chan MediaKind, 16),
		finishes: make(chan RecordResult, 16),
		errs:     make(chan kindError, 16),
	}
}

func (l *recordingListener) OnRecordStart(kind MediaKind) { l.starts <- kind }

func (l *recordingListener) OnRecording(_ MediaKind, elapsed time.Duration) {
	l.mu.Lock()
	l.elapsed = append(l.elapsed, elapsed)
	l.mu.Unlock()
}

func (l *recordingListener) OnRecordFinish(result RecordResult) { l.finishes <- result }

func (l *recordingListener) OnRecordError(kind MediaKind, err error) {
	l.errs <- kindError{kind: kind, err: err}
}

func (l *recordingListener) elapsedReports() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.elapsed...)
}

const testWait = 2 * time.Second

func waitStart(t *testing.T, l *recordingListener) MediaKind {
	t.Helper()
	select {
	case k := <-l.starts:
		return k
	case ke := <-l.errs:
		t.Fatalf("start failed: %s: %v", ke.kind, ke.err)
	case <-time.After(testWait):
		t.Fatal("timed out waiting for start")
	}
	return 0
}

func waitFinish(t *testing.T, l *recordingListener) RecordResult {
	t.Helper()
	select {
	case r := <-l.finishes:
		return r
	case ke := <-l.errs:
		t.Fatalf("stream failed: %s: %v", ke.kind, ke.err)
	case <-time.After(testWait):
		t.Fatal("timed out waiting for finish")
	}
	return RecordResult{}
}

func waitError(t *testing.T, l *recordingListener) kindError {
	t.Helper()
	select {
	case ke := <-l.errs:
		return ke
	case r := <-l.finishes:
		t.Fatalf("expected failure, got result %+v", r)
	case <-time.After(testWait):
		t.Fatal("timed out waiting for error")
	}
	return kindError{}
}

func (d *fakeDisplay) context(i int) *fakeContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.contexts) {
		return nil
	}
	return d.contexts[i]
}
