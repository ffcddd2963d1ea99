package recorder

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// CompositorConfig configures the GPU compositor.
type CompositorConfig struct {
	Width  int // Target (recording) width, rounded up to even
	Height int // Target (recording) height, rounded up to even

	// OnFrame receives every composited frame on the GPU thread. It must
	// not block; Recorder.FrameAvailable is the usual sink.
	OnFrame func(FrameSample)
}

// DefaultCompositorConfig returns a default compositor configuration.
func DefaultCompositorConfig() CompositorConfig {
	return CompositorConfig{
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
}

// CompositorStats provides compositor statistics.
type CompositorStats struct {
	FramesRendered uint64 // Frames composited and handed to the sink
	FramesSkipped  uint64 // Draw ticks without output (no source, attach or update failure)
	AttachFailures uint64
	RenderRequests uint64
	Coalesced      uint64 // Requests folded into an already pending one
}

// renderTarget selects where a composited texture is presented.
type renderTarget struct {
	ctx     GPUContext
	surface Surface
	encoder bool // Stamp the capture timestamp before the swap
}

// present draws texture into target and swaps. Encoder targets get the
// frame's device timestamp so the encoder sees capture time, not render
// time.
func present(t renderTarget, f *ImageFilter, texture uint32, timestampNs int64) error {
	if err := t.ctx.MakeCurrent(t.surface); err != nil {
		return fmt.Errorf("make current: %w", err)
	}
	if err := f.DrawFrame(texture); err != nil {
		return err
	}
	if t.encoder {
		if err := t.surface.SetPresentationTime(timestampNs); err != nil {
			return fmt.Errorf("set presentation time: %w", err)
		}
	}
	if err := t.surface.SwapBuffers(); err != nil {
		return fmt.Errorf("swap buffers: %w", err)
	}
	return nil
}

// Compositor owns a GPU context on a dedicated OS thread. Each draw latches
// the newest content of the bound texture source, runs it through the
// camera input filter into a recording-sized texture, optionally presents it
// to a display surface and hands it to the frame sink.
//
// Render requests are latest-wins: requests arriving while one is pending
// are folded into it, so a source updating faster than the GPU draws drops
// intermediate frames.
type Compositor struct {
	gl      GLES
	display DisplayProvider
	log     zerolog.Logger

	// GPU thread state.
	ctx            GPUContext
	offscreen      Surface
	input          *ImageFilter
	output         *ImageFilter
	externalTex    uint32
	attached       TextureSource
	displaySurface Surface
	displayWindow  NativeWindow

	// Guarded by mu; applied by the next draw.
	source      TextureSource
	needAttach  bool
	targetW     int
	targetH     int
	pendingWin  NativeWindow
	displayW    int
	displayH    int
	displaySet  bool
	onFrame     func(FrameSample)
	mu          sync.Mutex

	wake    chan struct{}
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	shared  atomic.Pointer[GPUContext]

	stats   CompositorStats
	statsMu sync.Mutex
}

// NewCompositor creates a compositor. The GPU context is created by Start
// on the compositor's own thread.
func NewCompositor(p Platform, config CompositorConfig) (*Compositor, error) {
	if p.GL == nil || p.Display == nil {
		return nil, fmt.Errorf("%w: compositor needs GLES and a display provider", ErrPlatformUnavailable)
	}
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}

	// Ensure even dimensions
	config.Width = (config.Width + 1) &^ 1
	config.Height = (config.Height + 1) &^ 1

	return &Compositor{
		gl:      p.GL,
		display: p.Display,
		log:     componentLogger("compositor"),
		targetW: config.Width,
		targetH: config.Height,
		onFrame: config.OnFrame,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start creates the GPU context on a locked OS thread and begins serving
// render requests. It returns once the context is ready.
func (c *Compositor) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	ready := make(chan error, 1)

	go c.renderLoop(loopCtx, ready)

	if err := <-ready; err != nil {
		cancel()
		<-c.done
		c.running.Store(false)
		return err
	}
	return nil
}

// Stop ends the render loop and releases all GPU resources.
func (c *Compositor) Stop() error {
	if !c.running.Swap(false) {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

// Close releases all resources.
func (c *Compositor) Close() error {
	return c.Stop()
}

// SharedContext returns the compositor's GPU context for sharing with the
// video worker, or nil before Start.
func (c *Compositor) SharedContext() GPUContext {
	if p := c.shared.Load(); p != nil {
		return *p
	}
	return nil
}

// BindExternalSource associates the compositor with src. Binding the source
// that is already bound is a no-op. The external texture is attached by the
// next draw on the GPU thread, never on the caller's thread.
func (c *Compositor) BindExternalSource(src TextureSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if src == c.source {
		return
	}
	c.source = src
	c.needAttach = src != nil
}

// SetTargetSize sets the recording size. Intermediate storage is recreated
// by the next draw if, and only if, the size changed.
func (c *Compositor) SetTargetSize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: target %dx%d", ErrInvalidSize, width, height)
	}
	c.mu.Lock()
	c.targetW = (width + 1) &^ 1
	c.targetH = (height + 1) &^ 1
	c.mu.Unlock()
	return nil
}

// TargetSize returns the current (even-rounded) recording size.
func (c *Compositor) TargetSize() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetW, c.targetH
}

// SetDisplaySurface binds a preview window. A zero window unbinds it.
func (c *Compositor) SetDisplaySurface(window NativeWindow, width, height int) {
	c.mu.Lock()
	c.pendingWin = window
	c.displayW = width
	c.displayH = height
	c.displaySet = true
	c.mu.Unlock()
}

// SetFrameSink replaces the composited-frame callback.
func (c *Compositor) SetFrameSink(fn func(FrameSample)) {
	c.mu.Lock()
	c.onFrame = fn
	c.mu.Unlock()
}

// RequestRender asks for one draw. It never blocks; if a draw is already
// pending the request is folded into it.
func (c *Compositor) RequestRender() {
	c.statsMu.Lock()
	c.stats.RenderRequests++
	c.statsMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
		c.statsMu.Lock()
		c.stats.Coalesced++
		c.statsMu.Unlock()
	}
}

// Stats returns compositor statistics.
func (c *Compositor) Stats() CompositorStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Compositor) renderLoop(ctx context.Context, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)

	if err := c.setupGPU(); err != nil {
		c.teardownGPU()
		ready <- err
		return
	}
	defer c.teardownGPU()
	ready <- nil

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
			c.drawFrame()
		}
	}
}

func (c *Compositor) setupGPU() error {
	ctx, err := c.display.NewContext(nil, true)
	if err != nil {
		return fmt.Errorf("create compositor context: %w", err)
	}
	c.ctx = ctx

	surface, err := ctx.CreateOffscreenSurface(1, 1)
	if err != nil {
		return fmt.Errorf("create offscreen surface: %w", err)
	}
	c.offscreen = surface
	if err := ctx.MakeCurrent(surface); err != nil {
		return fmt.Errorf("make compositor context current: %w", err)
	}

	c.input = NewOESInputFilter(c.gl)
	if err := c.input.Init(); err != nil {
		return err
	}
	c.output = NewImageFilter(c.gl)
	if err := c.output.Init(); err != nil {
		return err
	}

	c.shared.Store(&ctx)
	return nil
}

// drawFrame runs one compositor tick. GPU thread only.
func (c *Compositor) drawFrame() {
	c.mu.Lock()
	src := c.source
	attach := c.needAttach
	c.needAttach = false
	w, h := c.targetW, c.targetH
	displaySet, window, dw, dh := c.displaySet, c.pendingWin, c.displayW, c.displayH
	c.displaySet = false
	sink := c.onFrame
	c.mu.Unlock()

	if err := c.ctx.MakeCurrent(c.offscreen); err != nil {
		c.log.Warn().Err(err).Msg("make compositor context current")
		c.skip()
		return
	}

	if displaySet {
		c.rebindDisplay(window, dw, dh)
	}

	if err := c.input.InitFrameBuffer(w, h); err != nil {
		c.log.Warn().Err(err).Int("width", w).Int("height", h).Msg("allocate intermediate framebuffer")
		c.skip()
		return
	}

	if attach {
		if err := c.attachSource(src); err != nil {
			c.log.Warn().Err(err).Msg("attach external texture")
			c.statsMu.Lock()
			c.stats.AttachFailures++
			c.statsMu.Unlock()
			// Retry on the next draw.
			c.mu.Lock()
			if c.source == src {
				c.needAttach = true
			}
			c.mu.Unlock()
			c.skip()
			return
		}
	}

	if src == nil || c.attached != src || c.externalTex == 0 {
		c.skip()
		return
	}

	if err := src.UpdateTexImage(); err != nil {
		c.log.Warn().Err(err).Msg("update external texture")
		c.skip()
		return
	}
	timestamp := src.Timestamp()
	c.input.SetTransformMatrix(src.TransformMatrix())

	tex, err := c.input.DrawFrameBuffer(c.externalTex)
	if err != nil {
		c.log.Warn().Err(err).Msg("composite camera frame")
		c.skip()
		return
	}

	if c.displaySurface != nil {
		target := renderTarget{ctx: c.ctx, surface: c.displaySurface}
		if err := present(target, c.output, tex, timestamp); err != nil {
			c.log.Warn().Err(err).Msg("present to display")
		}
	}

	compositorFramesTotal.WithLabelValues("rendered").Inc()
	c.statsMu.Lock()
	c.stats.FramesRendered++
	c.statsMu.Unlock()

	if sink != nil {
		sink(FrameSample{TextureID: tex, TimestampNs: timestamp})
	}
}

// attachSource replaces the external texture and attaches src to it.
func (c *Compositor) attachSource(src TextureSource) error {
	c.detachSource()
	if src == nil {
		return nil
	}

	tex := c.gl.GenTexture()
	c.gl.BindTexture(glTextureExternalOES, tex)
	c.gl.TexParameteri(glTextureExternalOES, glTextureMinFilter, glLinear)
	c.gl.TexParameteri(glTextureExternalOES, glTextureMagFilter, glLinear)
	c.gl.TexParameteri(glTextureExternalOES, glTextureWrapS, glClampToEdge)
	c.gl.TexParameteri(glTextureExternalOES, glTextureWrapT, glClampToEdge)
	c.gl.BindTexture(glTextureExternalOES, 0)

	if err := src.AttachToGLContext(tex); err != nil {
		c.gl.DeleteTexture(tex)
		return err
	}
	c.externalTex = tex
	c.attached = src
	return nil
}

func (c *Compositor) detachSource() {
	if c.attached != nil {
		if err := c.attached.DetachFromGLContext(); err != nil {
			c.log.Warn().Err(err).Msg("detach external texture")
		}
		c.attached = nil
	}
	if c.externalTex != 0 {
		c.gl.DeleteTexture(c.externalTex)
		c.externalTex = 0
	}
}

func (c *Compositor) rebindDisplay(window NativeWindow, width, height int) {
	if c.displaySurface != nil && window == c.displayWindow {
		c.output.SetDisplaySize(width, height)
		return
	}
	if c.displaySurface != nil {
		releaseQuietly(c.log, "release display surface", c.displaySurface.Release)
		c.displaySurface = nil
		c.displayWindow = 0
	}
	if window == 0 {
		return
	}
	surface, err := c.ctx.CreateWindowSurface(window)
	if err != nil {
		c.log.Warn().Err(err).Msg("create display surface")
		return
	}
	c.displaySurface = surface
	c.displayWindow = window
	c.output.SetDisplaySize(width, height)
}

func (c *Compositor) skip() {
	compositorFramesTotal.WithLabelValues("skipped").Inc()
	c.statsMu.Lock()
	c.stats.FramesSkipped++
	c.statsMu.Unlock()
}

// teardownGPU releases GPU resources in dependency order, nulling each.
func (c *Compositor) teardownGPU() {
	c.shared.Store(nil)
	if c.ctx != nil && c.offscreen != nil {
		releaseQuietly(c.log, "make compositor context current", func() error { return c.ctx.MakeCurrent(c.offscreen) })
	}

	c.detachSource()
	if c.input != nil {
		c.input.Release()
		c.input = nil
	}
	if c.output != nil {
		c.output.Release()
		c.output = nil
	}
	if c.displaySurface != nil {
		releaseQuietly(c.log, "release display surface", c.displaySurface.Release)
		c.displaySurface = nil
		c.displayWindow = 0
	}
	if c.ctx != nil {
		releaseQuietly(c.log, "release current context", c.ctx.ReleaseCurrent)
	}
	if c.offscreen != nil {
		releaseQuietly(c.log, "release offscreen surface", c.offscreen.Release)
		c.offscreen = nil
	}
	if c.ctx != nil {
		releaseQuietly(c.log, "release compositor context", c.ctx.Release)
		c.ctx = nil
	}

	// A later Start re-attaches the bound source on a fresh context.
	c.mu.Lock()
	c.needAttach = c.source != nil
	c.mu.Unlock()
}
