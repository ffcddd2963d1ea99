//go:build android

// EGL contexts and surfaces via libEGL.

package recorder

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libEGL function pointers
var (
	eglGetDisplay           func(displayID uintptr) uintptr
	eglInitialize           func(display uintptr, major, minor uintptr) uint32
	eglChooseConfig         func(display, attribs, configs uintptr, configSize int32, numConfig uintptr) uint32
	eglCreateContext        func(display, config, share, attribs uintptr) uintptr
	eglDestroyContext       func(display, ctx uintptr) uint32
	eglCreateWindowSurface  func(display, config, window, attribs uintptr) uintptr
	eglCreatePbufferSurface func(display, config, attribs uintptr) uintptr
	eglDestroySurface       func(display, surface uintptr) uint32
	eglMakeCurrent          func(display, draw, read, ctx uintptr) uint32
	eglSwapBuffers          func(display, surface uintptr) uint32
	eglGetError             func() int32
	eglGetProcAddress       func(name string) uintptr

	// Extension, resolved through eglGetProcAddress.
	eglPresentationTimeANDROID func(display, surface uintptr, ns int64) uint32
)

// Constants from egl.h / eglext.h
const (
	eglSuccess              = 0x3000
	eglNone                 = 0x3038
	eglRedSize              = 0x3024
	eglGreenSize            = 0x3023
	eglBlueSize             = 0x3022
	eglAlphaSize            = 0x3021
	eglRenderableType       = 0x3040
	eglSurfaceType          = 0x3033
	eglWidth                = 0x3057
	eglHeight               = 0x3056
	eglContextClientVersion = 0x3098
	eglOpenGLES2Bit         = 0x0004
	eglWindowBit            = 0x0004
	eglPbufferBit           = 0x0001
	eglRecordableAndroid    = 0x3142
)

var eglLib = &ndkLibrary{
	name:   "libEGL.so",
	envVar: "RECORDER_EGL_PATH",
	symbols: func(h uintptr) error {
		if err := registerSymbols(h, map[string]any{
			"eglGetDisplay":           &eglGetDisplay,
			"eglInitialize":           &eglInitialize,
			"eglChooseConfig":         &eglChooseConfig,
			"eglCreateContext":        &eglCreateContext,
			"eglDestroyContext":       &eglDestroyContext,
			"eglCreateWindowSurface":  &eglCreateWindowSurface,
			"eglCreatePbufferSurface": &eglCreatePbufferSurface,
			"eglDestroySurface":       &eglDestroySurface,
			"eglMakeCurrent":          &eglMakeCurrent,
			"eglSwapBuffers":          &eglSwapBuffers,
			"eglGetError":             &eglGetError,
			"eglGetProcAddress":       &eglGetProcAddress,
		}); err != nil {
			return err
		}
		ptr := eglGetProcAddress("eglPresentationTimeANDROID")
		if ptr == 0 {
			return errors.New("eglPresentationTimeANDROID not exported")
		}
		purego.RegisterFunc(&eglPresentationTimeANDROID, ptr)
		return nil
	},
}

func eglErr(op string) error {
	return fmt.Errorf("%s: egl error 0x%x", op, eglGetError())
}

// eglDisplayProvider creates contexts on the default display.
type eglDisplayProvider struct {
	once    sync.Once
	display uintptr
	initErr error
}

func (p *eglDisplayProvider) init() error {
	p.once.Do(func() {
		if err := eglLib.load(); err != nil {
			p.initErr = fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
			return
		}
		display := eglGetDisplay(0)
		if display == 0 {
			p.initErr = fmt.Errorf("get default display: %w", errNullHandle)
			return
		}
		major, minor := new(int32), new(int32)
		if eglInitialize(display, uintptr(unsafe.Pointer(major)), uintptr(unsafe.Pointer(minor))) == 0 {
			p.initErr = eglErr("initialize display")
			return
		}
		p.display = display
	})
	return p.initErr
}

func (p *eglDisplayProvider) NewContext(shared GPUContext, recordable bool) (GPUContext, error) {
	if err := p.init(); err != nil {
		return nil, err
	}

	attribs := []int32{
		eglRedSize, 8,
		eglGreenSize, 8,
		eglBlueSize, 8,
		eglAlphaSize, 8,
		eglRenderableType, eglOpenGLES2Bit,
		eglSurfaceType, eglWindowBit | eglPbufferBit,
	}
	if recordable {
		attribs = append(attribs, eglRecordableAndroid, 1)
	}
	attribs = append(attribs, eglNone)

	config := new(uintptr)
	numConfig := new(int32)
	if eglChooseConfig(p.display, uintptr(unsafe.Pointer(&attribs[0])), uintptr(unsafe.Pointer(config)), 1,
		uintptr(unsafe.Pointer(numConfig))) == 0 || *numConfig < 1 {
		return nil, eglErr("choose config")
	}

	var share uintptr
	if sc, ok := shared.(*eglContext); ok && sc != nil {
		share = sc.ctx
	}

	ctxAttribs := []int32{eglContextClientVersion, 2, eglNone}
	ctx := eglCreateContext(p.display, *config, share, uintptr(unsafe.Pointer(&ctxAttribs[0])))
	if ctx == 0 {
		return nil, eglErr("create context")
	}
	return &eglContext{display: p.display, config: *config, ctx: ctx}, nil
}

// eglContext implements GPUContext.
type eglContext struct {
	display uintptr
	config  uintptr
	ctx     uintptr
}

func (c *eglContext) CreateWindowSurface(window NativeWindow) (Surface, error) {
	attribs := []int32{eglNone}
	s := eglCreateWindowSurface(c.display, c.config, uintptr(window), uintptr(unsafe.Pointer(&attribs[0])))
	if s == 0 {
		return nil, eglErr("create window surface")
	}
	return &eglSurface{display: c.display, surface: s}, nil
}

func (c *eglContext) CreateOffscreenSurface(width, height int) (Surface, error) {
	attribs := []int32{eglWidth, int32(width), eglHeight, int32(height), eglNone}
	s := eglCreatePbufferSurface(c.display, c.config, uintptr(unsafe.Pointer(&attribs[0])))
	if s == 0 {
		return nil, eglErr("create pbuffer surface")
	}
	return &eglSurface{display: c.display, surface: s}, nil
}

func (c *eglContext) MakeCurrent(s Surface) error {
	es, ok := s.(*eglSurface)
	if !ok || es == nil {
		return fmt.Errorf("make current: surface %T not created by egl", s)
	}
	if eglMakeCurrent(c.display, es.surface, es.surface, c.ctx) == 0 {
		return eglErr("make current")
	}
	return nil
}

func (c *eglContext) ReleaseCurrent() error {
	if eglMakeCurrent(c.display, 0, 0, 0) == 0 {
		return eglErr("release current")
	}
	return nil
}

func (c *eglContext) Release() error {
	if c.ctx == 0 {
		return nil
	}
	ok := eglDestroyContext(c.display, c.ctx)
	c.ctx = 0
	if ok == 0 {
		return eglErr("destroy context")
	}
	return nil
}

// eglSurface implements Surface.
type eglSurface struct {
	display uintptr
	surface uintptr
}

func (s *eglSurface) SwapBuffers() error {
	if eglSwapBuffers(s.display, s.surface) == 0 {
		return eglErr("swap buffers")
	}
	return nil
}

func (s *eglSurface) SetPresentationTime(ns int64) error {
	if eglPresentationTimeANDROID(s.display, s.surface, ns) == 0 {
		return eglErr("presentation time")
	}
	return nil
}

func (s *eglSurface) Release() error {
	if s.surface == 0 {
		return nil
	}
	ok := eglDestroySurface(s.display, s.surface)
	s.surface = 0
	if ok == 0 {
		return eglErr("destroy surface")
	}
	return nil
}
