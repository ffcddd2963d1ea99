//go:build android

// Camera textures via libandroid (ASurfaceTexture, ANativeWindow).

package recorder

import (
	"fmt"
	"unsafe"
)

// libandroid function pointers
var (
	aSurfaceTextureAttachToGLContext   func(st uintptr, texName uint32) int32
	aSurfaceTextureDetachFromGLContext func(st uintptr) int32
	aSurfaceTextureUpdateTexImage      func(st uintptr) int32
	aSurfaceTextureGetTransformMatrix  func(st uintptr, mtx uintptr)
	aSurfaceTextureGetTimestamp        func(st uintptr) int64
	aSurfaceTextureRelease             func(st uintptr)
	aSurfaceTextureFromSurfaceTexture  func(env, surfaceTexture uintptr) uintptr
	aNativeWindowRelease               func(window uintptr)
)

var androidLib = &ndkLibrary{
	name:   "libandroid.so",
	envVar: "RECORDER_ANDROID_PATH",
	symbols: func(h uintptr) error {
		return registerSymbols(h, map[string]any{
			"ASurfaceTexture_attachToGLContext":   &aSurfaceTextureAttachToGLContext,
			"ASurfaceTexture_detachFromGLContext": &aSurfaceTextureDetachFromGLContext,
			"ASurfaceTexture_updateTexImage":      &aSurfaceTextureUpdateTexImage,
			"ASurfaceTexture_getTransformMatrix":  &aSurfaceTextureGetTransformMatrix,
			"ASurfaceTexture_getTimestamp":        &aSurfaceTextureGetTimestamp,
			"ASurfaceTexture_release":             &aSurfaceTextureRelease,
			"ASurfaceTexture_fromSurfaceTexture":  &aSurfaceTextureFromSurfaceTexture,
			"ANativeWindow_release":               &aNativeWindowRelease,
		})
	},
}

// SurfaceTexture is a TextureSource backed by an ASurfaceTexture, the
// consumer end of a camera preview stream.
type SurfaceTexture struct {
	st       uintptr
	attached bool
}

// NewSurfaceTexture wraps a Java SurfaceTexture object. env is the calling
// thread's JNIEnv; surfaceTexture a local or global reference to it.
func NewSurfaceTexture(env, surfaceTexture uintptr) (*SurfaceTexture, error) {
	if err := androidLib.load(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
	}
	st := aSurfaceTextureFromSurfaceTexture(env, surfaceTexture)
	if st == 0 {
		return nil, fmt.Errorf("surface texture: %w", errNullHandle)
	}
	return &SurfaceTexture{st: st}, nil
}

func (s *SurfaceTexture) AttachToGLContext(texture uint32) error {
	if rc := aSurfaceTextureAttachToGLContext(s.st, texture); rc != 0 {
		return fmt.Errorf("attach to gl context: status %d", rc)
	}
	s.attached = true
	return nil
}

func (s *SurfaceTexture) DetachFromGLContext() error {
	if !s.attached {
		return nil
	}
	s.attached = false
	if rc := aSurfaceTextureDetachFromGLContext(s.st); rc != 0 {
		return fmt.Errorf("detach from gl context: status %d", rc)
	}
	return nil
}

func (s *SurfaceTexture) UpdateTexImage() error {
	if !s.attached {
		return ErrNotAttached
	}
	if rc := aSurfaceTextureUpdateTexImage(s.st); rc != 0 {
		return fmt.Errorf("update tex image: status %d", rc)
	}
	return nil
}

func (s *SurfaceTexture) TransformMatrix() [16]float32 {
	var m [16]float32
	aSurfaceTextureGetTransformMatrix(s.st, uintptr(unsafe.Pointer(&m[0])))
	return m
}

func (s *SurfaceTexture) Timestamp() int64 {
	return aSurfaceTextureGetTimestamp(s.st)
}

// Release frees the native handle. The Java object stays owned by the
// caller.
func (s *SurfaceTexture) Release() {
	if s.st != 0 {
		aSurfaceTextureRelease(s.st)
		s.st = 0
	}
}
