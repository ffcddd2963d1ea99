//go:build android

// OpenGL ES 2.0 via libGLESv2.

package recorder

import (
	"unsafe"
)

// libGLESv2 function pointers
var (
	glCreateShader             func(typ uint32) uint32
	glShaderSource             func(shader uint32, count int32, src, length uintptr)
	glCompileShader            func(shader uint32)
	glGetShaderiv              func(shader, pname uint32, params uintptr)
	glGetShaderInfoLog         func(shader uint32, bufSize int32, length, infoLog uintptr)
	glDeleteShader             func(shader uint32)
	glCreateProgram            func() uint32
	glAttachShader             func(program, shader uint32)
	glLinkProgram              func(program uint32)
	glGetProgramiv             func(program, pname uint32, params uintptr)
	glGetProgramInfoLog        func(program uint32, bufSize int32, length, infoLog uintptr)
	glDeleteProgram            func(program uint32)
	glUseProgram               func(program uint32)
	glGetAttribLocation        func(program uint32, name string) int32
	glGetUniformLocation       func(program uint32, name string) int32
	glVertexAttribPointer      func(index uint32, size int32, typ uint32, normalized bool, stride int32, ptr uintptr)
	glEnableVertexAttribArray  func(index uint32)
	glDisableVertexAttribArray func(index uint32)
	glUniform1i                func(location, v int32)
	glUniformMatrix4fv         func(location, count int32, transpose bool, value uintptr)
	glActiveTexture            func(unit uint32)
	glGenTextures              func(n int32, textures uintptr)
	glDeleteTextures           func(n int32, textures uintptr)
	glBindTexture              func(target, texture uint32)
	glTexImage2D               func(target uint32, level, internalFormat, width, height, border int32, format, typ uint32, pixels uintptr)
	glTexParameteri            func(target, pname uint32, param int32)
	glGenFramebuffers          func(n int32, framebuffers uintptr)
	glDeleteFramebuffers       func(n int32, framebuffers uintptr)
	glBindFramebuffer          func(target, framebuffer uint32)
	glFramebufferTexture2D     func(target, attachment, texTarget, texture uint32, level int32)
	glCheckFramebufferStatus   func(target uint32) uint32
	glViewport                 func(x, y, width, height int32)
	glClearColor               func(r, g, b, a float32)
	glClear                    func(mask uint32)
	glDrawArrays               func(mode uint32, first, count int32)
	glGetError                 func() uint32
)

const glInfoLogLength = 0x8B84

var glesLib = &ndkLibrary{
	name:   "libGLESv2.so",
	envVar: "RECORDER_GLES_PATH",
	symbols: func(h uintptr) error {
		return registerSymbols(h, map[string]any{
			"glCreateShader":             &glCreateShader,
			"glShaderSource":             &glShaderSource,
			"glCompileShader":            &glCompileShader,
			"glGetShaderiv":              &glGetShaderiv,
			"glGetShaderInfoLog":         &glGetShaderInfoLog,
			"glDeleteShader":             &glDeleteShader,
			"glCreateProgram":            &glCreateProgram,
			"glAttachShader":             &glAttachShader,
			"glLinkProgram":              &glLinkProgram,
			"glGetProgramiv":             &glGetProgramiv,
			"glGetProgramInfoLog":        &glGetProgramInfoLog,
			"glDeleteProgram":            &glDeleteProgram,
			"glUseProgram":               &glUseProgram,
			"glGetAttribLocation":        &glGetAttribLocation,
			"glGetUniformLocation":       &glGetUniformLocation,
			"glVertexAttribPointer":      &glVertexAttribPointer,
			"glEnableVertexAttribArray":  &glEnableVertexAttribArray,
			"glDisableVertexAttribArray": &glDisableVertexAttribArray,
			"glUniform1i":                &glUniform1i,
			"glUniformMatrix4fv":         &glUniformMatrix4fv,
			"glActiveTexture":            &glActiveTexture,
			"glGenTextures":              &glGenTextures,
			"glDeleteTextures":           &glDeleteTextures,
			"glBindTexture":              &glBindTexture,
			"glTexImage2D":               &glTexImage2D,
			"glTexParameteri":            &glTexParameteri,
			"glGenFramebuffers":          &glGenFramebuffers,
			"glDeleteFramebuffers":       &glDeleteFramebuffers,
			"glBindFramebuffer":          &glBindFramebuffer,
			"glFramebufferTexture2D":     &glFramebufferTexture2D,
			"glCheckFramebufferStatus":   &glCheckFramebufferStatus,
			"glViewport":                 &glViewport,
			"glClearColor":               &glClearColor,
			"glClear":                    &glClear,
			"glDrawArrays":               &glDrawArrays,
			"glGetError":                 &glGetError,
		})
	},
}

// ndkGLES implements GLES over libGLESv2. Calls go to whatever context is
// current on the calling thread.
type ndkGLES struct{}

func (ndkGLES) CreateShader(typ uint32) uint32 { return glCreateShader(typ) }

func (ndkGLES) ShaderSource(shader uint32, src string) {
	csrc := append([]byte(src), 0)
	ptr := uintptr(unsafe.Pointer(&csrc[0]))
	glShaderSource(shader, 1, uintptr(unsafe.Pointer(&ptr)), 0)
}

func (ndkGLES) CompileShader(shader uint32) { glCompileShader(shader) }

func (ndkGLES) GetShaderiv(shader, pname uint32) int32 {
	v := new(int32)
	glGetShaderiv(shader, pname, uintptr(unsafe.Pointer(v)))
	return *v
}

func (g ndkGLES) GetShaderInfoLog(shader uint32) string {
	n := g.GetShaderiv(shader, glInfoLogLength)
	return readInfoLog(n, func(size int32, length, buf uintptr) {
		glGetShaderInfoLog(shader, size, length, buf)
	})
}

func (ndkGLES) DeleteShader(shader uint32) { glDeleteShader(shader) }

func (ndkGLES) CreateProgram() uint32 { return glCreateProgram() }

func (ndkGLES) AttachShader(program, shader uint32) { glAttachShader(program, shader) }

func (ndkGLES) LinkProgram(program uint32) { glLinkProgram(program) }

func (ndkGLES) GetProgramiv(program, pname uint32) int32 {
	v := new(int32)
	glGetProgramiv(program, pname, uintptr(unsafe.Pointer(v)))
	return *v
}

func (g ndkGLES) GetProgramInfoLog(program uint32) string {
	n := g.GetProgramiv(program, glInfoLogLength)
	return readInfoLog(n, func(size int32, length, buf uintptr) {
		glGetProgramInfoLog(program, size, length, buf)
	})
}

func (ndkGLES) DeleteProgram(program uint32) { glDeleteProgram(program) }

func (ndkGLES) UseProgram(program uint32) { glUseProgram(program) }

func (ndkGLES) GetAttribLocation(program uint32, name string) int32 {
	return glGetAttribLocation(program, name)
}

func (ndkGLES) GetUniformLocation(program uint32, name string) int32 {
	return glGetUniformLocation(program, name)
}

func (ndkGLES) VertexAttribPointer(index uint32, size int32, data []float32) {
	glVertexAttribPointer(index, size, glFloat, false, 0, uintptr(unsafe.Pointer(&data[0])))
}

func (ndkGLES) EnableVertexAttribArray(index uint32) { glEnableVertexAttribArray(index) }

func (ndkGLES) DisableVertexAttribArray(index uint32) { glDisableVertexAttribArray(index) }

func (ndkGLES) Uniform1i(location, v int32) { glUniform1i(location, v) }

func (ndkGLES) UniformMatrix4fv(location int32, m *[16]float32) {
	glUniformMatrix4fv(location, 1, false, uintptr(unsafe.Pointer(&m[0])))
}

func (ndkGLES) ActiveTexture(unit uint32) { glActiveTexture(unit) }

func (ndkGLES) GenTexture() uint32 {
	tex := new(uint32)
	glGenTextures(1, uintptr(unsafe.Pointer(tex)))
	return *tex
}

func (ndkGLES) DeleteTexture(tex uint32) {
	glDeleteTextures(1, uintptr(unsafe.Pointer(&tex)))
}

func (ndkGLES) BindTexture(target, tex uint32) { glBindTexture(target, tex) }

func (ndkGLES) TexImage2D(target uint32, width, height int32) {
	glTexImage2D(target, 0, glRGBA, width, height, 0, glRGBA, glUnsignedByte, 0)
}

func (ndkGLES) TexParameteri(target, pname uint32, param int32) {
	glTexParameteri(target, pname, param)
}

func (ndkGLES) GenFramebuffer() uint32 {
	fb := new(uint32)
	glGenFramebuffers(1, uintptr(unsafe.Pointer(fb)))
	return *fb
}

func (ndkGLES) DeleteFramebuffer(fb uint32) {
	glDeleteFramebuffers(1, uintptr(unsafe.Pointer(&fb)))
}

func (ndkGLES) BindFramebuffer(target, fb uint32) { glBindFramebuffer(target, fb) }

func (ndkGLES) FramebufferTexture2D(target, attachment, texTarget, tex uint32, level int32) {
	glFramebufferTexture2D(target, attachment, texTarget, tex, level)
}

func (ndkGLES) CheckFramebufferStatus(target uint32) uint32 { return glCheckFramebufferStatus(target) }

func (ndkGLES) Viewport(x, y, width, height int32) { glViewport(x, y, width, height) }

func (ndkGLES) ClearColor(r, g, b, a float32) { glClearColor(r, g, b, a) }

func (ndkGLES) Clear(mask uint32) { glClear(mask) }

func (ndkGLES) DrawArrays(mode uint32, first, count int32) { glDrawArrays(mode, first, count) }

func (ndkGLES) GetError() uint32 { return glGetError() }

func readInfoLog(n int32, get func(size int32, length, buf uintptr)) string {
	if n <= 1 {
		return ""
	}
	buf := make([]byte, n)
	length := new(int32)
	get(n, uintptr(unsafe.Pointer(length)), uintptr(unsafe.Pointer(&buf[0])))
	if *length <= 0 || int(*length) > len(buf) {
		return ""
	}
	return string(buf[:*length])
}
