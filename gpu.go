package recorder

// NativeWindow is an ANativeWindow pointer handed out by an encoder or the UI.
type NativeWindow uintptr

// GPUContext is a rendering context. A context may only be current on one
// OS thread at a time; callers lock their goroutine before using it.
type GPUContext interface {
	// CreateWindowSurface wraps window in a drawable surface.
	CreateWindowSurface(window NativeWindow) (Surface, error)

	// CreateOffscreenSurface creates a pbuffer surface.
	CreateOffscreenSurface(width, height int) (Surface, error)

	// MakeCurrent binds the context and s to the calling thread.
	MakeCurrent(s Surface) error

	// ReleaseCurrent unbinds the context from the calling thread.
	ReleaseCurrent() error

	Release() error
}

// Surface is a drawable bound to a GPUContext.
type Surface interface {
	SwapBuffers() error

	// SetPresentationTime stamps the next swap with a timestamp in
	// nanoseconds. Only meaningful for encoder input surfaces.
	SetPresentationTime(ns int64) error

	Release() error
}

// DisplayProvider creates GPU contexts.
type DisplayProvider interface {
	// NewContext creates a context sharing textures with shared (nil for
	// none). Recordable contexts pick a config usable with encoder surfaces.
	NewContext(shared GPUContext, recordable bool) (GPUContext, error)
}

// TextureSource is the camera side of the compositor: it owns an external
// texture that is updated at the source's own cadence.
type TextureSource interface {
	// AttachToGLContext binds the source to texture on the current context.
	AttachToGLContext(texture uint32) error

	// DetachFromGLContext releases the binding made by AttachToGLContext.
	DetachFromGLContext() error

	// UpdateTexImage latches the most recent frame into the texture.
	UpdateTexImage() error

	// TransformMatrix returns the texture-coordinate transform of the
	// latched frame.
	TransformMatrix() [16]float32

	// Timestamp returns the device timestamp of the latched frame in
	// nanoseconds.
	Timestamp() int64
}

// GLES is the OpenGL ES 2.0 subset used by the filters. Every method must be
// called on the thread where the owning context is current.
type GLES interface {
	CreateShader(typ uint32) uint32
	ShaderSource(shader uint32, src string)
	CompileShader(shader uint32)
	GetShaderiv(shader, pname uint32) int32
	GetShaderInfoLog(shader uint32) string
	DeleteShader(shader uint32)

	CreateProgram() uint32
	AttachShader(program, shader uint32)
	LinkProgram(program uint32)
	GetProgramiv(program, pname uint32) int32
	GetProgramInfoLog(program uint32) string
	DeleteProgram(program uint32)
	UseProgram(program uint32)

	GetAttribLocation(program uint32, name string) int32
	GetUniformLocation(program uint32, name string) int32
	// VertexAttribPointer points index at float data. data must stay
	// reachable until the draw call that uses it returns.
	VertexAttribPointer(index uint32, size int32, data []float32)
	EnableVertexAttribArray(index uint32)
	DisableVertexAttribArray(index uint32)
	Uniform1i(location, v int32)
	UniformMatrix4fv(location int32, m *[16]float32)

	ActiveTexture(unit uint32)
	GenTexture() uint32
	DeleteTexture(tex uint32)
	BindTexture(target, tex uint32)
	TexImage2D(target uint32, width, height int32)
	TexParameteri(target, pname uint32, param int32)

	GenFramebuffer() uint32
	DeleteFramebuffer(fb uint32)
	BindFramebuffer(target, fb uint32)
	FramebufferTexture2D(target, attachment, texTarget, tex uint32, level int32)
	CheckFramebufferStatus(target uint32) uint32

	Viewport(x, y, width, height int32)
	ClearColor(r, g, b, a float32)
	Clear(mask uint32)
	DrawArrays(mode uint32, first, count int32)
	GetError() uint32
}

// OpenGL ES enums used by the filters.
const (
	glNoError             = 0
	glTriangleStrip       = 0x0005
	glTexture2D           = 0x0DE1
	glTextureExternalOES  = 0x8D65
	glTexture0            = 0x84C0
	glTextureMinFilter    = 0x2801
	glTextureMagFilter    = 0x2800
	glTextureWrapS        = 0x2802
	glTextureWrapT        = 0x2803
	glLinear              = 0x2601
	glClampToEdge         = 0x812F
	glFragmentShader      = 0x8B30
	glVertexShader        = 0x8B31
	glCompileStatus       = 0x8B81
	glLinkStatus          = 0x8B82
	glFramebuffer         = 0x8D40
	glColorAttachment0    = 0x8CE0
	glFramebufferComplete = 0x8CD5
	glColorBufferBit      = 0x00004000
	glRGBA                = 0x1908
	glUnsignedByte        = 0x1401
	glFloat               = 0x1406
)
