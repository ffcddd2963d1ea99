package recorder

import (
	"errors"
	"fmt"
)

var (
	ErrShaderCompile         = errors.New("shader compile failed")
	ErrProgramLink           = errors.New("program link failed")
	ErrFramebufferIncomplete = errors.New("framebuffer incomplete")
)

const passThroughVertexShader = `
attribute vec4 aPosition;
attribute vec4 aTextureCoord;
varying vec2 textureCoordinate;
void main() {
    gl_Position = aPosition;
    textureCoordinate = aTextureCoord.xy;
}
`

const passThroughFragmentShader = `
precision mediump float;
varying vec2 textureCoordinate;
uniform sampler2D inputTexture;
void main() {
    gl_FragColor = texture2D(inputTexture, textureCoordinate);
}
`

const oesVertexShader = `
uniform mat4 transformMatrix;
attribute vec4 aPosition;
attribute vec4 aTextureCoord;
varying vec2 textureCoordinate;
void main() {
    gl_Position = aPosition;
    textureCoordinate = (transformMatrix * aTextureCoord).xy;
}
`

const oesFragmentShader = `
#extension GL_OES_EGL_image_external : require
precision mediump float;
varying vec2 textureCoordinate;
uniform samplerExternalOES inputTexture;
void main() {
    gl_FragColor = texture2D(inputTexture, textureCoordinate);
}
`

// Full-screen quad drawn as a triangle strip. Package-level so the pointers
// handed to VertexAttribPointer stay valid through the draw.
var (
	cubeVertices    = []float32{-1, -1, 1, -1, -1, 1, 1, 1}
	textureVertices = []float32{0, 0, 1, 0, 0, 1, 1, 1}
)

const (
	coordsPerVertex = 2
	vertexCount     = 4
)

var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// ImageFilter draws one input texture into the current framebuffer or into
// its own off-screen framebuffer. All methods must run on the GPU thread
// that owns the current context.
type ImageFilter struct {
	gl          GLES
	vertexSrc   string
	fragmentSrc string
	textureType uint32

	program         uint32
	positionLoc     int32
	texCoordLoc     int32
	inputTextureLoc int32
	transformLoc    int32
	transform       [16]float32

	displayWidth  int
	displayHeight int

	framebuffer   uint32
	fbTexture     uint32
	fbWidth       int
	fbHeight      int
	isInitialized bool
}

// NewImageFilter returns a pass-through filter for 2D textures.
func NewImageFilter(gl GLES) *ImageFilter {
	return &ImageFilter{
		gl:           gl,
		vertexSrc:    passThroughVertexShader,
		fragmentSrc:  passThroughFragmentShader,
		textureType:  glTexture2D,
		transformLoc: -1,
		transform:    identityMatrix,
	}
}

// NewOESInputFilter returns the camera input filter. It samples an external
// texture through the source's transform matrix.
func NewOESInputFilter(gl GLES) *ImageFilter {
	return &ImageFilter{
		gl:           gl,
		vertexSrc:    oesVertexShader,
		fragmentSrc:  oesFragmentShader,
		textureType:  glTextureExternalOES,
		transformLoc: -1,
		transform:    identityMatrix,
	}
}

// Init compiles and links the filter program.
func (f *ImageFilter) Init() error {
	if f.isInitialized {
		return nil
	}
	program, err := createProgram(f.gl, f.vertexSrc, f.fragmentSrc)
	if err != nil {
		return err
	}
	f.program = program
	f.positionLoc = f.gl.GetAttribLocation(program, "aPosition")
	f.texCoordLoc = f.gl.GetAttribLocation(program, "aTextureCoord")
	f.inputTextureLoc = f.gl.GetUniformLocation(program, "inputTexture")
	if f.textureType == glTextureExternalOES {
		f.transformLoc = f.gl.GetUniformLocation(program, "transformMatrix")
	}
	f.isInitialized = true
	return nil
}

// SetTransformMatrix sets the texture transform used by external-texture
// filters. It is ignored by 2D filters.
func (f *ImageFilter) SetTransformMatrix(m [16]float32) {
	f.transform = m
}

// SetDisplaySize sets the viewport used by DrawFrame.
func (f *ImageFilter) SetDisplaySize(width, height int) {
	f.displayWidth = width
	f.displayHeight = height
}

// FrameBufferSize returns the size of the off-screen framebuffer, or zeros
// if none is allocated.
func (f *ImageFilter) FrameBufferSize() (int, int) {
	return f.fbWidth, f.fbHeight
}

// InitFrameBuffer allocates the off-screen framebuffer. It is a no-op when a
// framebuffer of the same size already exists; a size change recreates it.
func (f *ImageFilter) InitFrameBuffer(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: framebuffer %dx%d", ErrInvalidSize, width, height)
	}
	if f.framebuffer != 0 && f.fbWidth == width && f.fbHeight == height {
		return nil
	}
	f.DestroyFrameBuffer()

	gl := f.gl
	tex := gl.GenTexture()
	gl.BindTexture(glTexture2D, tex)
	gl.TexImage2D(glTexture2D, int32(width), int32(height))
	gl.TexParameteri(glTexture2D, glTextureMagFilter, glLinear)
	gl.TexParameteri(glTexture2D, glTextureMinFilter, glLinear)
	gl.TexParameteri(glTexture2D, glTextureWrapS, glClampToEdge)
	gl.TexParameteri(glTexture2D, glTextureWrapT, glClampToEdge)

	fb := gl.GenFramebuffer()
	gl.BindFramebuffer(glFramebuffer, fb)
	gl.FramebufferTexture2D(glFramebuffer, glColorAttachment0, glTexture2D, tex, 0)
	status := gl.CheckFramebufferStatus(glFramebuffer)
	gl.BindTexture(glTexture2D, 0)
	gl.BindFramebuffer(glFramebuffer, 0)

	if status != glFramebufferComplete {
		gl.DeleteFramebuffer(fb)
		gl.DeleteTexture(tex)
		return fmt.Errorf("%w: status 0x%x", ErrFramebufferIncomplete, status)
	}

	f.framebuffer = fb
	f.fbTexture = tex
	f.fbWidth = width
	f.fbHeight = height
	return nil
}

// DestroyFrameBuffer releases the off-screen framebuffer and its texture.
func (f *ImageFilter) DestroyFrameBuffer() {
	if f.fbTexture != 0 {
		f.gl.DeleteTexture(f.fbTexture)
		f.fbTexture = 0
	}
	if f.framebuffer != 0 {
		f.gl.DeleteFramebuffer(f.framebuffer)
		f.framebuffer = 0
	}
	f.fbWidth = 0
	f.fbHeight = 0
}

// DrawFrame draws texture into the currently bound framebuffer.
func (f *ImageFilter) DrawFrame(texture uint32) error {
	if !f.isInitialized {
		return fmt.Errorf("%w: filter not initialized", ErrInvalidConfig)
	}
	f.gl.Viewport(0, 0, int32(f.displayWidth), int32(f.displayHeight))
	return f.draw(texture)
}

// DrawFrameBuffer draws texture into the off-screen framebuffer and returns
// the framebuffer's texture.
func (f *ImageFilter) DrawFrameBuffer(texture uint32) (uint32, error) {
	if !f.isInitialized {
		return 0, fmt.Errorf("%w: filter not initialized", ErrInvalidConfig)
	}
	if f.framebuffer == 0 {
		return 0, fmt.Errorf("%w: no framebuffer", ErrFramebufferIncomplete)
	}
	gl := f.gl
	gl.BindFramebuffer(glFramebuffer, f.framebuffer)
	gl.Viewport(0, 0, int32(f.fbWidth), int32(f.fbHeight))
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(glColorBufferBit)
	err := f.draw(texture)
	gl.BindFramebuffer(glFramebuffer, 0)
	if err != nil {
		return 0, err
	}
	return f.fbTexture, nil
}

func (f *ImageFilter) draw(texture uint32) error {
	gl := f.gl
	gl.UseProgram(f.program)

	pos := uint32(f.positionLoc)
	coord := uint32(f.texCoordLoc)
	gl.VertexAttribPointer(pos, coordsPerVertex, cubeVertices)
	gl.EnableVertexAttribArray(pos)
	gl.VertexAttribPointer(coord, coordsPerVertex, textureVertices)
	gl.EnableVertexAttribArray(coord)

	if f.transformLoc >= 0 {
		gl.UniformMatrix4fv(f.transformLoc, &f.transform)
	}

	gl.ActiveTexture(glTexture0)
	gl.BindTexture(f.textureType, texture)
	gl.Uniform1i(f.inputTextureLoc, 0)

	gl.DrawArrays(glTriangleStrip, 0, vertexCount)

	gl.DisableVertexAttribArray(pos)
	gl.DisableVertexAttribArray(coord)
	gl.BindTexture(f.textureType, 0)
	gl.UseProgram(0)

	if code := gl.GetError(); code != glNoError {
		return fmt.Errorf("draw: gl error 0x%x", code)
	}
	return nil
}

// Release deletes the program and framebuffer. The filter can be
// initialized again afterwards.
func (f *ImageFilter) Release() {
	f.DestroyFrameBuffer()
	if f.program != 0 {
		f.gl.DeleteProgram(f.program)
		f.program = 0
	}
	f.isInitialized = false
}

func createProgram(gl GLES, vertexSrc, fragmentSrc string) (uint32, error) {
	vs, err := compileShader(gl, glVertexShader, vertexSrc)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(gl, glFragmentShader, fragmentSrc)
	if err != nil {
		return 0, err
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	if program == 0 {
		return 0, fmt.Errorf("%w: glCreateProgram returned 0", ErrProgramLink)
	}
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)
	if gl.GetProgramiv(program, glLinkStatus) == 0 {
		info := gl.GetProgramInfoLog(program)
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("%w: %s", ErrProgramLink, info)
	}
	return program, nil
}

func compileShader(gl GLES, typ uint32, src string) (uint32, error) {
	shader := gl.CreateShader(typ)
	if shader == 0 {
		return 0, fmt.Errorf("%w: glCreateShader returned 0", ErrShaderCompile)
	}
	gl.ShaderSource(shader, src)
	gl.CompileShader(shader)
	if gl.GetShaderiv(shader, glCompileStatus) == 0 {
		info := gl.GetShaderInfoLog(shader)
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("%w: %s", ErrShaderCompile, info)
	}
	return shader, nil
}
