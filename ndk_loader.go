//go:build android

// Shared loading helpers for the purego-based NDK bindings.

package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ndkLibrary is one system library, opened at most once.
type ndkLibrary struct {
	name    string
	envVar  string
	symbols func(handle uintptr) error

	once    sync.Once
	handle  uintptr
	initErr error
}

func (l *ndkLibrary) load() error {
	l.once.Do(func() {
		l.initErr = l.open()
		if l.initErr != nil {
			log := componentLogger("ndk")
			log.Warn().Err(l.initErr).Str("lib", l.name).Msg("native library unavailable")
		}
	})
	return l.initErr
}

func (l *ndkLibrary) open() error {
	var lastErr error
	for _, path := range l.paths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		if err := l.symbols(handle); err != nil {
			purego.Dlclose(handle)
			lastErr = err
			continue
		}
		l.handle = handle
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load %s: %w", l.name, lastErr)
	}
	return fmt.Errorf("%s not found in any standard location", l.name)
}

func (l *ndkLibrary) paths() []string {
	var paths []string

	// Environment variable override
	if l.envVar != "" {
		if envPath := os.Getenv(l.envVar); envPath != "" {
			paths = append(paths, envPath)
		}
	}

	// Bare name resolves through the app's linker namespace
	paths = append(paths, l.name)

	for _, dir := range []string{"/system/lib64", "/system/lib"} {
		paths = append(paths, filepath.Join(dir, l.name))
	}
	return paths
}

// registerSymbols registers each function pointer, converting the panic
// purego raises for a missing symbol into an error.
func registerSymbols(handle uintptr, fns map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("register symbol: %v", p)
		}
	}()
	for name, fn := range fns {
		purego.RegisterLibFunc(fn, handle, name)
	}
	return nil
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Add(p, length)) != 0 {
		length++
		if length > 4096 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

var errNullHandle = errors.New("native call returned a null handle")

// init opens every NDK library and registers the Android platform. A
// missing library is recorded as the platform error and surfaces from
// DefaultPlatform rather than failing the process.
func init() {
	p, err := newAndroidPlatform()
	RegisterPlatform(p, err)
}

func newAndroidPlatform() (*Platform, error) {
	for _, lib := range []*ndkLibrary{mediaNDK, eglLib, glesLib, androidLib, aaudioLib} {
		if err := lib.load(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPlatformUnavailable, err)
		}
	}
	return &Platform{
		Name:    "android",
		GL:      ndkGLES{},
		Display: &eglDisplayProvider{},
		Codecs:  ndkCodecProvider{},
		Capture: aaudioCaptureProvider{},
	}, nil
}
