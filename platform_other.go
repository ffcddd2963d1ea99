//go:build !android

package recorder

import "fmt"

// Only Android ships the NDK media, EGL and AAudio libraries this package
// binds. Elsewhere a Platform must be supplied explicitly.
func init() {
	RegisterPlatform(nil, fmt.Errorf("%w: no native backend for this OS", ErrPlatformUnavailable))
}
