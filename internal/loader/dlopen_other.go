//go:build !darwin && !freebsd && !linux && !windows

package loader

import "fmt"

// Platforms without a dlopen binding (notably Solaris, where purego
// has no dlfcn support) can still detect and extract, but not link.
func loadLibrary(path string) error {
	return fmt.Errorf("dynamic loading of %s is not supported on this platform", path)
}
