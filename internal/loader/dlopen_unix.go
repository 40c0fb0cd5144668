//go:build darwin || freebsd || linux

package loader

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// loadLibrary maps the shared library at path into the process with
// its symbols visible globally, which is what downstream bindings
// expect.
func loadLibrary(path string) error {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("cannot load shared library %s: %w", path, err)
	}
	if handle == 0 {
		return fmt.Errorf("shared library handle is nil after loading %s", path)
	}
	return nil
}
