//go:build windows

package loader

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func loadLibrary(path string) error {
	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return fmt.Errorf("cannot load shared library %s: %w", path, err)
	}
	if handle == 0 {
		return fmt.Errorf("shared library handle is nil after loading %s", path)
	}
	return nil
}
