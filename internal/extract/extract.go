// Package extract copies resources out of the native library bundle
// into temporary files so the dynamic linker can map them from disk.
package extract

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

var (
	// ErrInvalidArgument reports a malformed resource path. This is a
	// packaging or programming defect, not a runtime condition.
	ErrInvalidArgument = errors.New("invalid resource path")
	// ErrNotFound reports a resource missing from the bundle or a temp
	// file missing right after creation.
	ErrNotFound = errors.New("file not found")
)

// copyBufferSize is the chunk size for streaming a resource to disk.
const copyBufferSize = 1024

var (
	extractedMu sync.Mutex
	extracted   []string
)

func scheduleRemoval(path string) {
	extractedMu.Lock()
	extracted = append(extracted, path)
	extractedMu.Unlock()
}

// CleanupExtracted removes every temp file created by
// TempFileFromResource so far. Removal is best effort and advisory:
// a file still mapped by the dynamic linker, or a process killed
// before cleanup runs, leaves the file behind. Callers typically
// defer this around the process's main run.
func CleanupExtracted() {
	extractedMu.Lock()
	paths := extracted
	extracted = nil
	extractedMu.Unlock()
	for _, p := range paths {
		os.Remove(p)
	}
}

// TempFileFromResource copies the bundle resource at path into a
// newly created, uniquely named temporary file and returns the temp
// file's absolute path. The path must be absolute inside the bundle
// (start with '/'); the temp file keeps the resource's extension and
// is registered for removal by CleanupExtracted.
//
// The filename's prefix before its first '.' must be at least 3
// characters, mirroring the minimum the temp-file facility accepts
// for a usable name. On a copy failure the partially written temp
// file is left in place; it is a unique throwaway file.
func TempFileFromResource(fsys fs.FS, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q must be absolute (start with '/')", ErrInvalidArgument, path)
	}

	filename := path[strings.LastIndex(path, "/")+1:]
	prefix, ext, hasExt := strings.Cut(filename, ".")
	suffix := ""
	if hasExt {
		suffix = "." + ext
	}
	if len(prefix) < 3 {
		return "", fmt.Errorf("%w: filename %q must have at least 3 characters before the extension",
			ErrInvalidArgument, filename)
	}

	tmp, err := os.CreateTemp("", prefix+"-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("cannot create temp file: %w", err)
	}
	defer tmp.Close()
	scheduleRemoval(tmp.Name())

	// Defensive check against an unreliable temp-file facility.
	if _, err := os.Stat(tmp.Name()); err != nil {
		return "", fmt.Errorf("%w: temp file %s missing after creation", ErrNotFound, tmp.Name())
	}

	src, err := fsys.Open(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: resource %s is not in the bundle", ErrNotFound, path)
	}
	defer src.Close()

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tmp, src, buf); err != nil {
		return "", fmt.Errorf("cannot copy %s: %w", path, err)
	}

	return tmp.Name(), nil
}
