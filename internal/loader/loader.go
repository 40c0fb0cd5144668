// Package loader extracts the bundled native libraries for the host
// platform and maps them into the process exactly once.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/arborml/nativeboot/internal/extract"
	"github.com/arborml/nativeboot/internal/platform"
)

// resourceRoot is where the bundle stores per-platform libraries.
const resourceRoot = "/lib"

// DefaultLibraries is the load order used when Config.Libraries is
// empty.
var DefaultLibraries = []string{"onnxruntime"}

// ErrLinkFailure marks a library that was extracted but could not be
// linked, typically because a runtime dependency such as an OpenMP
// implementation is missing from the host.
var ErrLinkFailure = errors.New("native link failure")

// State is the loader's lifecycle state.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Initialized
)

// Config configures a Loader.
type Config struct {
	// Libraries are loaded in declared order. Empty means
	// DefaultLibraries.
	Libraries []string
	// Logger receives remediation diagnostics. Nil means a stderr
	// logger.
	Logger *log.Logger
	// MappedFilesDir overrides the directory probed for musl
	// detection on Linux.
	MappedFilesDir string
}

// Loader performs the one-time detect, extract and link sequence for
// a set of bundled native libraries. Safe for concurrent use.
type Loader struct {
	fsys   fs.FS
	libs   []string
	logger *log.Logger

	// Collaborator seams, replaced by test doubles.
	detectFn  func() (platform.OS, platform.Arch, error)
	extractFn func(fsys fs.FS, path string) (string, error)
	loadFn    func(path string) error

	state atomic.Int32
	mu    sync.Mutex

	// Written once inside the critical section, read through accessors.
	os    platform.OS
	arch  platform.Arch
	paths map[string]string
}

// New creates a Loader over the given bundle filesystem.
func New(fsys fs.FS, cfg Config) *Loader {
	libs := cfg.Libraries
	if len(libs) == 0 {
		libs = DefaultLibraries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "nativeboot"})
	}
	detector := platform.Detector{MappedFilesDir: cfg.MappedFilesDir, Logger: logger}
	return &Loader{
		fsys:      fsys,
		libs:      libs,
		logger:    logger,
		detectFn:  detector.Detect,
		extractFn: extract.TempFileFromResource,
		loadFn:    loadLibrary,
		paths:     make(map[string]string),
	}
}

// State reports the loader's current lifecycle state.
func (l *Loader) State() State {
	return State(l.state.Load())
}

// Platform returns the detected "<os>/<arch>" pair, or "" before the
// first successful Ensure.
func (l *Loader) Platform() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() != Initialized {
		return ""
	}
	return string(l.os) + "/" + string(l.arch)
}

// LibraryPath returns the temp file a loaded library was extracted
// to, or "" if that library has not been loaded.
func (l *Loader) LibraryPath(name string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paths[name]
}

// Ensure detects the host platform, extracts each configured library
// from the bundle and links it into the process. The first successful
// call does the work; every later call returns immediately.
// Concurrent first callers block until the working call finishes and
// then observe its outcome. A failed call leaves the loader
// uninitialized, so the sequence may be retried once the host is
// fixed; the transition to Initialized happens at most once.
func (l *Loader) Ensure() error {
	if l.State() == Initialized {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() == Initialized {
		return nil
	}

	l.state.Store(int32(Initializing))
	if err := l.load(); err != nil {
		l.state.Store(int32(Uninitialized))
		return err
	}
	l.state.Store(int32(Initialized))
	return nil
}

// load runs the full sequence. Caller holds l.mu.
func (l *Loader) load() error {
	osv, arch, err := l.detectFn()
	if err != nil {
		return err
	}
	l.os, l.arch = osv, arch
	platformPath := string(osv) + "/" + string(arch)

	for _, name := range l.libs {
		resource := resourceRoot + "/" + platformPath + "/" + osv.LibraryFileName(name)

		tmpPath, err := l.extractFn(l.fsys, resource)
		if err != nil {
			l.logger.Error("cannot extract native library",
				"library", name, "platform", platformPath, "err", err)
			return fmt.Errorf("extracting %s for %s: %w", name, platformPath, err)
		}

		if err := l.loadFn(tmpPath); err != nil {
			l.logger.Error("failed to load native library, likely due to a missing OpenMP dependency",
				"library", name, "platform", platformPath, "err", err)
			l.logger.Error(osv.RemediationHint())
			return fmt.Errorf("%w: loading %s for %s: %w", ErrLinkFailure, name, platformPath, err)
		}

		l.paths[name] = tmpPath
	}
	return nil
}
