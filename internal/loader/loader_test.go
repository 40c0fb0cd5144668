package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/arborml/nativeboot/internal/extract"
	"github.com/arborml/nativeboot/internal/platform"
)

// counters observes how often each collaborator ran.
type counters struct {
	mu      sync.Mutex
	detects int
	extract int
	loads   int
	loaded  []string
}

func testBundleFS(libs ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, name := range libs {
		key := "lib/linux/x86_64/" + platform.Linux.LibraryFileName(name)
		fsys[key] = &fstest.MapFile{Data: []byte("fake " + name)}
	}
	return fsys
}

// newTestLoader pins detection to linux/x86_64 and stubs the native
// load, counting every collaborator call.
func newTestLoader(t *testing.T, fsys fs.FS, libs []string) (*Loader, *counters) {
	t.Helper()
	t.Cleanup(extract.CleanupExtracted)

	c := &counters{}
	l := New(fsys, Config{Libraries: libs, Logger: log.New(&bytes.Buffer{})})
	l.detectFn = func() (platform.OS, platform.Arch, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.detects++
		return platform.Linux, platform.X8664, nil
	}
	l.extractFn = func(fsys fs.FS, path string) (string, error) {
		c.mu.Lock()
		c.extract++
		c.mu.Unlock()
		return extract.TempFileFromResource(fsys, path)
	}
	l.loadFn = func(path string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loads++
		c.loaded = append(c.loaded, path)
		return nil
	}
	return l, c
}

func TestEnsureLoadsOnce(t *testing.T) {
	l, c := newTestLoader(t, testBundleFS("onnxruntime"), nil)

	require.Equal(t, Uninitialized, l.State())
	require.NoError(t, l.Ensure())
	require.Equal(t, Initialized, l.State())
	require.Equal(t, "linux/x86_64", l.Platform())

	// Second call is a pure no-op.
	require.NoError(t, l.Ensure())
	require.Equal(t, 1, c.detects)
	require.Equal(t, 1, c.extract)
	require.Equal(t, 1, c.loads)
}

func TestEnsureConcurrentFirstCallers(t *testing.T) {
	l, c := newTestLoader(t, testBundleFS("onnxruntime"), nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Ensure()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, c.detects)
	require.Equal(t, 1, c.extract)
	require.Equal(t, 1, c.loads)
	require.Equal(t, Initialized, l.State())
}

func TestEnsureLoadsLibrariesInDeclaredOrder(t *testing.T) {
	libs := []string{"gomp", "onnxruntime"}
	l, c := newTestLoader(t, testBundleFS(libs...), libs)

	require.NoError(t, l.Ensure())
	require.Len(t, c.loaded, 2)
	require.Equal(t, c.loaded[0], l.LibraryPath("gomp"))
	require.Equal(t, c.loaded[1], l.LibraryPath("onnxruntime"))
}

func TestEnsureUnsupportedPlatformIsFatal(t *testing.T) {
	l, c := newTestLoader(t, testBundleFS("onnxruntime"), nil)
	l.detectFn = func() (platform.OS, platform.Arch, error) {
		return "", "", fmt.Errorf("%w: unrecognized operating system %q",
			platform.ErrUnsupportedPlatform, "plan9")
	}

	err := l.Ensure()
	require.ErrorIs(t, err, platform.ErrUnsupportedPlatform)
	require.Equal(t, Uninitialized, l.State())
	// No library is attempted when detection fails.
	require.Equal(t, 0, c.extract)
	require.Equal(t, 0, c.loads)
}

func TestEnsureMissingResource(t *testing.T) {
	l, c := newTestLoader(t, fstest.MapFS{}, nil)

	err := l.Ensure()
	require.ErrorIs(t, err, extract.ErrNotFound)
	require.Equal(t, Uninitialized, l.State())
	require.Equal(t, 0, c.loads)
}

func TestEnsureLinkFailureLogsRemediationHint(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)

	l, _ := newTestLoader(t, testBundleFS("onnxruntime"), nil)
	l.logger = logger
	l.loadFn = func(path string) error {
		return errors.New("undefined symbol: omp_get_num_threads")
	}

	err := l.Ensure()
	require.ErrorIs(t, err, ErrLinkFailure)
	require.Equal(t, Uninitialized, l.State())
	require.Contains(t, buf.String(), "OpenMP")
	require.Contains(t, buf.String(), platform.Linux.RemediationHint())
}

func TestEnsureRetriesAfterFailure(t *testing.T) {
	l, c := newTestLoader(t, testBundleFS("onnxruntime"), nil)

	fail := true
	l.loadFn = func(path string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loads++
		if fail {
			return errors.New("missing libgomp.so.1")
		}
		return nil
	}

	require.Error(t, l.Ensure())
	require.Equal(t, Uninitialized, l.State())
	require.Empty(t, l.Platform())

	// Once the host is fixed, the sequence may run again.
	fail = false
	require.NoError(t, l.Ensure())
	require.Equal(t, Initialized, l.State())
	require.Equal(t, 2, c.loads)
}

func TestDefaultLibraries(t *testing.T) {
	l := New(fstest.MapFS{}, Config{Logger: log.New(&bytes.Buffer{})})
	require.Equal(t, DefaultLibraries, l.libs)
}
