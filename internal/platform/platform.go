// Package platform identifies the host operating system and CPU
// architecture and maps them to the identifiers used in the native
// library bundle.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
)

// ErrUnsupportedPlatform is returned when the host OS or architecture
// matches no supported bundle variant.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// OS is a supported operating system. The value is the path segment
// used in the bundle layout.
type OS string

const (
	Windows   OS = "windows"
	MacOS     OS = "macos"
	Linux     OS = "linux"
	LinuxMusl OS = "linux-musl"
	Solaris   OS = "solaris"
)

// Arch is a supported CPU architecture. The value is the path segment
// used in the bundle layout.
type Arch string

const (
	X8664   Arch = "x86_64"
	AArch64 Arch = "aarch64"
	Sparc   Arch = "sparc"
)

// DefaultMappedFilesDir is where Linux exposes the current process's
// memory-mapped files.
const DefaultMappedFilesDir = "/proc/self/map_files"

// Detector classifies the host platform. The zero value probes
// DefaultMappedFilesDir and logs nothing.
type Detector struct {
	// MappedFilesDir is the directory listed by the musl probe.
	// Empty means DefaultMappedFilesDir.
	MappedFilesDir string
	// Logger receives debug output from the musl probe. Optional.
	Logger *log.Logger
}

// Detect classifies the running process's platform from the
// runtime-reported OS and architecture names.
func (d Detector) Detect() (OS, Arch, error) {
	osv, err := d.DetectOS(runtime.GOOS)
	if err != nil {
		return "", "", err
	}
	arch, err := DetectArch(runtime.GOARCH)
	if err != nil {
		return "", "", err
	}
	return osv, arch, nil
}

// DetectOS maps a reported OS name to its bundle identifier. Matching
// is case-insensitive substring containment; the mac/darwin case runs
// first because "darwin" also contains "win". On Linux the musl probe
// decides between Linux and LinuxMusl.
func (d Detector) DetectOS(name string) (OS, error) {
	s := strings.ToLower(name)
	switch {
	case strings.Contains(s, "mac") || strings.Contains(s, "darwin"):
		return MacOS, nil
	case strings.Contains(s, "win"):
		return Windows, nil
	case strings.Contains(s, "nux"):
		if d.isMuslBased() {
			return LinuxMusl, nil
		}
		return Linux, nil
	case strings.Contains(s, "sunos") || strings.Contains(s, "solaris"):
		return Solaris, nil
	}
	return "", fmt.Errorf("%w: unrecognized operating system %q", ErrUnsupportedPlatform, name)
}

// DetectArch maps a reported architecture name to its bundle
// identifier. Matching is a case-insensitive prefix test.
func DetectArch(name string) (Arch, error) {
	s := strings.ToLower(name)
	switch {
	case strings.HasPrefix(s, "amd64") || strings.HasPrefix(s, "x86_64"):
		return X8664, nil
	case strings.HasPrefix(s, "aarch64") || strings.HasPrefix(s, "arm64"):
		return AArch64, nil
	case strings.HasPrefix(s, "sparc"):
		return Sparc, nil
	}
	return "", fmt.Errorf("%w: unrecognized architecture %q", ErrUnsupportedPlatform, name)
}

// isMuslBased reports whether the running Linux system links against
// musl. It lists the process's memory-mapped files and looks for
// "musl" in their resolved paths. Entries that cannot be resolved are
// skipped, and a listing error means "not musl": the probe is best
// effort and never fails detection.
func (d Detector) isMuslBased() bool {
	dir := d.MappedFilesDir
	if dir == "" {
		dir = DefaultMappedFilesDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		real, err := filepath.EvalSymlinks(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(real), "musl") {
			if d.Logger != nil {
				d.Logger.Debug("assuming Linux is musl-based", "mapped_file", real)
			}
			return true
		}
	}
	return false
}

// LibraryFileName maps a bare library name to the platform's shared
// library naming convention, e.g. "onnxruntime" becomes
// libonnxruntime.so on Linux and onnxruntime.dll on Windows.
func (o OS) LibraryFileName(name string) string {
	switch o {
	case Windows:
		return name + ".dll"
	case MacOS:
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// Link failures against a freshly extracted library are almost always
// a missing OpenMP runtime on the host rather than a packaging
// problem, so each OS carries guidance naming the component to
// install. The Linux variants also cover the musl/glibc heuristic
// misclassifying the host.
var remediationHints = map[OS]string{
	Windows: "you may need to install 'vcomp140.dll' or 'libgomp-1.dll'",
	MacOS:   "you may need to install 'libomp.dylib', via `brew install libomp` or similar",
	Linux: "you may need to install 'libgomp.so' (or glibc) via your package manager; " +
		"alternatively, your Linux OS is musl-based but wasn't detected as such",
	LinuxMusl: "you may need to install 'libgomp.so' (or glibc) via your package manager; " +
		"alternatively, your Linux OS was wrongly detected as musl-based, although it is not",
	Solaris: "you may need to install 'libgomp.so' (or glibc) via your package manager",
}

// RemediationHint returns installation guidance for a native link
// failure on this OS.
func (o OS) RemediationHint() string {
	return remediationHints[o]
}
