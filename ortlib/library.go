// Package ortlib locates, probes and guards the ONNX Runtime shared library without loading it into
// an inference session.
package ortlib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultOnnxRuntimeVersion is the ONNX Runtime release the cache layout is keyed on
	// when ONNXRUNTIME_VERSION is not set.
	DefaultOnnxRuntimeVersion = "1.23.1"
)

var errSharedLibraryNotFound = errors.New("ONNX Runtime shared library not found")

// LibraryOption configures ResolveLibrary.
type LibraryOption func(*libraryConfig) error

type libraryConfig struct {
	libraryPath  string
	cacheDir     string
	version      string
	skipDefaults bool
	goos         string
	goarch       string
}

type runtimeArtifact struct {
	platform       string
	primaryLibrary string
	libraryGlob    string
	defaultPaths   []string
}

// WithLibraryPath forces resolution to an existing ONNX Runtime shared library path.
func WithLibraryPath(path string) LibraryOption {
	return func(cfg *libraryConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// WithCacheDir sets the directory holding unpacked ONNX Runtime releases.
func WithCacheDir(dir string) LibraryOption {
	return func(cfg *libraryConfig) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("cache directory cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithVersion selects the unpacked release inside the cache directory (for example: 1.23.1).
func WithVersion(version string) LibraryOption {
	return func(cfg *libraryConfig) error {
		version = strings.TrimSpace(version)
		if version == "" {
			return fmt.Errorf("version cannot be empty")
		}
		cfg.version = version
		return nil
	}
}

// WithoutPlatformDefaults disables the fallback to well-known system install paths.
func WithoutPlatformDefaults() LibraryOption {
	return func(cfg *libraryConfig) error {
		cfg.skipDefaults = true
		return nil
	}
}

func withPlatform(goos, goarch string) LibraryOption {
	return func(cfg *libraryConfig) error {
		cfg.goos = goos
		cfg.goarch = goarch
		return nil
	}
}

// ResolveLibrary locates an ONNX Runtime shared library already present on this machine
// and returns its absolute path.
//
// Lookup order: explicit option or ONNXRUNTIME_LIB_PATH, the cache install directory
// <cache>/onnxruntime-<platform>-<version>/lib, then the platform default install paths.
// Nothing is downloaded.
func ResolveLibrary(opts ...LibraryOption) (string, error) {
	cfg, err := resolveLibraryConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return checkLibraryFile(cfg.libraryPath)
	}

	artifact, err := resolveRuntimeArtifact(cfg.goos, cfg.goarch)
	if err != nil {
		return "", err
	}

	installDir := filepath.Join(cfg.cacheDir, artifact.installName(cfg.version))
	switch path, err := findInstalledLibrary(installDir, artifact); {
	case err == nil:
		return path, nil
	case !errors.Is(err, errSharedLibraryNotFound):
		return "", err
	}

	if !cfg.skipDefaults {
		for _, candidate := range artifact.defaultPaths {
			if path, err := checkLibraryFile(candidate); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("%w: set ONNXRUNTIME_LIB_PATH or unpack a release into %s", errSharedLibraryNotFound, installDir)
}

// IsLibraryNotFound reports whether err means no shared library candidate exists at all.
func IsLibraryNotFound(err error) bool {
	return errors.Is(err, errSharedLibraryNotFound)
}

func resolveLibraryConfig(opts ...LibraryOption) (libraryConfig, error) {
	cfg := libraryConfig{
		libraryPath: strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB_PATH")),
		cacheDir:    strings.TrimSpace(os.Getenv("ONNXRUNTIME_CACHE_DIR")),
		version:     strings.TrimSpace(os.Getenv("ONNXRUNTIME_VERSION")),
		goos:        runtime.GOOS,
		goarch:      runtime.GOARCH,
	}

	if cfg.version == "" {
		cfg.version = DefaultOnnxRuntimeVersion
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = DefaultCacheDir()
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return libraryConfig{}, err
		}
	}

	version, err := NormalizeVersion(cfg.version)
	if err != nil {
		return libraryConfig{}, err
	}
	cfg.version = version
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)

	return cfg, nil
}

func resolveRuntimeArtifact(goos, goarch string) (runtimeArtifact, error) {
	switch goos {
	case "darwin":
		artifact := runtimeArtifact{
			primaryLibrary: "libonnxruntime.dylib",
			libraryGlob:    "libonnxruntime*.dylib",
			defaultPaths:   []string{"/usr/local/lib/libonnxruntime.dylib", "/opt/homebrew/lib/libonnxruntime.dylib"},
		}
		switch goarch {
		case "arm64":
			artifact.platform = "osx-arm64"
			return artifact, nil
		case "amd64":
			artifact.platform = "osx-x86_64"
			return artifact, nil
		}
	case "linux":
		artifact := runtimeArtifact{
			primaryLibrary: "libonnxruntime.so",
			libraryGlob:    "libonnxruntime.so*",
			defaultPaths:   []string{"/usr/lib/libonnxruntime.so", "/usr/local/lib/libonnxruntime.so"},
		}
		switch goarch {
		case "arm64":
			artifact.platform = "linux-aarch64"
			return artifact, nil
		case "amd64":
			artifact.platform = "linux-x64"
			return artifact, nil
		}
	case "windows":
		artifact := runtimeArtifact{
			primaryLibrary: "onnxruntime.dll",
			libraryGlob:    "onnxruntime*.dll",
			defaultPaths:   []string{"onnxruntime.dll"},
		}
		switch goarch {
		case "amd64":
			artifact.platform = "win-x64"
			return artifact, nil
		case "arm64":
			artifact.platform = "win-arm64"
			return artifact, nil
		}
	}

	return runtimeArtifact{}, fmt.Errorf("unsupported platform for ONNX Runtime: GOOS=%s GOARCH=%s", goos, goarch)
}

func (a runtimeArtifact) installName(version string) string {
	return fmt.Sprintf("onnxruntime-%s-%s", a.platform, version)
}

// findInstalledLibrary looks in <installDir>/lib for the unversioned library name first,
// then for versioned names in lexical order. A missing lib directory or an empty one
// yields errSharedLibraryNotFound; candidates that exist but are unusable are reported.
func findInstalledLibrary(installDir string, artifact runtimeArtifact) (string, error) {
	libDir := filepath.Join(installDir, "lib")

	matches, err := filepath.Glob(filepath.Join(libDir, artifact.libraryGlob))
	if err != nil {
		return "", fmt.Errorf("bad library pattern %q: %w", artifact.libraryGlob, err)
	}
	sort.Strings(matches)
	candidates := append([]string{filepath.Join(libDir, artifact.primaryLibrary)}, matches...)

	var rejected []error
	seen := make(map[string]bool, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		path, err := checkLibraryFile(candidate)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			rejected = append(rejected, err)
		}
	}

	if len(rejected) > 0 {
		return "", fmt.Errorf("ONNX Runtime candidates in %q exist but none are valid: %w", libDir, errors.Join(rejected...))
	}
	return "", errSharedLibraryNotFound
}

// checkLibraryFile returns the absolute path of path when it names a non-empty regular file.
func checkLibraryFile(path string) (string, error) {
	if path = strings.TrimSpace(path); path == "" {
		return "", errors.New("library path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}

	fi, err := os.Stat(abs)
	switch {
	case err != nil:
		return "", fmt.Errorf("failed to stat library file %q: %w", abs, err)
	case fi.IsDir():
		return "", fmt.Errorf("%q is a directory, not a shared library", abs)
	case fi.Size() == 0:
		return "", fmt.Errorf("%q is an empty file", abs)
	}
	return abs, nil
}

// DefaultCacheDir returns the per-user directory searched for unpacked ONNX Runtime releases:
// <user cache>/onnx-channel/onnxruntime, or the same under the temp dir.
func DefaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "onnx-channel", "onnxruntime")
}

// NormalizeVersion trims a leading "v" and checks the x.y.z layout.
func NormalizeVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	version = strings.TrimPrefix(version, "v")
	if version == "" {
		return "", fmt.Errorf("ONNX Runtime version is empty")
	}

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("ONNX Runtime version must have format x.y.z, got %q", version)
	}

	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("ONNX Runtime version must have format x.y.z, got %q", version)
		}
		if _, err := strconv.Atoi(part); err != nil {
			return "", fmt.Errorf("ONNX Runtime version must have numeric segments, got %q", version)
		}
	}

	return version, nil
}
