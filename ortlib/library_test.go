package ortlib

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveRuntimeArtifact(t *testing.T) {
	tests := []struct {
		name         string
		goos         string
		goarch       string
		wantPlatform string
		wantPrimary  string
		wantGlob     string
		wantErr      bool
	}{
		{name: "darwin arm64", goos: "darwin", goarch: "arm64", wantPlatform: "osx-arm64", wantPrimary: "libonnxruntime.dylib", wantGlob: "libonnxruntime*.dylib"},
		{name: "darwin amd64", goos: "darwin", goarch: "amd64", wantPlatform: "osx-x86_64", wantPrimary: "libonnxruntime.dylib", wantGlob: "libonnxruntime*.dylib"},
		{name: "linux amd64", goos: "linux", goarch: "amd64", wantPlatform: "linux-x64", wantPrimary: "libonnxruntime.so", wantGlob: "libonnxruntime.so*"},
		{name: "linux arm64", goos: "linux", goarch: "arm64", wantPlatform: "linux-aarch64", wantPrimary: "libonnxruntime.so", wantGlob: "libonnxruntime.so*"},
		{name: "windows amd64", goos: "windows", goarch: "amd64", wantPlatform: "win-x64", wantPrimary: "onnxruntime.dll", wantGlob: "onnxruntime*.dll"},
		{name: "windows arm64", goos: "windows", goarch: "arm64", wantPlatform: "win-arm64", wantPrimary: "onnxruntime.dll", wantGlob: "onnxruntime*.dll"},
		{name: "unsupported", goos: "linux", goarch: "386", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveRuntimeArtifact(tc.goos, tc.goarch)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.platform != tc.wantPlatform || got.primaryLibrary != tc.wantPrimary || got.libraryGlob != tc.wantGlob {
				t.Fatalf("unexpected artifact resolution: got %+v", got)
			}
			if len(got.defaultPaths) == 0 {
				t.Fatalf("expected platform default paths")
			}
		})
	}
}

func TestResolveLibraryWithExplicitPath(t *testing.T) {
	clearLibraryEnv(t)

	libPath := writeLibrary(t, t.TempDir(), "libonnxruntime.so")

	resolved, err := ResolveLibrary(WithLibraryPath(libPath))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := filepath.Abs(libPath)
	if resolved != want {
		t.Fatalf("unexpected resolved path: got %q, want %q", resolved, want)
	}
}

func TestResolveLibraryFromEnvPath(t *testing.T) {
	clearLibraryEnv(t)

	libPath := writeLibrary(t, t.TempDir(), "libonnxruntime.so")
	t.Setenv("ONNXRUNTIME_LIB_PATH", libPath)

	resolved, err := ResolveLibrary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != libPath {
		t.Fatalf("unexpected resolved path: got %q, want %q", resolved, libPath)
	}
}

func TestResolveLibraryOptionOverridesEnv(t *testing.T) {
	clearLibraryEnv(t)

	dir := t.TempDir()
	envPath := writeLibrary(t, dir, "env-libonnxruntime.so")
	optPath := writeLibrary(t, dir, "opt-libonnxruntime.so")
	t.Setenv("ONNXRUNTIME_LIB_PATH", envPath)

	resolved, err := ResolveLibrary(WithLibraryPath(optPath))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != optPath {
		t.Fatalf("expected option path to win: got %q, want %q", resolved, optPath)
	}
}

func TestResolveLibraryFromCacheInstallDir(t *testing.T) {
	clearLibraryEnv(t)

	cacheDir := t.TempDir()
	libDir := filepath.Join(cacheDir, "onnxruntime-linux-x64-1.22.0", "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatalf("failed to create lib directory: %v", err)
	}
	want := writeLibrary(t, libDir, "libonnxruntime.so.1.22.0")

	resolved, err := ResolveLibrary(
		WithCacheDir(cacheDir),
		WithVersion("v1.22.0"),
		WithoutPlatformDefaults(),
		withPlatform("linux", "amd64"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != want {
		t.Fatalf("unexpected resolved path: got %q, want %q", resolved, want)
	}
}

func TestResolveLibraryNotFound(t *testing.T) {
	clearLibraryEnv(t)

	_, err := ResolveLibrary(
		WithCacheDir(t.TempDir()),
		WithoutPlatformDefaults(),
		withPlatform("linux", "amd64"),
	)
	if err == nil {
		t.Fatalf("expected not-found error")
	}
	if !IsLibraryNotFound(err) {
		t.Fatalf("expected not-found error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "ONNXRUNTIME_LIB_PATH") {
		t.Fatalf("expected hint about ONNXRUNTIME_LIB_PATH, got: %v", err)
	}
}

func TestFindInstalledLibraryDistinguishesInvalidCandidates(t *testing.T) {
	installDir := t.TempDir()
	libDir := filepath.Join(installDir, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatalf("failed to create lib directory: %v", err)
	}

	if err := os.WriteFile(filepath.Join(libDir, "libonnxruntime.so"), nil, 0o644); err != nil {
		t.Fatalf("failed to create invalid primary library: %v", err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "libonnxruntime.so.1"), nil, 0o644); err != nil {
		t.Fatalf("failed to create invalid alternative library: %v", err)
	}

	_, err := findInstalledLibrary(installDir, runtimeArtifact{
		primaryLibrary: "libonnxruntime.so",
		libraryGlob:    "libonnxruntime.so*",
	})
	if err == nil {
		t.Fatalf("expected invalid-candidate error")
	}
	if errors.Is(err, errSharedLibraryNotFound) {
		t.Fatalf("expected invalid-candidate error, got not-found: %v", err)
	}
	if !strings.Contains(err.Error(), "none are valid") {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestFindInstalledLibraryReturnsNotFoundWhenMissing(t *testing.T) {
	installDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(installDir, "lib"), 0o755); err != nil {
		t.Fatalf("failed to create lib directory: %v", err)
	}

	_, err := findInstalledLibrary(installDir, runtimeArtifact{
		primaryLibrary: "libonnxruntime.so",
		libraryGlob:    "libonnxruntime.so*",
	})
	if !errors.Is(err, errSharedLibraryNotFound) {
		t.Fatalf("expected not-found error, got: %v", err)
	}
}

func TestLibraryOptionsRejectEmpty(t *testing.T) {
	var cfg libraryConfig

	if err := WithLibraryPath("   ")(&cfg); err == nil {
		t.Fatalf("expected empty library path validation error")
	}
	if err := WithCacheDir("   ")(&cfg); err == nil {
		t.Fatalf("expected empty cache dir validation error")
	}
	if err := WithVersion("   ")(&cfg); err == nil {
		t.Fatalf("expected empty version validation error")
	}
}

func TestResolveLibraryConfigRespectsEnvOverrides(t *testing.T) {
	clearLibraryEnv(t)
	t.Setenv("ONNXRUNTIME_LIB_PATH", " ./libonnxruntime.so ")
	t.Setenv("ONNXRUNTIME_CACHE_DIR", " ./cache-dir ")
	t.Setenv("ONNXRUNTIME_VERSION", " v1.2.3 ")

	cfg, err := resolveLibraryConfig()
	if err != nil {
		t.Fatalf("unexpected resolveLibraryConfig error: %v", err)
	}
	if cfg.libraryPath != "./libonnxruntime.so" {
		t.Fatalf("unexpected library path: got %q", cfg.libraryPath)
	}
	if cfg.cacheDir != filepath.Clean("./cache-dir") {
		t.Fatalf("unexpected cache dir: got %q, want %q", cfg.cacheDir, filepath.Clean("./cache-dir"))
	}
	if cfg.version != "1.2.3" {
		t.Fatalf("unexpected normalized version: got %q, want 1.2.3", cfg.version)
	}
}

func TestResolveLibraryConfigRejectsBadVersion(t *testing.T) {
	clearLibraryEnv(t)
	t.Setenv("ONNXRUNTIME_VERSION", "latest")

	if _, err := resolveLibraryConfig(); err == nil {
		t.Fatalf("expected malformed version error")
	}
}

func TestCheckLibraryFile(t *testing.T) {
	if _, err := checkLibraryFile("   "); err == nil {
		t.Fatalf("expected empty library path error")
	}

	dir := t.TempDir()
	if _, err := checkLibraryFile(dir); err == nil {
		t.Fatalf("expected directory library path error")
	}

	zeroPath := filepath.Join(dir, "libonnxruntime-empty.so")
	if err := os.WriteFile(zeroPath, nil, 0o644); err != nil {
		t.Fatalf("failed to create zero-size library file: %v", err)
	}
	if _, err := checkLibraryFile(zeroPath); err == nil {
		t.Fatalf("expected zero-size library file error")
	}

	validPath := writeLibrary(t, dir, "libonnxruntime.so")
	resolved, err := checkLibraryFile(validPath)
	if err != nil {
		t.Fatalf("unexpected valid library file error: %v", err)
	}
	if resolved != validPath {
		t.Fatalf("unexpected resolved path: got %q, want %q", resolved, validPath)
	}
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		expectErr bool
	}{
		{name: "plain", in: "1.23.1", want: "1.23.1"},
		{name: "prefixed", in: "v1.23.1", want: "1.23.1"},
		{name: "trimmed", in: " 1.2.3 ", want: "1.2.3"},
		{name: "empty", in: "", expectErr: true},
		{name: "too few segments", in: "1.2", expectErr: true},
		{name: "too many segments", in: "1.2.3.4", expectErr: true},
		{name: "empty segment", in: "1..3", expectErr: true},
		{name: "non-numeric", in: "1.a.3", expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeVersion(tc.in)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected normalized version: got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDefaultCacheDirIsProjectScoped(t *testing.T) {
	dir := DefaultCacheDir()
	want := filepath.Join("onnx-channel", "onnxruntime")
	if !strings.HasSuffix(dir, want) {
		t.Fatalf("expected cache dir to end with %q, got %q", want, dir)
	}
}

func clearLibraryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ONNXRUNTIME_LIB_PATH", "")
	t.Setenv("ONNXRUNTIME_CACHE_DIR", "")
	t.Setenv("ONNXRUNTIME_VERSION", "")
}

func writeLibrary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("onnxruntime"), 0o644); err != nil {
		t.Fatalf("failed to write test library: %v", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("failed to resolve test library path: %v", err)
	}
	return abs
}
