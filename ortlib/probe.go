package ortlib

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// APIVersion is the ONNX Runtime C API version requested when probing a library.
const APIVersion = 22

// apiBase mirrors the OrtApiBase struct returned by OrtGetApiBase.
type apiBase struct {
	GetApi           uintptr
	GetVersionString uintptr
}

// Info describes a shared library that answered the probe.
type Info struct {
	Path    string
	Version string
	// APISupported is false when the library is older than APIVersion.
	APISupported bool
}

// Probe loads the shared library at path, asks it for its version string and
// whether it serves APIVersion, then unloads it.
func Probe(path string) (info Info, err error) {
	path, err = checkLibraryFile(path)
	if err != nil {
		return Info{}, err
	}
	info.Path = path

	lib, err := openDynLib(path)
	if err != nil {
		return info, fmt.Errorf("failed to load ONNX Runtime library %q: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, lib.close())
	}()

	sym, err := lib.symbol("OrtGetApiBase")
	if err != nil {
		return info, fmt.Errorf("library %q does not export OrtGetApiBase: %w", path, err)
	}

	basePtr, _, _ := purego.SyscallN(sym)
	if basePtr == 0 {
		return info, fmt.Errorf("OrtGetApiBase returned null")
	}
	base := (*apiBase)(unsafe.Pointer(basePtr))

	if base.GetVersionString != 0 {
		versionPtr, _, _ := purego.SyscallN(base.GetVersionString)
		info.Version = CstringToGo(versionPtr)
	}
	if base.GetApi != 0 {
		apiPtr, _, _ := purego.SyscallN(base.GetApi, uintptr(APIVersion))
		info.APISupported = apiPtr != 0
	}

	return info, nil
}
