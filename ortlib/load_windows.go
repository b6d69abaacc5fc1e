//go:build windows

package ortlib

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// dynLib is a DLL opened for symbol lookup.
type dynLib struct {
	path   string
	handle windows.Handle
}

func openDynLib(path string) (*dynLib, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, fmt.Errorf("LoadLibrary %q returned a null handle", path)
	}
	return &dynLib{path: path, handle: h}, nil
}

func (l *dynLib) symbol(name string) (uintptr, error) {
	return windows.GetProcAddress(l.handle, name)
}

func (l *dynLib) close() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	return windows.FreeLibrary(h)
}
