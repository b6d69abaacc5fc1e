//go:build !windows

package ortlib

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// dynLib is a shared library opened for symbol lookup.
type dynLib struct {
	path   string
	handle uintptr
}

func openDynLib(path string) (*dynLib, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, fmt.Errorf("dlopen %q returned a null handle", path)
	}
	return &dynLib{path: path, handle: h}, nil
}

func (l *dynLib) symbol(name string) (uintptr, error) {
	return purego.Dlsym(l.handle, name)
}

func (l *dynLib) close() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	return purego.Dlclose(h)
}
