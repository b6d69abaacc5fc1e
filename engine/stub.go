//go:build !cgo

package engine

// Open always fails without cgo; the ONNX Runtime bindings need it.
func Open(opts ...Option) (Runtime, error) {
	if _, err := newConfig(opts...); err != nil {
		return nil, err
	}
	return nil, ErrUnavailable
}
