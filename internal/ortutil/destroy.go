// Package ortutil holds small helpers for releasing native ONNX Runtime resources.
package ortutil

import (
	"errors"
	"reflect"
)

// Destroyer is implemented by native resources that must be explicitly destroyed.
type Destroyer interface {
	Destroy() error
}

// DestroyAll destroys each resource and joins all non-nil errors.
// Typed nil values are skipped.
func DestroyAll(resources ...Destroyer) error {
	var err error
	for _, resource := range resources {
		if isNil(resource) {
			continue
		}
		if destroyErr := resource.Destroy(); destroyErr != nil {
			err = errors.Join(err, destroyErr)
		}
	}
	return err
}

// DestroySlice destroys every element of values, in order, with DestroyAll semantics.
func DestroySlice[T Destroyer](values []T) error {
	resources := make([]Destroyer, 0, len(values))
	for _, v := range values {
		resources = append(resources, v)
	}
	return DestroyAll(resources...)
}

func isNil(resource Destroyer) bool {
	if resource == nil {
		return true
	}
	value := reflect.ValueOf(resource)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
