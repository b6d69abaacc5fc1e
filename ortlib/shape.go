package ortlib

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shape is a tensor shape in int64 dimensions, the layout ONNX Runtime expects.
type Shape []int64

// ParseShape parses a comma-separated shape string (for example: "1,4").
func ParseShape(raw string) (Shape, error) {
	parts := strings.Split(raw, ",")
	shape := make(Shape, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty dimension")
		}

		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", part, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		shape = append(shape, dim)
	}

	return shape, nil
}

// ParseFloats parses a comma-separated list of numbers into float32 values.
func ParseFloats(raw string) ([]float32, error) {
	parts := strings.Split(raw, ",")
	values := make([]float32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty value")
		}
		v, err := strconv.ParseFloat(part, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse value %q: %w", part, err)
		}
		values = append(values, float32(v))
	}
	return values, nil
}

// ShapeElementCount returns the product of all dimensions.
// An empty shape is a scalar and counts as one element.
func ShapeElementCount(shape Shape) (int, error) {
	count := int64(1)
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("dimension %d must be >= 0, got %d", i, dim)
		}
		if dim == 0 {
			return 0, nil
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", []int64(shape))
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v overflows element count", []int64(shape))
	}
	return int(count), nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.FormatInt(dim, 10)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
