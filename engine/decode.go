package engine

import "fmt"

// mapValue is a native map output whose values can be read as float64.
type mapValue interface {
	FloatValues() ([]float64, error)
}

// sequenceValue is a native sequence output. Elements that are maps implement mapValue.
type sequenceValue interface {
	Elements() ([]any, error)
}

// decodeNative classifies a native output value. Sequence elements that are not maps
// are skipped.
func decodeNative(v any) (OutputValue, error) {
	switch v := v.(type) {
	case nil:
		return OutputValue{Kind: OutputUnknown, Description: "<nil>"}, nil
	case mapValue:
		values, err := v.FloatValues()
		if err != nil {
			return OutputValue{}, err
		}
		return OutputValue{Kind: OutputMap, Maps: [][]float64{values}}, nil
	case sequenceValue:
		items, err := v.Elements()
		if err != nil {
			return OutputValue{}, fmt.Errorf("failed to read sequence output: %w", err)
		}
		maps := make([][]float64, 0, len(items))
		for _, item := range items {
			m, ok := item.(mapValue)
			if !ok {
				continue
			}
			values, err := m.FloatValues()
			if err != nil {
				return OutputValue{}, err
			}
			maps = append(maps, values)
		}
		return OutputValue{Kind: OutputMapSequence, Maps: maps}, nil
	default:
		return OutputValue{Kind: OutputUnknown, Description: fmt.Sprintf("%T", v)}, nil
	}
}

// widenFloats copies floating point map values as float64. Anything else yields an
// empty, non-nil slice.
func widenFloats(data any) []float64 {
	switch d := data.(type) {
	case []float32:
		out := make([]float64, len(d))
		for i, v := range d {
			out[i] = float64(v)
		}
		return out
	case []float64:
		return append(make([]float64, 0, len(d)), d...)
	default:
		return []float64{}
	}
}
